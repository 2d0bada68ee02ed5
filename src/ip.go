package main

import (
	"encoding/binary"
	"fmt"
)

// IP protocol numbers
const (
	PROTO_ICMP = 1
	PROTO_TCP  = 6
	PROTO_UDP  = 17
)

const (
	IP_HDR_MIN_SIZE = 20 // Fixed header, ihl = 5, no options
	IP_DEFAULT_TTL  = 64
)

// IPHeader represents the IPv4 header (20 bytes without options)
type IPHeader struct {
	Version    uint8  // 4 bits: IP version (4 for IPv4)
	IHL        uint8  // 4 bits: Header length in 32-bit words (5 for 20-byte header without options)
	TOS        uint8  // Type of Service
	TotalLen   uint16 // Total length of IP packet (header + payload)
	ID         uint16 // Identification
	Flags      uint8  // 3 bits: Unused, DF, MF flags
	FragOffset uint16 // 13 bits: Fragment offset
	TTL        uint8  // Time to Live
	Protocol   uint8  // Protocol (1=ICMP, 6=TCP, 17=UDP, etc.)
	Checksum   uint16 // Header checksum
	SrcIP      uint32 // Source IP address
	DstIP      uint32 // Destination IP address
}

// InitializeIPHeader initializes an IP header with the values this
// router generates: no options, no fragmentation, TTL 64.
func InitializeIPHeader(hdr *IPHeader) {
	hdr.Version = 4
	hdr.IHL = 5 // 5 * 4 = 20 bytes (no options)
	hdr.TOS = 0
	hdr.TotalLen = 0 // To be filled by caller
	hdr.ID = 0
	hdr.Flags = 0
	hdr.FragOffset = 0
	hdr.TTL = IP_DEFAULT_TTL
	hdr.Protocol = 0 // To be filled by caller
	hdr.Checksum = 0 // Computed by finalize_ip_checksum
	hdr.SrcIP = 0    // To be filled by caller
	hdr.DstIP = 0    // To be filled by caller
}

// GetIPHeaderLen returns the IP header length in bytes
func GetIPHeaderLen(hdr *IPHeader) int {
	return int(hdr.IHL) * 4
}

// SerializeIPHeader converts IP header to bytes (20 bytes, ihl = 5)
func SerializeIPHeader(hdr *IPHeader) []byte {
	buf := make([]byte, IP_HDR_MIN_SIZE)

	// Byte 0: Version (4 bits) + IHL (4 bits)
	buf[0] = (hdr.Version << 4) | (hdr.IHL & 0x0F)

	// Byte 1: TOS
	buf[1] = hdr.TOS

	// Bytes 2-3: Total Length
	binary.BigEndian.PutUint16(buf[2:4], hdr.TotalLen)

	// Bytes 4-5: Identification
	binary.BigEndian.PutUint16(buf[4:6], hdr.ID)

	// Bytes 6-7: Flags (3 bits) + Fragment Offset (13 bits)
	flagsAndOffset := (uint16(hdr.Flags) << 13) | (hdr.FragOffset & 0x1FFF)
	binary.BigEndian.PutUint16(buf[6:8], flagsAndOffset)

	// Byte 8: TTL
	buf[8] = hdr.TTL

	// Byte 9: Protocol
	buf[9] = hdr.Protocol

	// Bytes 10-11: Checksum
	binary.BigEndian.PutUint16(buf[10:12], hdr.Checksum)

	// Bytes 12-15: Source IP
	binary.BigEndian.PutUint32(buf[12:16], hdr.SrcIP)

	// Bytes 16-19: Destination IP
	binary.BigEndian.PutUint32(buf[16:20], hdr.DstIP)

	return buf
}

// DeserializeIPHeader parses bytes into IP header. Any ihl >= 5 is
// tolerated on ingress; the payload then starts at ihl*4.
func DeserializeIPHeader(buf []byte) (*IPHeader, error) {
	if len(buf) < IP_HDR_MIN_SIZE {
		return nil, fmt.Errorf("buffer too small for IP header: need %d bytes, got %d",
			IP_HDR_MIN_SIZE, len(buf))
	}

	hdr := &IPHeader{}

	// Byte 0: Version (4 bits) + IHL (4 bits)
	hdr.Version = (buf[0] >> 4) & 0x0F
	hdr.IHL = buf[0] & 0x0F

	if hdr.IHL < 5 {
		return nil, fmt.Errorf("invalid IP header length: ihl=%d", hdr.IHL)
	}

	// Byte 1: TOS
	hdr.TOS = buf[1]

	// Bytes 2-3: Total Length
	hdr.TotalLen = binary.BigEndian.Uint16(buf[2:4])

	// Bytes 4-5: Identification
	hdr.ID = binary.BigEndian.Uint16(buf[4:6])

	// Bytes 6-7: Flags (3 bits) + Fragment Offset (13 bits)
	flagsAndOffset := binary.BigEndian.Uint16(buf[6:8])
	hdr.Flags = uint8((flagsAndOffset >> 13) & 0x07)
	hdr.FragOffset = flagsAndOffset & 0x1FFF

	// Byte 8: TTL
	hdr.TTL = buf[8]

	// Byte 9: Protocol
	hdr.Protocol = buf[9]

	// Bytes 10-11: Checksum
	hdr.Checksum = binary.BigEndian.Uint16(buf[10:12])

	// Bytes 12-15: Source IP
	hdr.SrcIP = binary.BigEndian.Uint32(buf[12:16])

	// Bytes 16-19: Destination IP
	hdr.DstIP = binary.BigEndian.Uint32(buf[16:20])

	return hdr, nil
}

// finalize_ip_checksum recomputes the header checksum of the serialized
// IP header at the start of buf. hdr_len is the header length in bytes.
func finalize_ip_checksum(buf []byte, hdr_len int) {
	if len(buf) < hdr_len {
		return
	}

	buf[10] = 0
	buf[11] = 0
	cksum := internet_checksum(buf[:hdr_len])
	binary.BigEndian.PutUint16(buf[10:12], cksum)
}
