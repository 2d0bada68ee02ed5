package main

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// ====== ICMP responder ======

// ICMP message types a router produces or answers
const (
	ICMPTYPE_ECHO_REPLY       = 0
	ICMPTYPE_DEST_UNREACHABLE = 3
	ICMPTYPE_ECHO_REQUEST     = 8
	ICMPTYPE_TIME_EXCEEDED    = 11
)

// Codes for ICMPTYPE_DEST_UNREACHABLE
const (
	ICMPCODE_DEST_NET_UNREACHABLE      = 0
	ICMPCODE_DEST_HOST_UNREACHABLE     = 1
	ICMPCODE_DEST_PROTOCOL_UNREACHABLE = 2
	ICMPCODE_DEST_PORT_UNREACHABLE     = 3
)

// Type + code + checksum + 4-byte rest-of-header
const ICMP_HDR_SIZE = 8

// ICMP_ERROR_PAYLOAD_TAIL is how much of the offending datagram's
// payload an ICMP error carries beyond its IP header (RFC 792).
const ICMP_ERROR_PAYLOAD_TAIL = 8

// router_send_icmp builds and transmits the ICMP response that
// trigger_frame provoked, back out the interface it arrived on.
//
// Echo replies mirror the original identifier, sequence number and
// payload. Destination unreachable and time exceeded carry the
// offending datagram's IP header plus the first 8 bytes of its
// payload, with a zeroed rest-of-header.
func router_send_icmp(rtr *Router, icmp_type uint8, icmp_code uint8, trigger_frame *InboundFrame) error {
	if rtr == nil || trigger_frame == nil || trigger_frame.in_intf == nil {
		return fmt.Errorf("nil parameter in router_send_icmp")
	}
	if trigger_frame.length < ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE {
		return nil
	}

	frame_eth_hdr, err := deserialize_ethernet_header(trigger_frame.raw[:trigger_frame.length])
	if err != nil {
		return nil
	}

	frame_ip_hdr, err := DeserializeIPHeader(trigger_frame.raw[ETHERNET_HDR_SIZE:trigger_frame.length])
	if err != nil {
		return nil
	}

	frame_ip_hdr_len := GetIPHeaderLen(frame_ip_hdr)
	if trigger_frame.length < ETHERNET_HDR_SIZE+frame_ip_hdr_len {
		return nil
	}

	in_intf := trigger_frame.in_intf

	var icmp_body []byte

	if icmp_type == ICMPTYPE_ECHO_REPLY || icmp_type == ICMPTYPE_ECHO_REQUEST {
		// Mirror the whole original ICMP message, flipping the type
		icmp_off := ETHERNET_HDR_SIZE + frame_ip_hdr_len
		icmp_len := int(frame_ip_hdr.TotalLen) - frame_ip_hdr_len
		if icmp_len > trigger_frame.length-icmp_off {
			icmp_len = trigger_frame.length - icmp_off
		}
		if icmp_len < ICMP_HDR_SIZE {
			// Not enough of the original message to echo
			return nil
		}

		icmp_body = make([]byte, icmp_len)
		copy(icmp_body, trigger_frame.raw[icmp_off:icmp_off+icmp_len])
		icmp_body[0] = icmp_type
		icmp_body[1] = icmp_code
	} else {
		// Offending IP header plus the first 8 bytes of its payload
		copy_len := frame_ip_hdr_len + ICMP_ERROR_PAYLOAD_TAIL
		if copy_len > trigger_frame.length-ETHERNET_HDR_SIZE {
			copy_len = trigger_frame.length - ETHERNET_HDR_SIZE
		}

		icmp_body = make([]byte, ICMP_HDR_SIZE+copy_len)
		icmp_body[0] = icmp_type
		icmp_body[1] = icmp_code
		// Bytes 4-7 (rest-of-header) stay zero
		copy(icmp_body[ICMP_HDR_SIZE:], trigger_frame.raw[ETHERNET_HDR_SIZE:ETHERNET_HDR_SIZE+copy_len])
	}

	// Checksum over the full ICMP message
	icmp_body[2] = 0
	icmp_body[3] = 0
	binary.BigEndian.PutUint16(icmp_body[2:4], internet_checksum(icmp_body))

	reply_ip_hdr := &IPHeader{}
	InitializeIPHeader(reply_ip_hdr)
	reply_ip_hdr.Protocol = PROTO_ICMP
	reply_ip_hdr.SrcIP = ip_addr_to_uint32(in_intf.GetIP())
	reply_ip_hdr.DstIP = frame_ip_hdr.SrcIP
	reply_ip_hdr.TotalLen = uint16(IP_HDR_MIN_SIZE + len(icmp_body))

	ip_bytes := SerializeIPHeader(reply_ip_hdr)
	finalize_ip_checksum(ip_bytes, IP_HDR_MIN_SIZE)

	reply_eth_hdr := EthernetHeader{
		dst_mac:   frame_eth_hdr.src_mac,
		src_mac:   in_intf.mac_addr,
		ethertype: ETHERTYPE_IP,
	}

	reply := make([]byte, 0, ETHERNET_HDR_SIZE+len(ip_bytes)+len(icmp_body))
	reply = append(reply, serialize_ethernet_header(&reply_eth_hdr)...)
	reply = append(reply, ip_bytes...)
	reply = append(reply, icmp_body...)

	LogDebug("%s: ICMP type %d code %d to %s on %s",
		get_router_name(rtr), icmp_type, icmp_code,
		ip_uint32_to_string(frame_ip_hdr.SrcIP), get_interface_name(in_intf))

	if err := rtr.send_frame(in_intf, reply); err != nil {
		LogWarn("%s: ICMP transmit on %s failed: %v",
			get_router_name(rtr), get_interface_name(in_intf), err)
		return nil
	}

	metric_icmp_sent.WithLabelValues(get_router_name(rtr),
		strconv.Itoa(int(icmp_type))).Inc()
	return nil
}
