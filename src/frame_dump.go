package main

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ====== Frame dump utility for debugging ======

// dump_frame renders a frame layer by layer for debug logging
func dump_frame(pkt []byte) string {
	if len(pkt) == 0 {
		return "(empty frame)"
	}

	packet := gopacket.NewPacket(pkt, layers.LayerTypeEthernet, gopacket.Default)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("---- frame, %d bytes ----\n", len(pkt)))
	for _, layer := range packet.Layers() {
		sb.WriteString(fmt.Sprintf("  %s\n", layer.LayerType()))
	}
	sb.WriteString(packet.String())
	sb.WriteString(dump_raw_bytes(pkt))

	return sb.String()
}

// dump_raw_bytes renders a classic hex + ASCII dump
func dump_raw_bytes(pkt []byte) string {
	var sb strings.Builder

	for offset := 0; offset < len(pkt); offset += 16 {
		end := offset + 16
		if end > len(pkt) {
			end = len(pkt)
		}
		line := pkt[offset:end]

		sb.WriteString(fmt.Sprintf("  %04x  ", offset))

		for i := 0; i < 16; i++ {
			if i < len(line) {
				sb.WriteString(fmt.Sprintf("%02x ", line[i]))
			} else {
				sb.WriteString("   ")
			}
			if i == 7 {
				sb.WriteString(" ")
			}
		}

		sb.WriteString(" |")
		for _, b := range line {
			if b >= 0x20 && b <= 0x7e {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}

	return sb.String()
}
