package main

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ====== Test harness ======

// frame_recorder captures frames the router hands to the I/O layer
type frame_recorder struct {
	frames []recorded_frame
}

type recorded_frame struct {
	oif *Interface
	pkt []byte
}

func (rec *frame_recorder) record(oif *Interface, pkt []byte) error {
	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	rec.frames = append(rec.frames, recorded_frame{oif: oif, pkt: buf})
	return nil
}

func (rec *frame_recorder) reset() {
	rec.frames = nil
}

// arp_request_count counts captured ARP requests
func (rec *frame_recorder) arp_request_count() int {
	count := 0
	for _, f := range rec.frames {
		if len(f.pkt) < ETHERNET_HDR_SIZE+ARP_HDR_SIZE {
			continue
		}
		eth_hdr, _ := deserialize_ethernet_header(f.pkt)
		if eth_hdr.ethertype != ETHERTYPE_ARP {
			continue
		}
		arp_hdr, _ := deserialize_arp_header(f.pkt[ETHERNET_HDR_SIZE:])
		if arp_hdr.op_code == ARP_OP_REQUEST {
			count++
		}
	}
	return count
}

// new_test_router builds the router of the end-to-end scenarios:
// eth0 10.0.0.1/24 (02:00:00:00:00:01), eth1 192.168.1.1/24
// (02:00:00:00:00:02), connected routes for both subnets plus a
// default route via 10.0.0.254 on eth0. No sockets, no workers; the
// recorder stands in for the I/O layer and tests drive ticks directly.
func new_test_router(t *testing.T) (*Router, *frame_recorder) {
	t.Helper()

	rtr := &Router{}
	copy(rtr.router_name[:], "r1")
	rtr.rt_table = InitRoutingTable()
	rtr.arp_cache_timeout = ARP_CACHE_TIMEOUT_DEFAULT
	rtr.arp_cache_capacity = ARP_CACHE_CAPACITY_DEFAULT
	rtr.arp_retry_interval = ARP_RETRY_INTERVAL_DEFAULT
	rtr.arp_max_retries = ARP_MAX_RETRIES_DEFAULT

	rec := &frame_recorder{}
	rtr.send_frame = rec.record

	eth0 := create_router_interface(rtr, "eth0",
		test_mac("02:00:00:00:00:01"), test_ip("10.0.0.1"), 24)
	eth1 := create_router_interface(rtr, "eth1",
		test_mac("02:00:00:00:00:02"), test_ip("192.168.1.1"), 24)
	if eth0 == nil || eth1 == nil {
		t.Fatal("failed to create test interfaces")
	}

	must_add_route(t, rtr, "10.0.0.0", 24, "", eth0)
	must_add_route(t, rtr, "192.168.1.0", 24, "", eth1)
	must_add_route(t, rtr, "0.0.0.0", 0, "10.0.0.254", eth0)

	return rtr, rec
}

func must_add_route(t *testing.T, rtr *Router, dest string, mask_len uint8, gateway string, oif *Interface) {
	t.Helper()

	var dest_ip, gw_ip uint32
	if !ip_addr_str_to_uint32(dest, &dest_ip) {
		t.Fatalf("bad dest %s", dest)
	}
	if gateway != "" && !ip_addr_str_to_uint32(gateway, &gw_ip) {
		t.Fatalf("bad gateway %s", gateway)
	}
	if err := rtr.rt_table.AddRoute(dest_ip, mask_len, gw_ip, oif); err != nil {
		t.Fatalf("AddRoute(%s/%d): %v", dest, mask_len, err)
	}
}

func test_mac(s string) MacAddr {
	var mac MacAddr
	if !set_mac_addr(&mac, s) {
		panic("bad test MAC " + s)
	}
	return mac
}

func test_ip(s string) IpAddr {
	var ip IpAddr
	if !set_ip_addr(&ip, s) {
		panic("bad test IP " + s)
	}
	return ip
}

// build_ip_frame assembles a complete Ethernet+IPv4 frame with a valid
// IP header checksum
func build_ip_frame(dst_mac, src_mac MacAddr, src_ip, dst_ip string, proto uint8, ttl uint8, payload []byte) []byte {
	eth_hdr := EthernetHeader{
		dst_mac:   dst_mac,
		src_mac:   src_mac,
		ethertype: ETHERTYPE_IP,
	}

	ip_hdr := &IPHeader{}
	InitializeIPHeader(ip_hdr)
	ip_hdr.Protocol = proto
	ip_hdr.TTL = ttl
	ip_addr_str_to_uint32(src_ip, &ip_hdr.SrcIP)
	ip_addr_str_to_uint32(dst_ip, &ip_hdr.DstIP)
	ip_hdr.TotalLen = uint16(IP_HDR_MIN_SIZE + len(payload))

	ip_bytes := SerializeIPHeader(ip_hdr)
	finalize_ip_checksum(ip_bytes, IP_HDR_MIN_SIZE)

	frame := make([]byte, 0, ETHERNET_HDR_SIZE+len(ip_bytes)+len(payload))
	frame = append(frame, serialize_ethernet_header(&eth_hdr)...)
	frame = append(frame, ip_bytes...)
	frame = append(frame, payload...)
	return frame
}

// build_icmp_echo builds an ICMP echo message with a valid checksum
func build_icmp_echo(icmp_type uint8, identifier, seq uint16, data []byte) []byte {
	msg := make([]byte, ICMP_HDR_SIZE+len(data))
	msg[0] = icmp_type
	binary.BigEndian.PutUint16(msg[4:6], identifier)
	binary.BigEndian.PutUint16(msg[6:8], seq)
	copy(msg[ICMP_HDR_SIZE:], data)
	binary.BigEndian.PutUint16(msg[2:4], internet_checksum(msg))
	return msg
}

// build_arp_frame assembles a complete Ethernet+ARP frame
func build_arp_frame(eth_dst MacAddr, op uint16, src_mac MacAddr, src_ip string, dst_mac MacAddr, dst_ip string) []byte {
	arp_hdr := &arp_hdr_t{
		hw_type:        ARP_HW_TYPE_ETHERNET,
		proto_type:     ARP_PROTO_TYPE_IP,
		hw_addr_len:    ARP_HW_ADDR_LEN,
		proto_addr_len: ARP_PROTO_ADDR_LEN,
		op_code:        op,
		src_mac:        src_mac,
		dst_mac:        dst_mac,
	}
	ip_addr_str_to_uint32(src_ip, &arp_hdr.src_ip)
	ip_addr_str_to_uint32(dst_ip, &arp_hdr.dst_ip)

	eth_hdr := EthernetHeader{
		dst_mac:   eth_dst,
		src_mac:   src_mac,
		ethertype: ETHERTYPE_ARP,
	}

	frame := make([]byte, 0, ETHERNET_HDR_SIZE+ARP_HDR_SIZE)
	frame = append(frame, serialize_ethernet_header(&eth_hdr)...)
	frame = append(frame, serialize_arp_header(arp_hdr)...)
	return frame
}

func inject(t *testing.T, rtr *Router, if_name string, pkt []byte) {
	t.Helper()

	intf := get_router_if_by_name(rtr, if_name)
	if intf == nil {
		t.Fatalf("no interface %s", if_name)
	}

	frame := &InboundFrame{raw: pkt, length: len(pkt), in_intf: intf}
	if err := process_ethernet_frame(rtr, frame); err != nil {
		t.Fatalf("process_ethernet_frame: %v", err)
	}
}

// expect_icmp parses the single captured frame as an ICMP response and
// checks its addressing and checksums
func expect_icmp(t *testing.T, rec *frame_recorder, want_type, want_code uint8, want_dst_ip string) []byte {
	t.Helper()

	if len(rec.frames) != 1 {
		t.Fatalf("expected 1 output frame, got %d", len(rec.frames))
	}
	pkt := rec.frames[0].pkt

	eth_hdr, err := deserialize_ethernet_header(pkt)
	if err != nil {
		t.Fatalf("bad ethernet header: %v", err)
	}
	if eth_hdr.ethertype != ETHERTYPE_IP {
		t.Fatalf("ethertype = 0x%04x, want IPv4", eth_hdr.ethertype)
	}

	ip_hdr, err := DeserializeIPHeader(pkt[ETHERNET_HDR_SIZE:])
	if err != nil {
		t.Fatalf("bad IP header: %v", err)
	}
	if ip_hdr.Protocol != PROTO_ICMP {
		t.Fatalf("protocol = %d, want ICMP", ip_hdr.Protocol)
	}
	if ip_hdr.TTL != IP_DEFAULT_TTL {
		t.Errorf("TTL = %d, want %d", ip_hdr.TTL, IP_DEFAULT_TTL)
	}
	if got := ip_uint32_to_string(ip_hdr.DstIP); got != want_dst_ip {
		t.Errorf("dst IP = %s, want %s", got, want_dst_ip)
	}
	if cksum := internet_checksum(pkt[ETHERNET_HDR_SIZE : ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE]); cksum != 0 {
		t.Errorf("IP header checksum does not verify: %04x", cksum)
	}

	icmp := pkt[ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE:]
	if len(icmp) < ICMP_HDR_SIZE {
		t.Fatalf("ICMP message too short: %d bytes", len(icmp))
	}
	if icmp[0] != want_type || icmp[1] != want_code {
		t.Fatalf("ICMP type/code = %d/%d, want %d/%d", icmp[0], icmp[1], want_type, want_code)
	}
	if cksum := internet_checksum(icmp); cksum != 0 {
		t.Errorf("ICMP checksum does not verify: %04x", cksum)
	}

	return pkt
}

// ====== End-to-end scenarios ======

var host_mac = test_mac("02:aa:00:00:00:01")
var gw_mac = test_mac("02:bb:00:00:00:01")

func TestEchoToSelf(t *testing.T) {
	rtr, rec := new_test_router(t)

	echo := build_icmp_echo(ICMPTYPE_ECHO_REQUEST, 1, 2, []byte("abcd"))
	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", PROTO_ICMP, 64, echo)

	inject(t, rtr, "eth0", req)

	pkt := expect_icmp(t, rec, ICMPTYPE_ECHO_REPLY, 0, "10.0.0.2")

	eth_hdr, _ := deserialize_ethernet_header(pkt)
	if eth_hdr.dst_mac != host_mac {
		t.Errorf("reply dst MAC = %s, want %s", eth_hdr.dst_mac.String(), host_mac.String())
	}
	if rec.frames[0].oif != get_router_if_by_name(rtr, "eth0") {
		t.Error("reply not sent on ingress interface")
	}

	ip_hdr, _ := DeserializeIPHeader(pkt[ETHERNET_HDR_SIZE:])
	if got := ip_uint32_to_string(ip_hdr.SrcIP); got != "10.0.0.1" {
		t.Errorf("reply src IP = %s, want 10.0.0.1", got)
	}

	// Identifier, sequence number and payload survive untouched
	reply_icmp := pkt[ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE:]
	if diff := cmp.Diff(echo[4:], reply_icmp[4:]); diff != "" {
		t.Errorf("echo body mismatch (-want +got):\n%s", diff)
	}
	if len(pkt) != len(req) {
		t.Errorf("reply length = %d, want %d", len(pkt), len(req))
	}
}

func TestPortUnreachable(t *testing.T) {
	rtr, rec := new_test_router(t)

	udp_payload := []byte{0x12, 0x34, 0x00, 0x35, 0x00, 0x0c, 0x00, 0x00, 'h', 'i'}
	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", PROTO_UDP, 64, udp_payload)

	inject(t, rtr, "eth0", req)

	pkt := expect_icmp(t, rec, ICMPTYPE_DEST_UNREACHABLE, ICMPCODE_DEST_PORT_UNREACHABLE, "10.0.0.2")

	// The error carries the offending IP header plus 8 payload bytes
	carried := pkt[ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE+ICMP_HDR_SIZE:]
	want := req[ETHERNET_HDR_SIZE : ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE+8]
	if diff := cmp.Diff(want, carried); diff != "" {
		t.Errorf("carried datagram mismatch (-want +got):\n%s", diff)
	}
}

func TestProtocolUnreachable(t *testing.T) {
	rtr, rec := new_test_router(t)

	// Protocol 89 (OSPF) is not something this router speaks
	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", 89, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	inject(t, rtr, "eth0", req)
	expect_icmp(t, rec, ICMPTYPE_DEST_UNREACHABLE, ICMPCODE_DEST_PROTOCOL_UNREACHABLE, "10.0.0.2")
}

func TestTimeExceededToSelfBeforeEcho(t *testing.T) {
	rtr, rec := new_test_router(t)

	// TTL 1 wins over the echo handling
	echo := build_icmp_echo(ICMPTYPE_ECHO_REQUEST, 7, 1, []byte("x"))
	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", PROTO_ICMP, 1, echo)

	inject(t, rtr, "eth0", req)
	expect_icmp(t, rec, ICMPTYPE_TIME_EXCEEDED, 0, "10.0.0.2")
}

func TestHostUnreachableOtherInterface(t *testing.T) {
	rtr, rec := new_test_router(t)

	// Addressed to eth1's IP but arriving on eth0
	echo := build_icmp_echo(ICMPTYPE_ECHO_REQUEST, 1, 1, []byte("abcd"))
	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "192.168.1.1", PROTO_ICMP, 64, echo)

	inject(t, rtr, "eth0", req)
	expect_icmp(t, rec, ICMPTYPE_DEST_UNREACHABLE, ICMPCODE_DEST_HOST_UNREACHABLE, "10.0.0.2")
}

func TestForwardCacheHit(t *testing.T) {
	rtr, rec := new_test_router(t)

	gw_ip := test_ip("10.0.0.254")
	rtr.arp_lock.Lock()
	arp_cache_add(rtr, &gw_ip, &gw_mac)
	rtr.arp_lock.Unlock()

	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.5", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	inject(t, rtr, "eth0", req)

	if len(rec.frames) != 1 {
		t.Fatalf("expected 1 output frame, got %d", len(rec.frames))
	}
	out := rec.frames[0].pkt

	eth_hdr, _ := deserialize_ethernet_header(out)
	if eth_hdr.dst_mac != gw_mac {
		t.Errorf("dst MAC = %s, want %s", eth_hdr.dst_mac.String(), gw_mac.String())
	}
	if want := test_mac("02:00:00:00:00:01"); eth_hdr.src_mac != want {
		t.Errorf("src MAC = %s, want %s", eth_hdr.src_mac.String(), want.String())
	}

	ip_hdr, _ := DeserializeIPHeader(out[ETHERNET_HDR_SIZE:])
	if ip_hdr.TTL != 63 {
		t.Errorf("TTL = %d, want 63", ip_hdr.TTL)
	}
	if cksum := internet_checksum(out[ETHERNET_HDR_SIZE : ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE]); cksum != 0 {
		t.Errorf("rewritten IP checksum does not verify: %04x", cksum)
	}

	// Payload beyond the IP header is untouched
	if diff := cmp.Diff(req[ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE:], out[ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE:]); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if len(out) != len(req) {
		t.Errorf("forwarded length = %d, want %d", len(out), len(req))
	}
}

func TestForwardCacheHitTTLExpires(t *testing.T) {
	rtr, rec := new_test_router(t)

	gw_ip := test_ip("10.0.0.254")
	rtr.arp_lock.Lock()
	arp_cache_add(rtr, &gw_ip, &gw_mac)
	rtr.arp_lock.Unlock()

	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.5", PROTO_UDP, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	inject(t, rtr, "eth0", req)
	expect_icmp(t, rec, ICMPTYPE_TIME_EXCEEDED, 0, "10.0.0.2")
}

func TestNetworkUnreachable(t *testing.T) {
	rtr, rec := new_test_router(t)

	// Strip the default route so 198.51.100.5 has no match
	rtr.rt_table = InitRoutingTable()
	eth0 := get_router_if_by_name(rtr, "eth0")
	must_add_route(t, rtr, "10.0.0.0", 24, "", eth0)

	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.5", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	inject(t, rtr, "eth0", req)
	expect_icmp(t, rec, ICMPTYPE_DEST_UNREACHABLE, ICMPCODE_DEST_NET_UNREACHABLE, "10.0.0.2")
}

func TestForwardCacheMissQueuesFrames(t *testing.T) {
	rtr, rec := new_test_router(t)

	req1 := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.5", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	inject(t, rtr, "eth0", req1)

	// One ARP request, broadcast, asking for the gateway
	if len(rec.frames) != 1 {
		t.Fatalf("expected 1 output frame, got %d", len(rec.frames))
	}
	out := rec.frames[0].pkt
	eth_hdr, _ := deserialize_ethernet_header(out)
	if eth_hdr.ethertype != ETHERTYPE_ARP {
		t.Fatalf("ethertype = 0x%04x, want ARP", eth_hdr.ethertype)
	}
	if !is_broadcast_mac(&eth_hdr.dst_mac) {
		t.Error("ARP request not sent to broadcast MAC")
	}
	arp_hdr, _ := deserialize_arp_header(out[ETHERNET_HDR_SIZE:])
	if arp_hdr.op_code != ARP_OP_REQUEST {
		t.Errorf("ARP op = %d, want request", arp_hdr.op_code)
	}
	if got := ip_uint32_to_string(arp_hdr.dst_ip); got != "10.0.0.254" {
		t.Errorf("ARP target = %s, want 10.0.0.254", got)
	}

	gw_ip := test_ip("10.0.0.254")
	rtr.arp_lock.Lock()
	req := pending_arp_req_lookup(rtr, &gw_ip)
	if req == nil {
		t.Fatal("no pending ARP request created")
	}
	if req.times_sent != 1 {
		t.Errorf("times_sent = %d, want 1", req.times_sent)
	}
	if req.num_withheld() != 1 {
		t.Errorf("withheld = %d, want 1", req.num_withheld())
	}
	rtr.arp_lock.Unlock()

	// Second datagram on the same route: buffered, no new ARP request
	req2 := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.6", PROTO_UDP, 64, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	inject(t, rtr, "eth0", req2)

	if got := rec.arp_request_count(); got != 1 {
		t.Errorf("ARP requests sent = %d, want 1", got)
	}
	rtr.arp_lock.Lock()
	if req.num_withheld() != 2 {
		t.Errorf("withheld = %d, want 2", req.num_withheld())
	}
	rtr.arp_lock.Unlock()
}

func TestArpReplyDrainsWithheldFrames(t *testing.T) {
	rtr, rec := new_test_router(t)

	req1 := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.5", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	req2 := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.6", PROTO_UDP, 64, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	inject(t, rtr, "eth0", req1)
	inject(t, rtr, "eth0", req2)
	rec.reset()

	reply := build_arp_frame(test_mac("02:00:00:00:00:01"), ARP_OP_REPLY,
		gw_mac, "10.0.0.254", test_mac("02:00:00:00:00:01"), "10.0.0.1")
	inject(t, rtr, "eth0", reply)

	if len(rec.frames) != 2 {
		t.Fatalf("expected 2 forwarded frames, got %d", len(rec.frames))
	}

	want_dsts := []string{"198.51.100.5", "198.51.100.6"}
	for i, f := range rec.frames {
		eth_hdr, _ := deserialize_ethernet_header(f.pkt)
		if eth_hdr.dst_mac != gw_mac {
			t.Errorf("frame %d dst MAC = %s, want %s", i, eth_hdr.dst_mac.String(), gw_mac.String())
		}
		ip_hdr, _ := DeserializeIPHeader(f.pkt[ETHERNET_HDR_SIZE:])
		if ip_hdr.TTL != 63 {
			t.Errorf("frame %d TTL = %d, want 63", i, ip_hdr.TTL)
		}
		if got := ip_uint32_to_string(ip_hdr.DstIP); got != want_dsts[i] {
			t.Errorf("frame %d dst = %s, want %s", i, got, want_dsts[i])
		}
	}

	gw_ip := test_ip("10.0.0.254")
	rtr.arp_lock.Lock()
	if pending_arp_req_lookup(rtr, &gw_ip) != nil {
		t.Error("pending entry survived the drain")
	}
	if arp_cache_lookup(rtr, &gw_ip) == nil {
		t.Error("ARP cache entry missing after reply")
	}
	rtr.arp_lock.Unlock()
}

func TestArpReplyDrainConvertsExpiredTTL(t *testing.T) {
	rtr, rec := new_test_router(t)

	// A TTL 1 datagram is withheld on a cache miss, and converted to a
	// time exceeded at drain time
	req := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.5", PROTO_UDP, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	inject(t, rtr, "eth0", req)
	rec.reset()

	reply := build_arp_frame(test_mac("02:00:00:00:00:01"), ARP_OP_REPLY,
		gw_mac, "10.0.0.254", test_mac("02:00:00:00:00:01"), "10.0.0.1")
	inject(t, rtr, "eth0", reply)

	expect_icmp(t, rec, ICMPTYPE_TIME_EXCEEDED, 0, "10.0.0.2")
}

func TestAbandonmentAfterRetryCap(t *testing.T) {
	rtr, rec := new_test_router(t)

	req1 := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "198.51.100.5", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	req2 := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.3", "198.51.100.6", PROTO_UDP, 64, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	inject(t, rtr, "eth0", req1)
	inject(t, rtr, "eth0", req2)

	// Creation sent request 1; ticks 1-4 retransmit up to the cap of 5
	for i := 0; i < 4; i++ {
		router_arp_tick(rtr)
	}
	if got := rec.arp_request_count(); got != 5 {
		t.Fatalf("ARP requests after 4 ticks = %d, want 5", got)
	}

	gw_ip := test_ip("10.0.0.254")
	rtr.arp_lock.Lock()
	pending := pending_arp_req_lookup(rtr, &gw_ip)
	if pending == nil || pending.times_sent != 5 {
		t.Fatalf("pending entry not at retry cap")
	}
	rtr.arp_lock.Unlock()

	// The next tick abandons: no 6th request, one host unreachable per
	// withheld frame, entry gone
	rec.reset()
	router_arp_tick(rtr)

	if got := rec.arp_request_count(); got != 0 {
		t.Errorf("ARP requests on abandoning tick = %d, want 0", got)
	}
	if len(rec.frames) != 2 {
		t.Fatalf("expected 2 ICMP frames, got %d", len(rec.frames))
	}

	want_dsts := []string{"10.0.0.2", "10.0.0.3"}
	for i, f := range rec.frames {
		ip_hdr, _ := DeserializeIPHeader(f.pkt[ETHERNET_HDR_SIZE:])
		icmp := f.pkt[ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE:]
		if icmp[0] != ICMPTYPE_DEST_UNREACHABLE || icmp[1] != ICMPCODE_DEST_HOST_UNREACHABLE {
			t.Errorf("frame %d: ICMP %d/%d, want host unreachable", i, icmp[0], icmp[1])
		}
		if got := ip_uint32_to_string(ip_hdr.DstIP); got != want_dsts[i] {
			t.Errorf("frame %d dst = %s, want %s", i, got, want_dsts[i])
		}
		if f.oif != get_router_if_by_name(rtr, "eth0") {
			t.Errorf("frame %d not returned on original ingress", i)
		}
	}

	rtr.arp_lock.Lock()
	if pending_arp_req_lookup(rtr, &gw_ip) != nil {
		t.Error("pending entry survived abandonment")
	}
	rtr.arp_lock.Unlock()
}

func TestArpRequestAnswered(t *testing.T) {
	rtr, rec := new_test_router(t)

	request := build_arp_frame(broadcast_mac_addr(), ARP_OP_REQUEST,
		host_mac, "10.0.0.2", MacAddr{}, "10.0.0.1")
	inject(t, rtr, "eth0", request)

	if len(rec.frames) != 1 {
		t.Fatalf("expected 1 ARP reply, got %d", len(rec.frames))
	}
	out := rec.frames[0].pkt

	eth_hdr, _ := deserialize_ethernet_header(out)
	if eth_hdr.dst_mac != host_mac {
		t.Errorf("reply dst MAC = %s, want requester", eth_hdr.dst_mac.String())
	}

	arp_hdr, _ := deserialize_arp_header(out[ETHERNET_HDR_SIZE:])
	if arp_hdr.op_code != ARP_OP_REPLY {
		t.Errorf("op = %d, want reply", arp_hdr.op_code)
	}
	if want := test_mac("02:00:00:00:00:01"); arp_hdr.src_mac != want {
		t.Errorf("sender MAC = %s, want interface MAC", arp_hdr.src_mac.String())
	}
	if got := ip_uint32_to_string(arp_hdr.src_ip); got != "10.0.0.1" {
		t.Errorf("sender IP = %s, want 10.0.0.1", got)
	}
	if got := ip_uint32_to_string(arp_hdr.dst_ip); got != "10.0.0.2" {
		t.Errorf("target IP = %s, want requester's", got)
	}
}

func TestArpForOtherHostIgnored(t *testing.T) {
	rtr, rec := new_test_router(t)

	request := build_arp_frame(broadcast_mac_addr(), ARP_OP_REQUEST,
		host_mac, "10.0.0.2", MacAddr{}, "10.0.0.99")
	inject(t, rtr, "eth0", request)

	if len(rec.frames) != 0 {
		t.Fatalf("expected silence, got %d frames", len(rec.frames))
	}
}

func TestUnknownEthertypeIgnored(t *testing.T) {
	rtr, rec := new_test_router(t)

	pkt := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	// Overwrite the ethertype with something exotic
	pkt[12] = 0x88
	pkt[13] = 0x47

	inject(t, rtr, "eth0", pkt)
	if len(rec.frames) != 0 {
		t.Fatalf("expected silence, got %d frames", len(rec.frames))
	}
}

func TestFrameForOtherMacIgnored(t *testing.T) {
	rtr, rec := new_test_router(t)

	pkt := build_ip_frame(test_mac("02:cc:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	inject(t, rtr, "eth0", pkt)
	if len(rec.frames) != 0 {
		t.Fatalf("expected silence, got %d frames", len(rec.frames))
	}
}

func TestIPv6EthertypeTakesIPv4Path(t *testing.T) {
	rtr, rec := new_test_router(t)

	// The IPv6 ethertype is dispatched like IPv4: an IPv4-shaped
	// payload addressed to us still draws a response
	pkt := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	binary.BigEndian.PutUint16(pkt[12:14], ETHERTYPE_IPV6)

	inject(t, rtr, "eth0", pkt)
	expect_icmp(t, rec, ICMPTYPE_DEST_UNREACHABLE, ICMPCODE_DEST_PORT_UNREACHABLE, "10.0.0.2")
}

func TestIngressChecksumValidationKnob(t *testing.T) {
	rtr, rec := new_test_router(t)
	rtr.validate_ip_checksum = true

	pkt := build_ip_frame(test_mac("02:00:00:00:00:01"), host_mac,
		"10.0.0.2", "10.0.0.1", PROTO_UDP, 64, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	// Corrupt the checksum field
	pkt[ETHERNET_HDR_SIZE+10] ^= 0xFF

	inject(t, rtr, "eth0", pkt)
	if len(rec.frames) != 0 {
		t.Fatalf("expected drop with validation on, got %d frames", len(rec.frames))
	}

	// With validation off (the default) the same frame is answered
	rtr.validate_ip_checksum = false
	inject(t, rtr, "eth0", pkt)
	if len(rec.frames) != 1 {
		t.Fatalf("expected response with validation off, got %d frames", len(rec.frames))
	}
}

func TestRuntFrameDropped(t *testing.T) {
	rtr, rec := new_test_router(t)

	inject(t, rtr, "eth0", []byte{0x02, 0x00, 0x00})
	if len(rec.frames) != 0 {
		t.Fatalf("expected silence, got %d frames", len(rec.frames))
	}
}
