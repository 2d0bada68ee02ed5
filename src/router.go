package main

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	IF_NAME_SIZE        = 16 // Auxiliary data size for interface name
	ROUTER_NAME_SIZE    = 16
	MAX_INTF_PER_ROUTER = 10
)

// Defaults for the ARP resolution constants; the configuration file
// may override each of them.
const (
	ARP_CACHE_TIMEOUT_DEFAULT  = 15 * time.Second
	ARP_CACHE_CAPACITY_DEFAULT = 256
	ARP_RETRY_INTERVAL_DEFAULT = 1 * time.Second
	ARP_MAX_RETRIES_DEFAULT    = 5
)

// Interface is a router port: a name, a MAC address and an IPv4
// address. Interfaces are created at startup and never mutated.
type Interface struct {
	if_name    [IF_NAME_SIZE]byte
	att_router *Router
	link       *Link
	mac_addr   MacAddr
	ip_addr    IpAddr
	mask       byte
}

func (intf *Interface) GetMac() *MacAddr {
	return &intf.mac_addr
}

func (intf *Interface) GetIP() *IpAddr {
	return &intf.ip_addr
}

func (intf *Interface) GetMask() byte {
	return intf.mask
}

// get_interface_name extracts the interface name from the byte array
func get_interface_name(intf *Interface) string {
	if intf == nil {
		return ""
	}

	name := make([]byte, 0, IF_NAME_SIZE)
	for _, b := range intf.if_name {
		if b == 0 {
			break
		}
		name = append(name, b)
	}
	return string(name)
}

// Link connects two interfaces over the virtual wire
type Link struct {
	intf1 *Interface
	intf2 *Interface
}

// Router is the per-router context: the ordered interface list, the
// immutable routing table, and the ARP resolution state. The ARP cache
// and the pending request list are mutated only under arp_lock, which
// serializes the frame classifier against the ARP worker.
type Router struct {
	router_name [ROUTER_NAME_SIZE]byte
	intf        [MAX_INTF_PER_ROUTER]*Interface
	rt_table    *RoutingTable

	arp_lock         sync.Mutex
	arp_cache        *arp_cache_entry
	arp_cache_count  int
	pending_arp_reqs *pending_arp_req

	arp_cache_timeout    time.Duration
	arp_cache_capacity   int
	arp_retry_interval   time.Duration
	arp_max_retries      int
	validate_ip_checksum bool

	udp_port_number    uint32
	udp_sock_fd        int32
	arp_worker_stop_ch chan bool

	// send_frame hands a prepared frame to the I/O layer for
	// transmission on the given egress interface.
	send_frame func(oif *Interface, pkt []byte) error
}

// get_router_name extracts the router name from the byte array
func get_router_name(rtr *Router) string {
	if rtr == nil {
		return ""
	}

	name := make([]byte, 0, ROUTER_NAME_SIZE)
	for _, b := range rtr.router_name {
		if b == 0 {
			break
		}
		name = append(name, b)
	}
	return string(name)
}

// get_router_if_by_name finds an interface on a router by name
func get_router_if_by_name(rtr *Router, if_name string) *Interface {
	if rtr == nil || if_name == "" {
		return nil
	}

	for i := 0; i < MAX_INTF_PER_ROUTER; i++ {
		if rtr.intf[i] == nil {
			continue
		}
		if get_interface_name(rtr.intf[i]) == if_name {
			return rtr.intf[i]
		}
	}
	return nil
}

// router_owns_ip checks whether ip matches any interface IP of rtr
func router_owns_ip(rtr *Router, ip uint32) bool {
	if rtr == nil {
		return false
	}

	for i := 0; i < MAX_INTF_PER_ROUTER; i++ {
		intf := rtr.intf[i]
		if intf == nil {
			continue
		}
		if ip_addr_to_uint32(&intf.ip_addr) == ip {
			return true
		}
	}
	return false
}

// InboundFrame is a received Ethernet frame plus the interface it
// arrived on. The classifier treats raw as read-only; the I/O layer
// reclaims the buffer after process_ethernet_frame returns, so any
// frame that must outlive the call is deep-copied first.
type InboundFrame struct {
	raw     []byte
	length  int
	in_intf *Interface
}

// FatalError marks a broken internal invariant. The dispatcher shuts
// the whole process down when it sees one; every other error only
// drops the offending frame.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return "fatal router error: " + e.Reason
}

func is_fatal_error(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// process_ethernet_frame classifies a single inbound Ethernet frame
// and either answers it locally (ARP, ICMP echo), generates an ICMP
// error, forwards it, or withholds it behind an ARP resolution.
//
// The I/O layer guarantees sequential invocation: there are never two
// concurrent calls, even across router instances.
//
// A nil return means the frame was handled (including the cases where
// handling is "silently drop"). A non-nil ordinary error means the
// frame was dropped but the router can continue; a FatalError means
// the process should exit.
func process_ethernet_frame(rtr *Router, frame *InboundFrame) error {
	if rtr == nil || frame == nil || frame.in_intf == nil {
		return &FatalError{Reason: "process_ethernet_frame called without router or frame"}
	}
	if frame.length > len(frame.raw) {
		return &FatalError{Reason: "inbound frame length exceeds buffer"}
	}

	metric_frames_received.WithLabelValues(get_router_name(rtr)).Inc()

	// Runt frames cannot carry an Ethernet header
	if frame.length < ETHERNET_HDR_SIZE {
		LogDebug("%s: dropping runt frame (%d bytes) on %s",
			get_router_name(rtr), frame.length, get_interface_name(frame.in_intf))
		return nil
	}

	eth_hdr, err := deserialize_ethernet_header(frame.raw[:frame.length])
	if err != nil {
		return nil
	}

	if !l2_frame_recv_qualify_on_iface(frame.in_intf, eth_hdr) {
		LogDebug("%s: frame on %s not addressed to us (dst MAC %s)",
			get_router_name(rtr), get_interface_name(frame.in_intf),
			eth_hdr.dst_mac.String())
		return nil
	}

	switch eth_hdr.ethertype {
	case ETHERTYPE_IP, ETHERTYPE_IPV6:
		// IPv6 frames take the IPv4 path on purpose: the payload is
		// parsed as an IPv4 header and classified like one, and frames
		// too short for that header fall out as malformed.
		return process_ip_frame(rtr, frame, eth_hdr)

	case ETHERTYPE_ARP:
		return process_arp_frame(rtr, frame, eth_hdr)

	default:
		// Not a protocol this router speaks
		return nil
	}
}

// process_ip_frame implements the IPv4 half of the classifier
func process_ip_frame(rtr *Router, frame *InboundFrame, eth_hdr *EthernetHeader) error {
	if frame.length < ETHERNET_HDR_SIZE+IP_HDR_MIN_SIZE {
		return nil
	}

	ip_hdr, err := DeserializeIPHeader(frame.raw[ETHERNET_HDR_SIZE:frame.length])
	if err != nil {
		return nil
	}

	ip_hdr_len := GetIPHeaderLen(ip_hdr)
	if frame.length < ETHERNET_HDR_SIZE+ip_hdr_len {
		return nil
	}

	if rtr.validate_ip_checksum {
		if internet_checksum(frame.raw[ETHERNET_HDR_SIZE:ETHERNET_HDR_SIZE+ip_hdr_len]) != 0 {
			LogDebug("%s: dropping IP datagram with bad header checksum on %s",
				get_router_name(rtr), get_interface_name(frame.in_intf))
			return nil
		}
	}

	in_intf_ip := ip_addr_to_uint32(frame.in_intf.GetIP())

	if ip_hdr.DstIP == in_intf_ip {
		return process_ip_frame_to_self(rtr, frame, ip_hdr)
	}

	if router_owns_ip(rtr, ip_hdr.DstIP) {
		// Addressed to another interface of this router
		return router_send_icmp(rtr, ICMPTYPE_DEST_UNREACHABLE,
			ICMPCODE_DEST_HOST_UNREACHABLE, frame)
	}

	return forward_ip_frame(rtr, frame, ip_hdr)
}

// process_ip_frame_to_self handles datagrams addressed to the IP of
// the ingress interface
func process_ip_frame_to_self(rtr *Router, frame *InboundFrame, ip_hdr *IPHeader) error {
	if ip_hdr.Protocol == PROTO_TCP || ip_hdr.Protocol == PROTO_UDP {
		// A router has no transport endpoints
		return router_send_icmp(rtr, ICMPTYPE_DEST_UNREACHABLE,
			ICMPCODE_DEST_PORT_UNREACHABLE, frame)
	}

	if ip_hdr.TTL == 1 {
		return router_send_icmp(rtr, ICMPTYPE_TIME_EXCEEDED, 0, frame)
	}

	if ip_hdr.Protocol == PROTO_ICMP {
		icmp_off := ETHERNET_HDR_SIZE + GetIPHeaderLen(ip_hdr)
		if frame.length <= icmp_off {
			// Truncated ICMP message
			return nil
		}
		if frame.raw[icmp_off] == ICMPTYPE_ECHO_REQUEST {
			return router_send_icmp(rtr, ICMPTYPE_ECHO_REPLY, 0, frame)
		}
	}

	return router_send_icmp(rtr, ICMPTYPE_DEST_UNREACHABLE,
		ICMPCODE_DEST_PROTOCOL_UNREACHABLE, frame)
}

// forward_ip_frame routes a transit datagram: route lookup, next-hop
// selection, then either immediate forwarding (ARP cache hit) or
// withholding behind a pending ARP request (miss).
func forward_ip_frame(rtr *Router, frame *InboundFrame, ip_hdr *IPHeader) error {
	route := rtr.rt_table.LookupLPM(ip_hdr.DstIP)
	if route == nil {
		return router_send_icmp(rtr, ICMPTYPE_DEST_UNREACHABLE,
			ICMPCODE_DEST_NET_UNREACHABLE, frame)
	}

	next_hop := route.gateway
	if next_hop == 0 {
		next_hop = ip_hdr.DstIP
	}
	next_hop_addr := uint32_to_ip_addr(next_hop)

	rtr.arp_lock.Lock()

	cache_entry := arp_cache_lookup(rtr, &next_hop_addr)
	if cache_entry != nil {
		next_hop_mac := cache_entry.mac_addr
		rtr.arp_lock.Unlock()

		if ip_hdr.TTL == 1 {
			return router_send_icmp(rtr, ICMPTYPE_TIME_EXCEEDED, 0, frame)
		}
		return forward_ip_datagram(rtr, frame, next_hop_mac)
	}

	// Cache miss: withhold the frame behind a pending ARP request
	defer rtr.arp_lock.Unlock()

	req := pending_arp_req_lookup(rtr, &next_hop_addr)
	if req == nil {
		req = pending_arp_req_add(rtr, &next_hop_addr, route.oif)
		if req == nil {
			return &FatalError{Reason: "could not create pending ARP request"}
		}

		if err := send_arp_broadcast_request(rtr, route.oif, &next_hop_addr); err != nil {
			LogWarn("%s: ARP request for %s failed: %v",
				get_router_name(rtr), next_hop_addr.String(), err)
		}
		req.times_sent = 1
		req.last_sent = time.Now()
	}

	if err := pending_arp_req_add_frame(req, frame); err != nil {
		return fmt.Errorf("withholding frame for %s: %w", next_hop_addr.String(), err)
	}

	LogDebug("%s: withheld datagram for %s behind ARP resolution of %s (%d queued)",
		get_router_name(rtr), ip_uint32_to_string(ip_hdr.DstIP),
		next_hop_addr.String(), req.num_withheld())
	return nil
}

// forward_ip_datagram builds and transmits the rewritten frame: fresh
// Ethernet header, TTL decremented, IP checksum recomputed, payload
// copied verbatim. The egress interface comes from a fresh route
// lookup on the datagram's destination.
func forward_ip_datagram(rtr *Router, frame *InboundFrame, dst_mac MacAddr) error {
	ip_hdr, err := DeserializeIPHeader(frame.raw[ETHERNET_HDR_SIZE:frame.length])
	if err != nil {
		return nil
	}

	route := rtr.rt_table.LookupLPM(ip_hdr.DstIP)
	if route == nil {
		// The table is immutable, so a route that existed when the
		// frame was classified must still exist
		return &FatalError{Reason: "route vanished from immutable routing table"}
	}

	msg := make([]byte, frame.length)

	eth_hdr := EthernetHeader{
		dst_mac:   dst_mac,
		src_mac:   route.oif.mac_addr,
		ethertype: ETHERTYPE_IP,
	}
	copy(msg, serialize_ethernet_header(&eth_hdr))

	// IP header and payload verbatim from the original
	copy(msg[ETHERNET_HDR_SIZE:], frame.raw[ETHERNET_HDR_SIZE:frame.length])

	// Decrement TTL, recompute the header checksum
	msg[ETHERNET_HDR_SIZE+8]--
	finalize_ip_checksum(msg[ETHERNET_HDR_SIZE:], GetIPHeaderLen(ip_hdr))

	LogDebug("%s: forwarding %s -> %s via %s (TTL %d)",
		get_router_name(rtr), ip_uint32_to_string(ip_hdr.SrcIP),
		ip_uint32_to_string(ip_hdr.DstIP), get_interface_name(route.oif),
		ip_hdr.TTL-1)

	if err := rtr.send_frame(route.oif, msg); err != nil {
		LogWarn("%s: transmit on %s failed: %v",
			get_router_name(rtr), get_interface_name(route.oif), err)
		return nil
	}

	metric_frames_forwarded.WithLabelValues(get_router_name(rtr)).Inc()
	return nil
}

// process_arp_frame implements the ARP half of the classifier
func process_arp_frame(rtr *Router, frame *InboundFrame, eth_hdr *EthernetHeader) error {
	if frame.length < ETHERNET_HDR_SIZE+ARP_HDR_SIZE {
		return nil
	}

	arp_hdr, err := deserialize_arp_header(frame.raw[ETHERNET_HDR_SIZE:frame.length])
	if err != nil {
		return nil
	}

	// Only the Ethernet/IPv4 binding is spoken here
	if arp_hdr.hw_type != ARP_HW_TYPE_ETHERNET || arp_hdr.proto_type != ARP_PROTO_TYPE_IP {
		return nil
	}

	// ARP for some other host's address is not ours to answer
	if arp_hdr.dst_ip != ip_addr_to_uint32(frame.in_intf.GetIP()) {
		return nil
	}

	switch arp_hdr.op_code {
	case ARP_OP_REQUEST:
		send_arp_reply_msg(rtr, frame.in_intf, arp_hdr)
		return nil

	case ARP_OP_REPLY:
		return process_arp_reply_msg(rtr, frame.in_intf, arp_hdr)

	default:
		return nil
	}
}

// process_arp_reply_msg learns the sender's binding and drains every
// frame withheld for it: forwarded if the TTL allows, converted to an
// ICMP time exceeded otherwise. The pending entry is freed afterwards.
func process_arp_reply_msg(rtr *Router, in_intf *Interface, arp_hdr *arp_hdr_t) error {
	sender_ip := uint32_to_ip_addr(arp_hdr.src_ip)

	rtr.arp_lock.Lock()
	defer rtr.arp_lock.Unlock()

	arp_cache_add(rtr, &sender_ip, &arp_hdr.src_mac)
	metric_arp_resolutions.WithLabelValues(get_router_name(rtr)).Inc()

	LogInfo("%s: resolved %s is at %s",
		get_router_name(rtr), sender_ip.String(), arp_hdr.src_mac.String())

	req := pending_arp_req_lookup(rtr, &sender_ip)
	if req == nil {
		return nil
	}

	drained := 0
	for wf := req.withheld_frames; wf != nil; wf = wf.next {
		withheld := &InboundFrame{raw: wf.raw, length: len(wf.raw), in_intf: wf.in_intf}

		wf_ip_hdr, err := DeserializeIPHeader(wf.raw[ETHERNET_HDR_SIZE:])
		if err != nil {
			continue
		}

		if wf_ip_hdr.TTL == 1 {
			if err := router_send_icmp(rtr, ICMPTYPE_TIME_EXCEEDED, 0, withheld); err != nil {
				return err
			}
		} else {
			if err := forward_ip_datagram(rtr, withheld, arp_hdr.src_mac); err != nil {
				return err
			}
		}
		drained++
	}

	if drained > 0 {
		LogInfo("%s: drained %d withheld frame(s) for %s",
			get_router_name(rtr), drained, sender_ip.String())
	}

	pending_arp_req_remove(rtr, req)
	return nil
}
