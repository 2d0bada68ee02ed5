package main

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ====== ARP (Address Resolution Protocol) ======

// ARP operation codes
const (
	ARP_OP_REQUEST = 1 // ARP request
	ARP_OP_REPLY   = 2 // ARP reply
)

// ARP hardware and protocol types
const (
	ARP_HW_TYPE_ETHERNET = 1      // Ethernet
	ARP_PROTO_TYPE_IP    = 0x0800 // IPv4
	ARP_HW_ADDR_LEN      = 6      // MAC address length
	ARP_PROTO_ADDR_LEN   = 4      // IPv4 address length
	ARP_HDR_SIZE         = 28     // ARP header size (fixed)
)

// arp_hdr_t represents ARP header format (Ethernet/IPv4 binding)
type arp_hdr_t struct {
	hw_type        uint16  // Hardware type (1 for Ethernet)
	proto_type     uint16  // Protocol type (0x0800 for IPv4)
	hw_addr_len    uint8   // Hardware address length (6 for MAC)
	proto_addr_len uint8   // Protocol address length (4 for IPv4)
	op_code        uint16  // Operation code (request=1, reply=2)
	src_mac        MacAddr // Sender hardware address
	src_ip         uint32  // Sender protocol address
	dst_mac        MacAddr // Target hardware address
	dst_ip         uint32  // Target protocol address
}

func serialize_arp_header(hdr *arp_hdr_t) []byte {
	buffer := make([]byte, ARP_HDR_SIZE)

	binary.BigEndian.PutUint16(buffer[0:2], hdr.hw_type)
	binary.BigEndian.PutUint16(buffer[2:4], hdr.proto_type)
	buffer[4] = hdr.hw_addr_len
	buffer[5] = hdr.proto_addr_len
	binary.BigEndian.PutUint16(buffer[6:8], hdr.op_code)
	copy(buffer[8:14], hdr.src_mac[:])
	binary.BigEndian.PutUint32(buffer[14:18], hdr.src_ip)
	copy(buffer[18:24], hdr.dst_mac[:])
	binary.BigEndian.PutUint32(buffer[24:28], hdr.dst_ip)

	return buffer
}

// parses bytes into ARP header
func deserialize_arp_header(buffer []byte) (*arp_hdr_t, error) {
	if len(buffer) < ARP_HDR_SIZE {
		return nil, fmt.Errorf("buffer too small for ARP header: need %d bytes, got %d",
			ARP_HDR_SIZE, len(buffer))
	}

	hdr := &arp_hdr_t{}

	hdr.hw_type = binary.BigEndian.Uint16(buffer[0:2])
	hdr.proto_type = binary.BigEndian.Uint16(buffer[2:4])
	hdr.hw_addr_len = buffer[4]
	hdr.proto_addr_len = buffer[5]
	hdr.op_code = binary.BigEndian.Uint16(buffer[6:8])
	copy(hdr.src_mac[:], buffer[8:14])
	hdr.src_ip = binary.BigEndian.Uint32(buffer[14:18])
	copy(hdr.dst_mac[:], buffer[18:24])
	hdr.dst_ip = binary.BigEndian.Uint32(buffer[24:28])

	return hdr, nil
}

// ====== ARP cache ======

// arp_cache_entry is one time-limited IPv4 -> MAC binding
type arp_cache_entry struct {
	ip_addr     IpAddr
	mac_addr    MacAddr
	inserted_at time.Time
	next        *arp_cache_entry
}

// All cache and pending-list functions below require the caller to
// hold rtr.arp_lock, except the dump functions, which take it
// themselves.

// arp_cache_lookup returns the cache entry for ip_addr, or nil
func arp_cache_lookup(rtr *Router, ip_addr *IpAddr) *arp_cache_entry {
	if rtr == nil || ip_addr == nil {
		return nil
	}

	for current := rtr.arp_cache; current != nil; current = current.next {
		if ip_addr_equal(&current.ip_addr, ip_addr) {
			return current
		}
	}
	return nil
}

// arp_cache_add inserts or refreshes a binding and stamps the
// insertion time. When the cache is at capacity the oldest entry is
// evicted to make room.
func arp_cache_add(rtr *Router, ip_addr *IpAddr, mac_addr *MacAddr) {
	if rtr == nil || ip_addr == nil || mac_addr == nil {
		return
	}

	now := time.Now()

	if existing := arp_cache_lookup(rtr, ip_addr); existing != nil {
		existing.mac_addr = *mac_addr
		existing.inserted_at = now
		return
	}

	if rtr.arp_cache_count >= rtr.arp_cache_capacity {
		arp_cache_evict_oldest(rtr)
	}

	entry := &arp_cache_entry{
		ip_addr:     *ip_addr,
		mac_addr:    *mac_addr,
		inserted_at: now,
		next:        rtr.arp_cache, // Insert at head
	}
	rtr.arp_cache = entry
	rtr.arp_cache_count++
}

// arp_cache_evict_oldest removes the entry with the earliest insertion
// time
func arp_cache_evict_oldest(rtr *Router) {
	if rtr == nil || rtr.arp_cache == nil {
		return
	}

	oldest := rtr.arp_cache
	for current := rtr.arp_cache.next; current != nil; current = current.next {
		if current.inserted_at.Before(oldest.inserted_at) {
			oldest = current
		}
	}

	arp_cache_unlink(rtr, oldest)
	LogDebug("%s: ARP cache full, evicted oldest entry %s",
		get_router_name(rtr), oldest.ip_addr.String())
}

func arp_cache_unlink(rtr *Router, entry *arp_cache_entry) {
	if rtr.arp_cache == entry {
		rtr.arp_cache = entry.next
		rtr.arp_cache_count--
		return
	}

	for current := rtr.arp_cache; current != nil; current = current.next {
		if current.next == entry {
			current.next = entry.next
			rtr.arp_cache_count--
			return
		}
	}
}

// arp_cache_expire removes all entries older than the cache timeout.
// Returns the number of entries removed.
func arp_cache_expire(rtr *Router, now time.Time) int {
	if rtr == nil {
		return 0
	}

	removed := 0

	for rtr.arp_cache != nil && now.Sub(rtr.arp_cache.inserted_at) > rtr.arp_cache_timeout {
		LogDebug("%s: ARP entry for %s expired (age %v)",
			get_router_name(rtr), rtr.arp_cache.ip_addr.String(),
			now.Sub(rtr.arp_cache.inserted_at))
		rtr.arp_cache = rtr.arp_cache.next
		rtr.arp_cache_count--
		removed++
	}

	for current := rtr.arp_cache; current != nil && current.next != nil; {
		if now.Sub(current.next.inserted_at) > rtr.arp_cache_timeout {
			LogDebug("%s: ARP entry for %s expired (age %v)",
				get_router_name(rtr), current.next.ip_addr.String(),
				now.Sub(current.next.inserted_at))
			current.next = current.next.next
			rtr.arp_cache_count--
			removed++
		} else {
			current = current.next
		}
	}

	return removed
}

// arp_cache_dump displays the ARP cache of a router
func arp_cache_dump(rtr *Router) {
	if rtr == nil {
		return
	}

	rtr.arp_lock.Lock()
	defer rtr.arp_lock.Unlock()

	fmt.Printf("\n=== ARP Cache for Router %s ===\n", get_router_name(rtr))
	fmt.Printf("%-15s %-17s %s\n", "IP Address", "MAC Address", "Age")
	fmt.Printf("%-15s %-17s %s\n", "----------", "-----------", "---")

	count := 0
	now := time.Now()
	for current := rtr.arp_cache; current != nil; current = current.next {
		fmt.Printf("%-15s %-17s %v\n",
			current.ip_addr.String(), current.mac_addr.String(),
			now.Sub(current.inserted_at).Round(time.Second))
		count++
	}

	if count == 0 {
		fmt.Printf("(empty)\n")
	}
	fmt.Printf("Total entries: %d\n\n", count)
}

// ====== Pending ARP requests ======

// withheld_frame is an owned deep copy of an inbound frame parked
// until its next-hop MAC resolves. The ingress interface is kept so an
// ICMP host unreachable can be returned if resolution is abandoned.
type withheld_frame struct {
	raw     []byte
	in_intf *Interface
	next    *withheld_frame
}

// pending_arp_req tracks one in-flight next-hop resolution: retry
// bookkeeping plus the list of withheld frames, in arrival order.
type pending_arp_req struct {
	ip_addr         IpAddr
	oif             *Interface
	times_sent      int
	last_sent       time.Time
	withheld_frames *withheld_frame
	next            *pending_arp_req
}

func (req *pending_arp_req) num_withheld() int {
	count := 0
	for wf := req.withheld_frames; wf != nil; wf = wf.next {
		count++
	}
	return count
}

// pending_arp_req_lookup returns the pending entry for ip_addr, or nil
func pending_arp_req_lookup(rtr *Router, ip_addr *IpAddr) *pending_arp_req {
	if rtr == nil || ip_addr == nil {
		return nil
	}

	for current := rtr.pending_arp_reqs; current != nil; current = current.next {
		if current.ip_addr == *ip_addr {
			return current
		}
	}
	return nil
}

// pending_arp_req_add appends a fresh pending entry with no
// transmissions recorded yet
func pending_arp_req_add(rtr *Router, ip_addr *IpAddr, oif *Interface) *pending_arp_req {
	if rtr == nil || ip_addr == nil || oif == nil {
		return nil
	}

	req := &pending_arp_req{
		ip_addr:    *ip_addr,
		oif:        oif,
		times_sent: 0,
	}

	if rtr.pending_arp_reqs == nil {
		rtr.pending_arp_reqs = req
	} else {
		tail := rtr.pending_arp_reqs
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = req
	}

	LogDebug("%s: created pending ARP request for %s on %s",
		get_router_name(rtr), ip_addr.String(), get_interface_name(oif))
	return req
}

// pending_arp_req_add_frame deep-copies frame onto the entry's
// withheld list, preserving arrival order
func pending_arp_req_add_frame(req *pending_arp_req, frame *InboundFrame) error {
	if req == nil || frame == nil || frame.length <= 0 {
		return fmt.Errorf("invalid frame for pending ARP request")
	}

	raw_copy := make([]byte, frame.length)
	copy(raw_copy, frame.raw[:frame.length])

	wf := &withheld_frame{
		raw:     raw_copy,
		in_intf: frame.in_intf,
	}

	if req.withheld_frames == nil {
		req.withheld_frames = wf
		return nil
	}

	tail := req.withheld_frames
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = wf
	return nil
}

// pending_arp_req_remove unlinks the entry and releases its withheld
// frames
func pending_arp_req_remove(rtr *Router, req *pending_arp_req) {
	if rtr == nil || req == nil {
		return
	}

	req.withheld_frames = nil

	if rtr.pending_arp_reqs == req {
		rtr.pending_arp_reqs = req.next
		return
	}

	for current := rtr.pending_arp_reqs; current != nil; current = current.next {
		if current.next == req {
			current.next = req.next
			return
		}
	}
}

// pending_arp_req_dump displays the pending request table of a router
func pending_arp_req_dump(rtr *Router) {
	if rtr == nil {
		return
	}

	rtr.arp_lock.Lock()
	defer rtr.arp_lock.Unlock()

	fmt.Printf("\n=== Pending ARP Requests for Router %s ===\n", get_router_name(rtr))
	fmt.Printf("%-15s %-12s %-10s %s\n", "Target IP", "Interface", "Attempts", "Withheld")
	fmt.Printf("%-15s %-12s %-10s %s\n", "---------", "---------", "--------", "--------")

	count := 0
	for current := rtr.pending_arp_reqs; current != nil; current = current.next {
		fmt.Printf("%-15s %-12s %-10d %d\n",
			current.ip_addr.String(), get_interface_name(current.oif),
			current.times_sent, current.num_withheld())
		count++
	}

	if count == 0 {
		fmt.Printf("(empty)\n")
	}
	fmt.Printf("\n")
}

// ====== ARP senders ======

// send_arp_broadcast_request transmits an ARP request for target_ip
// out of oif, addressed to the broadcast MAC
func send_arp_broadcast_request(rtr *Router, oif *Interface, target_ip *IpAddr) error {
	if rtr == nil || oif == nil || target_ip == nil {
		return fmt.Errorf("nil parameter in send_arp_broadcast_request")
	}

	arp_hdr := &arp_hdr_t{
		hw_type:        ARP_HW_TYPE_ETHERNET,
		proto_type:     ARP_PROTO_TYPE_IP,
		hw_addr_len:    ARP_HW_ADDR_LEN,
		proto_addr_len: ARP_PROTO_ADDR_LEN,
		op_code:        ARP_OP_REQUEST,
		src_mac:        oif.mac_addr,
		src_ip:         ip_addr_to_uint32(oif.GetIP()),
		dst_mac:        MacAddr{}, // Unknown, zeroed in a request
		dst_ip:         ip_addr_to_uint32(target_ip),
	}

	eth_hdr := EthernetHeader{
		dst_mac:   broadcast_mac_addr(),
		src_mac:   oif.mac_addr,
		ethertype: ETHERTYPE_ARP,
	}

	frame_bytes := make([]byte, 0, ETHERNET_HDR_SIZE+ARP_HDR_SIZE)
	frame_bytes = append(frame_bytes, serialize_ethernet_header(&eth_hdr)...)
	frame_bytes = append(frame_bytes, serialize_arp_header(arp_hdr)...)

	LogDebug("%s: ARP request for %s on %s",
		get_router_name(rtr), target_ip.String(), get_interface_name(oif))

	if err := rtr.send_frame(oif, frame_bytes); err != nil {
		return err
	}

	metric_arp_requests_sent.WithLabelValues(get_router_name(rtr)).Inc()
	return nil
}

// send_arp_reply_msg answers an ARP request: sender becomes this
// interface's binding, target becomes the requester's
func send_arp_reply_msg(rtr *Router, oif *Interface, req_hdr *arp_hdr_t) {
	if rtr == nil || oif == nil || req_hdr == nil {
		LogError("ARP: nil parameter in send_arp_reply_msg")
		return
	}

	arp_hdr := &arp_hdr_t{
		hw_type:        ARP_HW_TYPE_ETHERNET,
		proto_type:     ARP_PROTO_TYPE_IP,
		hw_addr_len:    ARP_HW_ADDR_LEN,
		proto_addr_len: ARP_PROTO_ADDR_LEN,
		op_code:        ARP_OP_REPLY,
		src_mac:        oif.mac_addr,
		src_ip:         ip_addr_to_uint32(oif.GetIP()),
		dst_mac:        req_hdr.src_mac,
		dst_ip:         req_hdr.src_ip,
	}

	eth_hdr := EthernetHeader{
		dst_mac:   req_hdr.src_mac,
		src_mac:   oif.mac_addr,
		ethertype: ETHERTYPE_ARP,
	}

	frame_bytes := make([]byte, 0, ETHERNET_HDR_SIZE+ARP_HDR_SIZE)
	frame_bytes = append(frame_bytes, serialize_ethernet_header(&eth_hdr)...)
	frame_bytes = append(frame_bytes, serialize_arp_header(arp_hdr)...)

	LogDebug("%s: ARP reply to %s (%s is at %s)",
		get_router_name(rtr), ip_uint32_to_string(req_hdr.src_ip),
		oif.GetIP().String(), oif.mac_addr.String())

	if err := rtr.send_frame(oif, frame_bytes); err != nil {
		LogWarn("%s: ARP reply on %s failed: %v",
			get_router_name(rtr), get_interface_name(oif), err)
		return
	}

	metric_arp_replies_sent.WithLabelValues(get_router_name(rtr)).Inc()
}
