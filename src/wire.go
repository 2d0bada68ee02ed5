package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ====== Virtual wire ======
//
// Links are simulated over loopback UDP: a frame sent on an interface
// is delivered to the UDP port of the router on the other side of the
// link. The first IF_NAME_SIZE bytes of each datagram name the
// destination interface, standing in for what the physical link layer
// would know by construction.

// send_frame_on_wire transmits a prepared Ethernet frame out of
// local_intf toward its link peer
func send_frame_on_wire(frame_buffer []byte, local_intf *Interface) error {
	if frame_buffer == nil || len(frame_buffer) == 0 {
		return fmt.Errorf("frame buffer cannot be empty")
	}

	if local_intf == nil {
		return fmt.Errorf("local interface cannot be nil")
	}

	sending_router := local_intf.att_router
	if sending_router == nil {
		return fmt.Errorf("local interface has no attached router")
	}

	nbr_router := get_nbr_router(local_intf)
	if nbr_router == nil {
		return fmt.Errorf("no neighbor on interface %s", get_interface_name(local_intf))
	}

	if sending_router.udp_sock_fd <= 0 {
		return fmt.Errorf("sending router %s has invalid UDP socket",
			get_router_name(sending_router))
	}

	if nbr_router.udp_port_number == 0 {
		return fmt.Errorf("neighbor router %s has no UDP port assigned",
			get_router_name(nbr_router))
	}

	remote_intf := get_remote_interface(local_intf)
	if remote_intf == nil {
		return fmt.Errorf("no remote interface for local interface %s",
			get_interface_name(local_intf))
	}

	// Auxiliary data carries the destination interface name so the
	// receiver knows which of its ports the frame arrived on
	send_buffer := make([]byte, IF_NAME_SIZE+len(frame_buffer))
	copy(send_buffer[:IF_NAME_SIZE], []byte(get_interface_name(remote_intf)))
	copy(send_buffer[IF_NAME_SIZE:], frame_buffer)

	var dst_addr unix.SockaddrInet4
	dst_addr.Port = int(nbr_router.udp_port_number)
	dst_addr.Addr = [4]byte{127, 0, 0, 1}

	err := unix.Sendto(int(sending_router.udp_sock_fd), send_buffer, 0, &dst_addr)
	if err != nil {
		return fmt.Errorf("failed to send frame from %s (intf: %s) to %s (port: %d): %v",
			get_router_name(sending_router), get_interface_name(local_intf),
			get_router_name(nbr_router), nbr_router.udp_port_number, err)
	}

	LogDebug("WIRE: %s[%s] -> %s[%s], %d bytes",
		get_router_name(sending_router), get_interface_name(local_intf),
		get_router_name(nbr_router), get_interface_name(remote_intf),
		len(frame_buffer))

	return nil
}

// receive_wire_datagram reads one datagram from the router's socket.
// Returns unix.EAGAIN when no data is available on the non-blocking
// socket.
func receive_wire_datagram(rtr *Router, buffer []byte) (int, error) {
	if rtr == nil {
		return 0, fmt.Errorf("router cannot be nil")
	}

	if rtr.udp_sock_fd <= 0 {
		return 0, fmt.Errorf("router %s has no valid socket", get_router_name(rtr))
	}

	n, _, err := unix.Recvfrom(int(rtr.udp_sock_fd), buffer, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, unix.EAGAIN
		}
		return 0, fmt.Errorf("failed to receive on router %s: %v",
			get_router_name(rtr), err)
	}

	return n, nil
}
