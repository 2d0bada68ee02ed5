package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Global port counter to assign unique ports starting from 40000
var nextAvailablePort uint32 = 40000

// init_router_udp_socket binds the router's end of the virtual wire to
// a loopback UDP port
func init_router_udp_socket(rtr *Router) error {
	if rtr == nil {
		return fmt.Errorf("router cannot be nil")
	}

	sockfd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("failed to create UDP socket: %v", err)
	}

	var addr unix.SockaddrInet4
	addr.Port = int(nextAvailablePort)
	addr.Addr = [4]byte{127, 0, 0, 1}

	err = unix.Bind(sockfd, &addr)
	if err != nil {
		unix.Close(sockfd)
		return fmt.Errorf("failed to bind socket to 127.0.0.1:%d: %v", nextAvailablePort, err)
	}

	rtr.udp_port_number = nextAvailablePort
	rtr.udp_sock_fd = int32(sockfd)

	LogInfo("Router %s: UDP socket initialized on 127.0.0.1:%d (fd: %d)",
		get_router_name(rtr), nextAvailablePort, sockfd)

	nextAvailablePort++

	return nil
}

// close_router_udp_socket closes the router's wire socket
func close_router_udp_socket(rtr *Router) error {
	if rtr == nil {
		return fmt.Errorf("router cannot be nil")
	}

	if rtr.udp_sock_fd <= 0 {
		return fmt.Errorf("router %s has no valid socket file descriptor", get_router_name(rtr))
	}

	err := unix.Close(int(rtr.udp_sock_fd))
	if err != nil {
		return fmt.Errorf("failed to close socket for router %s: %v", get_router_name(rtr), err)
	}

	LogInfo("Router %s: UDP socket closed (port %d, fd: %d)",
		get_router_name(rtr), rtr.udp_port_number, rtr.udp_sock_fd)

	rtr.udp_port_number = 0
	rtr.udp_sock_fd = -1

	return nil
}
