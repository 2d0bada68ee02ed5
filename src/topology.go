package main

import (
	"fmt"
	"time"
)

const NETWORK_NAME_SIZE = 32

// Network is the set of router instances managed by this process,
// plus the links of the virtual wire connecting them.
type Network struct {
	network_name [NETWORK_NAME_SIZE]byte
	router_list  []*Router
}

func get_network_name(net *Network) string {
	if net == nil {
		return ""
	}

	name := make([]byte, 0, NETWORK_NAME_SIZE)
	for _, b := range net.network_name {
		if b == 0 {
			break
		}
		name = append(name, b)
	}
	return string(name)
}

func create_new_network(network_name string) *Network {
	net := &Network{}
	copy(net.network_name[:], network_name)
	return net
}

// create_network_router creates a router instance with its UDP socket.
// The ARP worker is not started here. The resolution constants arrive
// from the configuration loader.
func create_network_router(net *Network, router_name string) *Router {
	rtr := &Router{}
	copy(rtr.router_name[:], router_name)

	rtr.rt_table = InitRoutingTable()
	rtr.arp_cache_timeout = ARP_CACHE_TIMEOUT_DEFAULT
	rtr.arp_cache_capacity = ARP_CACHE_CAPACITY_DEFAULT
	rtr.arp_retry_interval = ARP_RETRY_INTERVAL_DEFAULT
	rtr.arp_max_retries = ARP_MAX_RETRIES_DEFAULT
	rtr.send_frame = func(oif *Interface, pkt []byte) error {
		return send_frame_on_wire(pkt, oif)
	}

	err := init_router_udp_socket(rtr)
	if err != nil {
		LogWarn("Failed to initialize UDP socket for router %s: %v", router_name, err)
		// Continue anyway, just mark socket as invalid
		rtr.udp_sock_fd = -1
		rtr.udp_port_number = 0
	}

	// The ARP worker is started by the configuration loader once the
	// resolution constants are final

	net.router_list = append(net.router_list, rtr)
	return rtr
}

// get_network_router_by_name finds a router in the network by name
func get_network_router_by_name(net *Network, router_name string) *Router {
	if net == nil {
		return nil
	}

	for _, rtr := range net.router_list {
		if get_router_name(rtr) == router_name {
			return rtr
		}
	}
	return nil
}

func get_router_intf_available_slot(rtr *Router) int {
	for i := 0; i < MAX_INTF_PER_ROUTER; i++ {
		if rtr.intf[i] == nil {
			return i
		}
	}
	return -1
}

// create_router_interface attaches a configured interface to a router
func create_router_interface(rtr *Router, if_name string, mac MacAddr, ip IpAddr, mask byte) *Interface {
	if rtr == nil {
		return nil
	}

	slot := get_router_intf_available_slot(rtr)
	if slot == -1 {
		LogError("Router %s: no free interface slot for %s", get_router_name(rtr), if_name)
		return nil
	}

	intf := &Interface{att_router: rtr}
	copy(intf.if_name[:], if_name)
	intf.mac_addr = mac
	intf.ip_addr = ip
	intf.mask = mask

	rtr.intf[slot] = intf
	return intf
}

// insert_link_between_two_routers wires two existing interfaces
// together over the virtual wire
func insert_link_between_two_routers(rtr1 *Router, rtr2 *Router, from_if_name string, to_if_name string) error {
	intf1 := get_router_if_by_name(rtr1, from_if_name)
	intf2 := get_router_if_by_name(rtr2, to_if_name)

	if intf1 == nil {
		return fmt.Errorf("interface %s not found on router %s", from_if_name, get_router_name(rtr1))
	}
	if intf2 == nil {
		return fmt.Errorf("interface %s not found on router %s", to_if_name, get_router_name(rtr2))
	}
	if intf1.link != nil || intf2.link != nil {
		return fmt.Errorf("link endpoint already connected (%s:%s <-> %s:%s)",
			get_router_name(rtr1), from_if_name, get_router_name(rtr2), to_if_name)
	}

	link := &Link{intf1: intf1, intf2: intf2}
	intf1.link = link
	intf2.link = link
	return nil
}

// get_remote_interface gets the interface on the other side of the link
func get_remote_interface(local_intf *Interface) *Interface {
	if local_intf == nil || local_intf.link == nil {
		return nil
	}

	link := local_intf.link
	if link.intf1 == local_intf {
		return link.intf2
	} else if link.intf2 == local_intf {
		return link.intf1
	}

	return nil
}

func get_nbr_router(intf *Interface) *Router {
	remote := get_remote_interface(intf)
	if remote == nil {
		return nil
	}
	return remote.att_router
}

// cleanup_network_resources stops workers and closes sockets. Pending
// ARP entries and cache entries are dropped without emitting ICMP;
// shutdown is silent on the wire.
func cleanup_network_resources(net *Network) {
	if net == nil {
		return
	}

	LogInfo("Cleaning up resources for network: %s", get_network_name(net))

	// Note: frame dispatch should be stopped BEFORE calling this
	// function to avoid goroutines touching closed sockets
	for _, rtr := range net.router_list {
		if rtr == nil {
			continue
		}

		stop_arp_worker(rtr)

		rtr.arp_lock.Lock()
		rtr.pending_arp_reqs = nil
		rtr.arp_cache = nil
		rtr.arp_cache_count = 0
		rtr.arp_lock.Unlock()

		if err := close_router_udp_socket(rtr); err != nil {
			LogError("Error closing UDP socket for router %s: %v", get_router_name(rtr), err)
		}
	}

	LogInfo("Resource cleanup completed for network: %s", get_network_name(net))
}

// dump_network_info prints every router with its interfaces and links
func dump_network_info(net *Network) {
	fmt.Printf("=== Network Information ===\n")
	fmt.Printf("Network Name: %s\n", get_network_name(net))
	fmt.Printf("Total Routers: %d\n", len(net.router_list))

	if len(net.router_list) == 0 {
		fmt.Println("No routers in the network.")
		return
	}

	fmt.Println("\n--- Router Details ---")

	for i, rtr := range net.router_list {
		fmt.Printf("\nRouter #%d: %s\n", i+1, get_router_name(rtr))
		fmt.Printf("  Routes: %d\n", rtr.rt_table.NumRoutes())
		fmt.Printf("  ARP cache timeout: %v, retry cap: %d\n",
			rtr.arp_cache_timeout, rtr.arp_max_retries)

		interface_count := 0
		for j := 0; j < MAX_INTF_PER_ROUTER; j++ {
			if rtr.intf[j] != nil {
				interface_count++
			}
		}
		fmt.Printf("  Interfaces: %d\n", interface_count)

		for j := 0; j < MAX_INTF_PER_ROUTER; j++ {
			intf := rtr.intf[j]
			if intf == nil {
				continue
			}

			fmt.Printf("    Interface: %s\n", get_interface_name(intf))
			fmt.Printf("      MAC: %s\n", intf.mac_addr.String())
			fmt.Printf("      IP: %s/%d\n", intf.ip_addr.String(), intf.mask)

			nbr := get_nbr_router(intf)
			if nbr != nil {
				fmt.Printf("      Connected to: %s (%s)\n",
					get_router_name(nbr), get_interface_name(get_remote_interface(intf)))
			} else {
				fmt.Printf("      Connected to: None\n")
			}
		}
	}

	fmt.Printf("\n=== End Network Information ===\n")
}

// apply_arp_constants overrides the resolution constants on a router
func apply_arp_constants(rtr *Router, cache_timeout, retry_interval time.Duration,
	max_retries, cache_capacity int, validate_ip_checksum bool) {
	if rtr == nil {
		return
	}

	if cache_timeout > 0 {
		rtr.arp_cache_timeout = cache_timeout
	}
	if retry_interval > 0 {
		rtr.arp_retry_interval = retry_interval
	}
	if max_retries > 0 {
		rtr.arp_max_retries = max_retries
	}
	if cache_capacity > 0 {
		rtr.arp_cache_capacity = cache_capacity
	}
	rtr.validate_ip_checksum = validate_ip_checksum
}
