package main

import "fmt"

// L3Route represents a routing table entry. Routes are installed at
// load time and never mutated afterwards.
type L3Route struct {
	dest     uint32     // Destination network address
	mask     uint32     // Subnet mask
	mask_len uint8      // Prefix length, kept for display
	gateway  uint32     // Next hop IP; 0 means directly connected
	oif      *Interface // Egress interface
}

// IsDirect reports whether the route is directly connected
func (route *L3Route) IsDirect() bool {
	return route.gateway == 0
}

// RoutingTable represents the per-router routing table. It is immutable
// once the configuration has been loaded, so lookups need no locking.
type RoutingTable struct {
	routes []L3Route
}

// InitRoutingTable initializes a new empty routing table
func InitRoutingTable() *RoutingTable {
	return &RoutingTable{
		routes: make([]L3Route, 0),
	}
}

// AddRoute installs a route. Only the configuration loader calls this;
// the destination is normalized to its network address.
func (rt *RoutingTable) AddRoute(dest uint32, mask_len uint8, gateway uint32, oif *Interface) error {
	if mask_len > 32 {
		return fmt.Errorf("invalid prefix length: %d", mask_len)
	}
	if oif == nil {
		return fmt.Errorf("route %s/%d has no egress interface",
			ip_uint32_to_string(dest), mask_len)
	}

	mask := mask_len_to_uint32(mask_len)
	route := L3Route{
		dest:     dest & mask,
		mask:     mask,
		mask_len: mask_len,
		gateway:  gateway,
		oif:      oif,
	}

	rt.routes = append(rt.routes, route)
	return nil
}

// LookupLPM performs longest prefix match lookup: among all entries
// whose network contains dst_ip, the one with the largest mask wins.
// Equal masks are broken by insertion order (first installed wins).
func (rt *RoutingTable) LookupLPM(dst_ip uint32) *L3Route {
	var best *L3Route

	for i := range rt.routes {
		route := &rt.routes[i]

		if (dst_ip & route.mask) != route.dest {
			continue
		}

		if best == nil || route.mask > best.mask {
			best = route
		}
	}

	return best
}

// NumRoutes returns the number of installed routes
func (rt *RoutingTable) NumRoutes() int {
	return len(rt.routes)
}

// DumpRoutingTable prints the routing table
func (rt *RoutingTable) DumpRoutingTable(router_name string) {
	fmt.Printf("\n=== Routing Table for Router %s ===\n", router_name)
	fmt.Printf("%-20s %-6s %-16s %s\n", "Destination", "Mask", "Gateway", "Interface")
	fmt.Printf("%-20s %-6s %-16s %s\n", "-----------", "----", "-------", "---------")

	if len(rt.routes) == 0 {
		fmt.Printf("(empty)\n")
		return
	}

	for _, route := range rt.routes {
		gateway := "0.0.0.0"
		if route.gateway != 0 {
			gateway = ip_uint32_to_string(route.gateway)
		}

		fmt.Printf("%-20s %-6d %-16s %s\n",
			ip_uint32_to_string(route.dest), route.mask_len,
			gateway, get_interface_name(route.oif))
	}
	fmt.Printf("\n")
}
