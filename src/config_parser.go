package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// YAML router-set configuration structures
type RouterSetConfig struct {
	RouterSet RouterSetInfo   `yaml:"router_set"`
	Routers   []RouterConfig  `yaml:"routers"`
	Links     []LinkConfig    `yaml:"links"`
	Constants ConstantsConfig `yaml:"constants"`
}

type RouterSetInfo struct {
	Name string `yaml:"name"`
}

type RouterConfig struct {
	Name       string            `yaml:"name"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	Routes     []RouteConfig     `yaml:"routes"`
}

type InterfaceConfig struct {
	Name string `yaml:"name"`
	MAC  string `yaml:"mac"` // Generated when omitted
	IP   string `yaml:"ip"`
	Mask int    `yaml:"mask"`
}

type RouteConfig struct {
	Dest      string `yaml:"dest"`
	Mask      int    `yaml:"mask"`
	Gateway   string `yaml:"gateway"` // Empty or 0.0.0.0 means directly connected
	Interface string `yaml:"interface"`
}

type LinkConfig struct {
	FromRouter    string `yaml:"from_router"`
	FromInterface string `yaml:"from_interface"`
	ToRouter      string `yaml:"to_router"`
	ToInterface   string `yaml:"to_interface"`
}

type ConstantsConfig struct {
	ArpCacheTimeout    int  `yaml:"arp_cache_timeout"`  // seconds
	ArpRetryInterval   int  `yaml:"arp_retry_interval"` // seconds
	ArpMaxRetries      int  `yaml:"arp_max_retries"`
	ArpCacheCapacity   int  `yaml:"arp_cache_capacity"`
	ValidateIPChecksum bool `yaml:"validate_ip_checksum"`
}

// load_router_set_from_yaml reads, validates and builds a network of
// router instances from a configuration file
func load_router_set_from_yaml(filename string) (*Network, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var config RouterSetConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %v", err)
	}

	if err := validate_router_set_config(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %v", err)
	}

	net, err := build_network_from_config(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to build network: %v", err)
	}

	return net, nil
}

// validate_router_set_config performs structural validation before
// anything is instantiated
func validate_router_set_config(config *RouterSetConfig) error {
	if config.RouterSet.Name == "" {
		return fmt.Errorf("router_set name is required")
	}

	if len(config.Routers) == 0 {
		return fmt.Errorf("at least one router is required")
	}

	routerMap := make(map[string]bool)
	interfaceMap := make(map[string]bool) // router:interface format

	for _, rtr := range config.Routers {
		if rtr.Name == "" {
			return fmt.Errorf("router name is required")
		}

		if routerMap[rtr.Name] {
			return fmt.Errorf("duplicate router name: %s", rtr.Name)
		}
		routerMap[rtr.Name] = true

		if len(rtr.Interfaces) == 0 {
			return fmt.Errorf("router %s has no interfaces", rtr.Name)
		}

		for _, intf := range rtr.Interfaces {
			if intf.Name == "" {
				return fmt.Errorf("interface name is required for router %s", rtr.Name)
			}

			intfKey := fmt.Sprintf("%s:%s", rtr.Name, intf.Name)
			if interfaceMap[intfKey] {
				return fmt.Errorf("duplicate interface name %s on router %s", intf.Name, rtr.Name)
			}
			interfaceMap[intfKey] = true

			if intf.IP == "" {
				return fmt.Errorf("interface %s on router %s has no IP address", intf.Name, rtr.Name)
			}

			var ip IpAddr
			if !set_ip_addr(&ip, intf.IP) {
				return fmt.Errorf("invalid IP address %s on interface %s of router %s",
					intf.IP, intf.Name, rtr.Name)
			}

			if intf.Mask < 1 || intf.Mask > 32 {
				return fmt.Errorf("invalid subnet mask %d for interface %s on router %s",
					intf.Mask, intf.Name, rtr.Name)
			}

			if intf.MAC != "" {
				var mac MacAddr
				if !set_mac_addr(&mac, intf.MAC) {
					return fmt.Errorf("invalid MAC address %s on interface %s of router %s",
						intf.MAC, intf.Name, rtr.Name)
				}
			}
		}

		for i, route := range rtr.Routes {
			if route.Dest == "" {
				return fmt.Errorf("router %s route %d: dest is required", rtr.Name, i)
			}

			var dest IpAddr
			if !set_ip_addr(&dest, route.Dest) {
				return fmt.Errorf("router %s route %d: invalid dest %s", rtr.Name, i, route.Dest)
			}

			if route.Mask < 0 || route.Mask > 32 {
				return fmt.Errorf("router %s route %d: invalid mask %d", rtr.Name, i, route.Mask)
			}

			if route.Gateway != "" {
				var gw IpAddr
				if !set_ip_addr(&gw, route.Gateway) {
					return fmt.Errorf("router %s route %d: invalid gateway %s",
						rtr.Name, i, route.Gateway)
				}
			}

			if route.Interface == "" {
				return fmt.Errorf("router %s route %d: interface is required", rtr.Name, i)
			}

			intfKey := fmt.Sprintf("%s:%s", rtr.Name, route.Interface)
			if !interfaceMap[intfKey] {
				return fmt.Errorf("router %s route %d: interface %s not found",
					rtr.Name, i, route.Interface)
			}
		}
	}

	for i, link := range config.Links {
		if link.FromRouter == "" || link.ToRouter == "" {
			return fmt.Errorf("link %d: from_router and to_router are required", i)
		}

		if link.FromInterface == "" || link.ToInterface == "" {
			return fmt.Errorf("link %d: from_interface and to_interface are required", i)
		}

		if !routerMap[link.FromRouter] {
			return fmt.Errorf("link %d: from_router %s not found", i, link.FromRouter)
		}

		if !routerMap[link.ToRouter] {
			return fmt.Errorf("link %d: to_router %s not found", i, link.ToRouter)
		}

		fromIntfKey := fmt.Sprintf("%s:%s", link.FromRouter, link.FromInterface)
		toIntfKey := fmt.Sprintf("%s:%s", link.ToRouter, link.ToInterface)

		if !interfaceMap[fromIntfKey] {
			return fmt.Errorf("link %d: from_interface %s not found on router %s",
				i, link.FromInterface, link.FromRouter)
		}

		if !interfaceMap[toIntfKey] {
			return fmt.Errorf("link %d: to_interface %s not found on router %s",
				i, link.ToInterface, link.ToRouter)
		}
	}

	c := &config.Constants
	if c.ArpCacheTimeout < 0 || c.ArpRetryInterval < 0 || c.ArpMaxRetries < 0 || c.ArpCacheCapacity < 0 {
		return fmt.Errorf("constants must be non-negative")
	}

	return nil
}

func build_network_from_config(config *RouterSetConfig) (*Network, error) {
	net := create_new_network(config.RouterSet.Name)

	routerMap := make(map[string]*Router)

	// Create routers and their interfaces first
	for _, rtrConfig := range config.Routers {
		rtr := create_network_router(net, rtrConfig.Name)
		if rtr == nil {
			return nil, fmt.Errorf("failed to create router %s", rtrConfig.Name)
		}
		routerMap[rtrConfig.Name] = rtr

		apply_arp_constants(rtr,
			time.Duration(config.Constants.ArpCacheTimeout)*time.Second,
			time.Duration(config.Constants.ArpRetryInterval)*time.Second,
			config.Constants.ArpMaxRetries,
			config.Constants.ArpCacheCapacity,
			config.Constants.ValidateIPChecksum)

		for _, intfConfig := range rtrConfig.Interfaces {
			var mac MacAddr
			if intfConfig.MAC != "" {
				set_mac_addr(&mac, intfConfig.MAC)
			} else {
				mac = generate_unique_mac_address()
			}

			var ip IpAddr
			set_ip_addr(&ip, intfConfig.IP)

			intf := create_router_interface(rtr, intfConfig.Name, mac, ip, byte(intfConfig.Mask))
			if intf == nil {
				return nil, fmt.Errorf("failed to create interface %s on router %s",
					intfConfig.Name, rtrConfig.Name)
			}
		}
	}

	// Wire the links
	for _, linkConfig := range config.Links {
		fromRouter := routerMap[linkConfig.FromRouter]
		toRouter := routerMap[linkConfig.ToRouter]

		err := insert_link_between_two_routers(fromRouter, toRouter,
			linkConfig.FromInterface, linkConfig.ToInterface)
		if err != nil {
			return nil, err
		}
	}

	// Install routes: explicit ones from the config, plus a connected
	// route per interface subnet
	for _, rtrConfig := range config.Routers {
		rtr := routerMap[rtrConfig.Name]

		for _, intfConfig := range rtrConfig.Interfaces {
			intf := get_router_if_by_name(rtr, intfConfig.Name)

			var intf_ip uint32
			ip_addr_str_to_uint32(intfConfig.IP, &intf_ip)
			mask := mask_len_to_uint32(uint8(intfConfig.Mask))

			err := rtr.rt_table.AddRoute(intf_ip&mask, uint8(intfConfig.Mask), 0, intf)
			if err != nil {
				return nil, fmt.Errorf("router %s: connected route for %s: %v",
					rtrConfig.Name, intfConfig.Name, err)
			}
		}

		for i, routeConfig := range rtrConfig.Routes {
			oif := get_router_if_by_name(rtr, routeConfig.Interface)

			var dest, gateway uint32
			ip_addr_str_to_uint32(routeConfig.Dest, &dest)
			if routeConfig.Gateway != "" {
				ip_addr_str_to_uint32(routeConfig.Gateway, &gateway)
			}

			err := rtr.rt_table.AddRoute(dest, uint8(routeConfig.Mask), gateway, oif)
			if err != nil {
				return nil, fmt.Errorf("router %s route %d: %v", rtrConfig.Name, i, err)
			}
		}
	}

	// Constants are final, the workers may start
	for _, rtr := range net.router_list {
		start_arp_worker(rtr)
	}

	return net, nil
}
