package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

// Global network state
var currentNetwork *Network

// Global frame dispatch control
var frameDispatcher *FrameDispatcher

var metricsAddr string
var logLevelName string

var rootCmd = &cobra.Command{
	Use:   "ip-router",
	Short: "A learning-grade IPv4 router in Go",
	Run: func(cmd *cobra.Command, args []string) {
		switch logLevelName {
		case "debug":
			SetLogLevel(DEBUG)
		case "warn":
			SetLogLevel(WARN)
		case "error":
			SetLogLevel(ERROR)
		default:
			SetLogLevel(INFO)
		}

		if metricsAddr != "" {
			start_metrics_endpoint(metricsAddr)
		}

		startInteractiveShell()
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show commands",
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load router configuration from YAML file",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run commands on routers",
}

var runRouterCmd = &cobra.Command{
	Use:   "router",
	Short: "Run commands on a specific router",
}

var showRouterCmd = &cobra.Command{
	Use:   "router",
	Short: "Show router information",
}

var showRouterArpCmd = &cobra.Command{
	Use:   "arp [router-name]",
	Short: "Show ARP cache for a router",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rtr := find_router_or_complain(args[0])
		if rtr == nil {
			return
		}
		arp_cache_dump(rtr)
	},
}

var showRouterPendingCmd = &cobra.Command{
	Use:   "pending [router-name]",
	Short: "Show pending ARP requests for a router",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rtr := find_router_or_complain(args[0])
		if rtr == nil {
			return
		}
		pending_arp_req_dump(rtr)
	},
}

var showRouterRoutesCmd = &cobra.Command{
	Use:   "routes [router-name]",
	Short: "Show routing table for a router",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rtr := find_router_or_complain(args[0])
		if rtr == nil {
			return
		}
		rtr.rt_table.DumpRoutingTable(get_router_name(rtr))
	},
}

var resolveArpCmd = &cobra.Command{
	Use:   "resolve-arp [router-name] [ip-address]",
	Short: "Resolve ARP for IP address on specified router",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		rtr := find_router_or_complain(args[0])
		if rtr == nil {
			return
		}

		var target IpAddr
		if !set_ip_addr(&target, args[1]) {
			fmt.Printf("Error: Invalid IP address %s\n", args[1])
			return
		}

		route := rtr.rt_table.LookupLPM(ip_addr_to_uint32(&target))
		if route == nil {
			fmt.Printf("Error: No route to %s on router %s\n", args[1], args[0])
			return
		}

		if err := send_arp_broadcast_request(rtr, route.oif, &target); err != nil {
			LogError("Failed to send ARP request for IP %s: %v", args[1], err)
			fmt.Printf("Error: Failed to send ARP request for IP %s\n", args[1])
			return
		}
		fmt.Printf("ARP request for %s sent on %s\n", args[1], get_interface_name(route.oif))
	},
}

var loadConfigCmd = &cobra.Command{
	Use:   "config [filename]",
	Short: "Load router configuration from YAML file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := "configs/example.yaml"
		if len(args) > 0 {
			filename = args[0]
		}

		fmt.Printf("Loading configuration: %s...\n", filename)
		net, err := load_router_set_from_yaml(filename)
		if err != nil {
			LogError("Error loading configuration: %v", err)
			fmt.Printf("Error loading configuration: %v\n", err)
			return
		}

		// Tear down any previously loaded network
		if frameDispatcher != nil {
			stop_frame_dispatch(frameDispatcher)
			frameDispatcher = nil
		}
		if currentNetwork != nil {
			cleanup_network_resources(currentNetwork)
		}

		currentNetwork = net
		fmt.Printf("Successfully loaded network: %s\n", get_network_name(net))

		frameDispatcher = start_frame_dispatch(net)
		fmt.Printf("Frame dispatch started for all routers\n")
	},
}

var showNetworkCmd = &cobra.Command{
	Use:   "network",
	Short: "Show loaded routers and links",
	Run: func(cmd *cobra.Command, args []string) {
		if currentNetwork == nil {
			fmt.Println("No configuration loaded. Use 'load config [filename]' first.")
			return
		}

		dump_network_info(currentNetwork)
	},
}

func find_router_or_complain(name string) *Router {
	if currentNetwork == nil {
		fmt.Println("Error: No configuration loaded. Use 'load config [filename]' first.")
		return nil
	}

	rtr := get_network_router_by_name(currentNetwork, name)
	if rtr == nil {
		LogError("Router '%s' not found", name)
		fmt.Printf("Error: Router '%s' not found\n", name)
		return nil
	}
	return rtr
}

func startInteractiveShell() {
	username := os.Getenv("USER")
	if username == "" {
		username = "user"
	}

	// Liner is used for command history and other interactive CLI features
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	// Load history from file
	historyFile := os.Getenv("HOME") + "/.ip-router_history"
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("Welcome to IP Router CLI\n")
	fmt.Printf("Type 'help' for available commands or 'exit' to quit.\n\n")

	for {
		prompt := fmt.Sprintf("%s@ip-router> ", username)
		input, err := line.Prompt(prompt)

		if err != nil {
			// Handle Ctrl+C or EOF
			if err == liner.ErrPromptAborted {
				fmt.Println("\nUse 'exit' to quit")
				continue
			}
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			break
		}

		executeCommand(input)
	}

	// Save command history to file
	if f, err := os.Create(historyFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

func executeCommand(input string) {
	args := strings.Fields(input)
	if len(args) == 0 {
		return
	}

	// Create a temporary root command for parsing this specific input
	cmd := &cobra.Command{}
	cmd.AddCommand(showCmd)
	cmd.AddCommand(loadCmd)
	cmd.AddCommand(runCmd)

	helpCmd := &cobra.Command{
		Use:   "help",
		Short: "Help about any command",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available commands:")
			fmt.Println("  load config [file]                         - Load router configuration (default: configs/example.yaml)")
			fmt.Println("  show network                               - Display loaded routers and links")
			fmt.Println("  show router routes <router-name>           - Show routing table for a router")
			fmt.Println("  show router arp <router-name>              - Show ARP cache for a router")
			fmt.Println("  show router pending <router-name>          - Show pending ARP requests for a router")
			fmt.Println("  run router resolve-arp <router-name> <ip>  - Resolve ARP for IP address on specified router")
			fmt.Println("  help                                       - Show this help message")
			fmt.Println("  exit                                       - Exit the shell")
		},
	}
	cmd.AddCommand(helpCmd)

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "",
		"expose prometheus metrics on this address (e.g. 127.0.0.1:9090)")
	rootCmd.PersistentFlags().StringVar(&logLevelName, "log-level", "info",
		"log level: debug, info, warn, error")

	showCmd.AddCommand(showNetworkCmd)
	showCmd.AddCommand(showRouterCmd)
	showRouterCmd.AddCommand(showRouterArpCmd)
	showRouterCmd.AddCommand(showRouterPendingCmd)
	showRouterCmd.AddCommand(showRouterRoutesCmd)
	loadCmd.AddCommand(loadConfigCmd)
	runCmd.AddCommand(runRouterCmd)
	runRouterCmd.AddCommand(resolveArpCmd)
}

func main() {
	// signal handling for cleanup
	setupSignalHandler()

	if err := rootCmd.Execute(); err != nil {
		cleanup()
		os.Exit(1)
	}

	cleanup()
}

// graceful shutdown on SIGINT/SIGTERM
func setupSignalHandler() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal. Cleaning up...")
		cleanup()
		os.Exit(0)
	}()
}

// cleanup operations before exit
func cleanup() {
	if frameDispatcher != nil {
		stop_frame_dispatch(frameDispatcher)
	}

	if currentNetwork != nil {
		cleanup_network_resources(currentNetwork)
	}
}
