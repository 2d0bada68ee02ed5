package main

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ====== Frame dispatch ======
//
// Each router's socket has a reader goroutine, but every received
// frame funnels into a single dispatch goroutine: classifier
// invocations are strictly sequential across all router instances, so
// frame processing needs no locking beyond the per-router ARP mutex
// shared with the ARP workers.

// FrameDispatcher owns the reader goroutines and the serializing
// dispatch loop
type FrameDispatcher struct {
	frame_ch         chan *InboundFrame
	reader_stop_chs  map[string]chan bool
	dispatch_stop_ch chan bool
}

// start_frame_dispatch launches readers for every router in the
// network plus the dispatch loop
func start_frame_dispatch(net *Network) *FrameDispatcher {
	if net == nil {
		return nil
	}

	d := &FrameDispatcher{
		frame_ch:         make(chan *InboundFrame, 128),
		reader_stop_chs:  make(map[string]chan bool),
		dispatch_stop_ch: make(chan bool, 1),
	}

	LogInfo("Starting frame dispatch for %d routers...", len(net.router_list))

	for _, rtr := range net.router_list {
		if rtr == nil || rtr.udp_sock_fd <= 0 {
			continue
		}

		stop_ch := make(chan bool, 1)
		d.reader_stop_chs[get_router_name(rtr)] = stop_ch
		go router_socket_reader(rtr, d.frame_ch, stop_ch)
	}

	go frame_dispatch_loop(d)

	LogInfo("Frame dispatch started")
	return d
}

// router_socket_reader polls one router's socket and pushes complete
// frames into the shared dispatch channel
func router_socket_reader(rtr *Router, frame_ch chan<- *InboundFrame, stop_ch <-chan bool) {
	router_name := get_router_name(rtr)
	LogInfo("Router %s: reader started on port %d", router_name, rtr.udp_port_number)

	buffer := make([]byte, IF_NAME_SIZE+MAX_FRAME_SIZE)

	for {
		select {
		case <-stop_ch:
			LogInfo("Router %s: reader stopped", router_name)
			return
		default:
			if rtr.udp_sock_fd <= 0 {
				LogInfo("Router %s: socket closed, reader exiting", router_name)
				return
			}

			// Non-blocking so the stop channel is observed promptly
			if err := unix.SetNonblock(int(rtr.udp_sock_fd), true); err != nil {
				if err == unix.EBADF {
					LogInfo("Router %s: socket closed during read", router_name)
					return
				}
				LogWarn("Router %s: failed to set non-blocking mode: %v", router_name, err)
			}

			n, err := receive_wire_datagram(rtr, buffer)
			if err != nil {
				if err == unix.EAGAIN {
					time.Sleep(time.Millisecond)
					continue
				}
				LogError("Router %s: receive error: %v", router_name, err)
				continue
			}

			if n <= IF_NAME_SIZE {
				LogWarn("Router %s: datagram too small (%d bytes)", router_name, n)
				continue
			}

			// Auxiliary data names the ingress interface
			intf_name := string(buffer[:IF_NAME_SIZE])
			for i, b := range intf_name {
				if b == 0 {
					intf_name = intf_name[:i]
					break
				}
			}

			intf := get_router_if_by_name(rtr, intf_name)
			if intf == nil {
				LogWarn("Router %s: interface %s not found", router_name, intf_name)
				continue
			}

			// The reader's buffer is reused, so the frame handed to
			// the dispatcher gets its own copy
			pkt := make([]byte, n-IF_NAME_SIZE)
			copy(pkt, buffer[IF_NAME_SIZE:n])

			frame_ch <- &InboundFrame{raw: pkt, length: len(pkt), in_intf: intf}
		}
	}
}

// frame_dispatch_loop is the single consumer of the frame channel
func frame_dispatch_loop(d *FrameDispatcher) {
	for {
		select {
		case <-d.dispatch_stop_ch:
			LogInfo("Frame dispatch loop stopped")
			return
		case frame := <-d.frame_ch:
			rtr := frame.in_intf.att_router

			if IsDebugLogging() {
				LogDebug("Router %s: frame on %s\n%s", get_router_name(rtr),
					get_interface_name(frame.in_intf),
					dump_frame(frame.raw[:frame.length]))
			}

			err := process_ethernet_frame(rtr, frame)
			if err == nil {
				continue
			}

			if is_fatal_error(err) {
				LogError("Router %s: %v - shutting down", get_router_name(rtr), err)
				os.Exit(1)
			}

			metric_frames_dropped.WithLabelValues(get_router_name(rtr)).Inc()
			LogWarn("Router %s: frame dropped: %v", get_router_name(rtr), err)
		}
	}
}

// stop_frame_dispatch stops the readers and the dispatch loop
func stop_frame_dispatch(d *FrameDispatcher) {
	if d == nil {
		return
	}

	LogInfo("Stopping frame dispatch for %d readers...", len(d.reader_stop_chs))

	for router_name, stop_ch := range d.reader_stop_chs {
		select {
		case stop_ch <- true:
			LogDebug("Stop signal sent to reader for %s", router_name)
		default:
			LogWarn("Could not signal reader for %s", router_name)
		}
		close(stop_ch)
	}

	select {
	case d.dispatch_stop_ch <- true:
	default:
	}
	close(d.dispatch_stop_ch)

	LogInfo("Frame dispatch stopped")
}
