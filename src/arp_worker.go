package main

import "time"

// ====== ARP worker ======
//
// One worker goroutine per router advances the ARP resolution state
// once per second, independent of inbound traffic: expired cache
// entries are removed, live pending requests are retransmitted, and
// requests that stayed unanswered after the retry cap are abandoned.

// router_arp_tick runs a single worker iteration. Exposed separately
// from the goroutine so tests can drive the tick directly.
func router_arp_tick(rtr *Router) {
	if rtr == nil {
		return
	}

	rtr.arp_lock.Lock()
	defer rtr.arp_lock.Unlock()

	now := time.Now()

	removed := arp_cache_expire(rtr, now)
	if removed > 0 {
		LogInfo("%s: expired %d ARP cache entries", get_router_name(rtr), removed)
	}

	var prev *pending_arp_req
	for req := rtr.pending_arp_reqs; req != nil; {
		next := req.next

		if req.times_sent >= rtr.arp_max_retries {
			// Unanswered after the full retry budget: every withheld
			// frame earns an ICMP host unreachable back to its source
			// on the interface it arrived on.
			LogInfo("%s: abandoning ARP resolution of %s after %d attempts (%d withheld)",
				get_router_name(rtr), req.ip_addr.String(), req.times_sent,
				req.num_withheld())

			for wf := req.withheld_frames; wf != nil; wf = wf.next {
				withheld := &InboundFrame{raw: wf.raw, length: len(wf.raw), in_intf: wf.in_intf}
				if err := router_send_icmp(rtr, ICMPTYPE_DEST_UNREACHABLE,
					ICMPCODE_DEST_HOST_UNREACHABLE, withheld); err != nil {
					LogWarn("%s: host unreachable for withheld frame failed: %v",
						get_router_name(rtr), err)
				}
			}
			metric_arp_abandonments.WithLabelValues(get_router_name(rtr)).Inc()

			// Unlink req; prev stays put
			req.withheld_frames = nil
			if prev == nil {
				rtr.pending_arp_reqs = next
			} else {
				prev.next = next
			}
		} else {
			if err := send_arp_broadcast_request(rtr, req.oif, &req.ip_addr); err != nil {
				LogWarn("%s: ARP retransmit for %s failed: %v",
					get_router_name(rtr), req.ip_addr.String(), err)
			}
			req.times_sent++
			req.last_sent = now
			prev = req
		}

		req = next
	}
}

// start_arp_worker launches the per-router worker goroutine
func start_arp_worker(rtr *Router) {
	if rtr == nil {
		return
	}

	stop_ch := make(chan bool, 1)
	rtr.arp_worker_stop_ch = stop_ch

	router_name := get_router_name(rtr)
	LogInfo("%s: ARP worker started (interval: %v, cache timeout: %v, retry cap: %d)",
		router_name, rtr.arp_retry_interval, rtr.arp_cache_timeout, rtr.arp_max_retries)

	go func() {
		ticker := time.NewTicker(rtr.arp_retry_interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop_ch:
				LogInfo("%s: ARP worker stopped", router_name)
				return
			case <-ticker.C:
				router_arp_tick(rtr)
			}
		}
	}()
}

// stop_arp_worker signals the worker goroutine to exit between ticks
func stop_arp_worker(rtr *Router) {
	if rtr == nil || rtr.arp_worker_stop_ch == nil {
		return
	}

	select {
	case rtr.arp_worker_stop_ch <- true:
	default:
		// Already signalled
	}

	close(rtr.arp_worker_stop_ch)
	rtr.arp_worker_stop_ch = nil
}
