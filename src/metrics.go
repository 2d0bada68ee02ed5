package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Per-router counters, labeled by router name. ICMP transmissions are
// additionally labeled by message type.
var (
	metric_frames_received = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_frames_received_total",
		Help: "Inbound Ethernet frames handed to the classifier",
	}, []string{"router"})

	metric_frames_forwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_frames_forwarded_total",
		Help: "IP datagrams rewritten and transmitted toward a next hop",
	}, []string{"router"})

	metric_frames_dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_frames_dropped_total",
		Help: "Frames the classifier reported as dropped",
	}, []string{"router"})

	metric_icmp_sent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_icmp_sent_total",
		Help: "ICMP messages generated, by ICMP type",
	}, []string{"router", "type"})

	metric_arp_requests_sent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_arp_requests_sent_total",
		Help: "ARP requests broadcast, initial and retransmitted",
	}, []string{"router"})

	metric_arp_replies_sent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_arp_replies_sent_total",
		Help: "ARP replies answered for our own addresses",
	}, []string{"router"})

	metric_arp_resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_arp_resolutions_total",
		Help: "ARP replies received and learned into the cache",
	}, []string{"router"})

	metric_arp_abandonments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_arp_abandonments_total",
		Help: "Pending ARP resolutions given up after the retry cap",
	}, []string{"router"})
)

func init() {
	prometheus.MustRegister(
		metric_frames_received,
		metric_frames_forwarded,
		metric_frames_dropped,
		metric_icmp_sent,
		metric_arp_requests_sent,
		metric_arp_replies_sent,
		metric_arp_resolutions,
		metric_arp_abandonments,
	)
}

// start_metrics_endpoint serves /metrics on addr in the background
func start_metrics_endpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		LogInfo("Metrics endpoint listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			LogError("Metrics endpoint failed: %v", err)
		}
	}()
}
