package main

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quince-project/quince/transport"
)

// serveMetrics exposes m on addr's /metrics endpoint in the background,
// the same promhttp.Handler wiring runZeroInc-sockstats' exporter commands
// use, logging (rather than failing the caller) if the listener can't
// start since metrics are diagnostic, not load-bearing.
func serveMetrics(addr string, m *transport.Metrics) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics listener on %s stopped: %v", addr, err)
		}
	}()
}
