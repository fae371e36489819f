// Package stats exposes tcppump's send statistics as Prometheus
// metrics: a struct of registered Counter and Gauge metrics plus thin
// setter methods, covering packets and bytes sent, run duration, ARP
// cache size, and resolution failures.
package stats

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "tcppump"
	subsystem = "send"
)

// Collector holds every metric tcppump exposes about a run.
type Collector struct {
	PacketsSent       prometheus.Counter
	BytesSent         prometheus.Counter
	RunDuration       prometheus.Gauge
	ARPCacheSize      prometheus.Gauge
	ResolutionFailure prometheus.Counter
}

// NewCollector builds a Collector and registers it against reg. A nil
// reg registers against prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_total",
			Help:      "Total Ethernet frames transmitted.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_total",
			Help:      "Total bytes transmitted across all frames.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of the most recently completed run.",
		}),
		ARPCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "arp_cache_entries",
			Help:      "Number of destination MACs currently cached by the resolver.",
		}),
		ResolutionFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolution_failures_total",
			Help:      "Total ARP resolution attempts that failed after every retry.",
		}),
	}

	reg.MustRegister(c.PacketsSent, c.BytesSent, c.RunDuration, c.ARPCacheSize, c.ResolutionFailure)
	return c
}

// RecordRun updates the counters/gauges for one completed scheduler run.
func (c *Collector) RecordRun(packets, bytes uint64, duration time.Duration) {
	c.PacketsSent.Add(float64(packets))
	c.BytesSent.Add(float64(bytes))
	c.RunDuration.Set(duration.Seconds())
}

// RecordResolutionFailure increments the resolver failure counter.
func (c *Collector) RecordResolutionFailure() {
	c.ResolutionFailure.Inc()
}

// SetARPCacheSize reports the resolver's current cache occupancy.
func (c *Collector) SetARPCacheSize(n int) {
	c.ARPCacheSize.Set(float64(n))
}

// NewServer returns an HTTP server exposing reg's metrics at /metrics.
func NewServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ListenAndServe runs srv until ctx is cancelled, then shuts it down
// gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("stats: listen on %s: %w", srv.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("stats: serve on %s: %w", srv.Addr, err)
	}
}
