package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "satchel"

	// DefaultListen is the default address the exporter listens on.
	DefaultListen = "127.0.0.1:8989"

	// readHeaderTimeout bounds how long the exporter waits for a scrape
	// request's headers.
	readHeaderTimeout = 5 * time.Second
)

// Prometheus configures the Prometheus metrics exporter.
type Prometheus struct {
	Enable bool   `long:"enable" description:"Enable the Prometheus metrics exporter"`
	Listen string `long:"listen" description:"The address the exporter listens on for /metrics scrapes"`
}

// DefaultPrometheus is the default configuration for the Prometheus metrics
// exporter.
func DefaultPrometheus() Prometheus {
	return Prometheus{
		Listen: DefaultListen,
	}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Enable
}

// Metrics holds the host's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	dispatched *prometheus.CounterVec
	approvals  *prometheus.CounterVec
	reconnects prometheus.Counter

	mu     sync.Mutex
	server *http.Server
}

// NewMetrics creates the collectors and registers them on a fresh registry
// together with the process and go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "control_messages_total",
				Help:      "Control messages dispatched, by type.",
			},
			[]string{"type", "known"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approvals_total",
				Help:      "Approval requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sdk_reconnects_total",
			Help:      "Connections replaced by the connection lock.",
		}),
	}

	m.registry.MustRegister(
		m.dispatched, m.approvals, m.reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	return m
}

// ObserveDispatch counts one dispatched control message. Unknown types are
// folded into a single label value so a caller cannot blow up cardinality.
func (m *Metrics) ObserveDispatch(msgType string, known bool) {
	if m == nil {
		return
	}

	knownLabel := "true"
	if !known {
		msgType = "unknown"
		knownLabel = "false"
	}
	m.dispatched.WithLabelValues(msgType, knownLabel).Inc()
}

// ObserveApproval counts one final approval outcome.
func (m *Metrics) ObserveApproval(method, outcome string) {
	if m == nil {
		return
	}

	m.approvals.WithLabelValues(method, outcome).Inc()
}

// IncrementReconnects counts one connection replaced by another identity.
func (m *Metrics) IncrementReconnects() {
	if m == nil {
		return
	}

	m.reconnects.Inc()
}

// Handler returns the /metrics handler of the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Start launches the exporter on listen. It returns once the listener is
// bound.
func (m *Metrics) Start(listen string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return nil
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	log.Infof("Prometheus exporter started on %v/metrics", lis.Addr())

	go func() {
		err := m.server.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Prometheus exporter stopped: %v", err)
		}
	}()

	return nil
}

// Stop shuts the exporter down.
func (m *Metrics) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}

	err := m.server.Shutdown(ctx)
	m.server = nil

	return err
}
