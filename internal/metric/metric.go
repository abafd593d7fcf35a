// Package metric exposes pipeline counters to Prometheus. It implements the
// observer interfaces of the allowlist, handler and forward packages.
package metric

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metric struct {
	registry *prometheus.Registry

	received      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	sinkOutcomes  *prometheus.CounterVec
	queueFull     prometheus.Counter
	refreshes     *prometheus.CounterVec
	allowlistSize prometheus.Gauge
}

// New registers the collectors on a private registry so several instances
// can coexist in one process.
func New(appID string) *Metric {
	ns := strings.NewReplacer("-", "_", " ", "_").Replace(appID)
	reg := prometheus.NewRegistry()

	m := &Metric{
		registry: reg,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_received_total",
			Help:      "MQTT messages received, by envelope kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "readings_dropped_total",
			Help:      "Messages or readings dropped before forwarding, by reason.",
		}, []string{"reason"}),
		sinkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sink_deliveries_total",
			Help:      "Delivery attempts per sink and outcome.",
		}, []string{"sink", "outcome"}),
		queueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "forward_queue_full_total",
			Help:      "Readings rejected because the forward queue was full.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "allowlist_refreshes_total",
			Help:      "Allowlist refresh attempts, by result.",
		}, []string{"result"}),
		allowlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "allowlist_size",
			Help:      "Devices currently in the allowlist.",
		}),
	}

	reg.MustRegister(m.received, m.dropped, m.sinkOutcomes, m.queueFull, m.refreshes, m.allowlistSize)
	return m
}

func (m *Metric) Registry() *prometheus.Registry { return m.registry }

func (m *Metric) MessageReceived(kind string)  { m.received.WithLabelValues(kind).Inc() }
func (m *Metric) MessageDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }

func (m *Metric) SinkOutcome(sink, outcome string) {
	m.sinkOutcomes.WithLabelValues(sink, outcome).Inc()
}

func (m *Metric) QueueFull() { m.queueFull.Inc() }

func (m *Metric) AllowlistRefreshed(ok bool, size int) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.allowlistSize.Set(float64(size))
}

// Handler serves /metrics and /healthz.
func (m *Metric) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics server until ctx is done.
func (m *Metric) Serve(ctx context.Context, addr string, logger *zap.SugaredLogger) {
	srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infow("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("metrics server stopped", "error", err)
	}
}
