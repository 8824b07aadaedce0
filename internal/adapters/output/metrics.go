package output

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/domain"
)

type PrometheusMetrics struct {
	eventsIngested prometheus.CounterFunc
	eventsRejected prometheus.CounterFunc
	decisions      *prometheus.CounterVec
	blocksApplied  prometheus.CounterFunc
	blocksExtended prometheus.CounterFunc
	activeBlocks   prometheus.GaugeFunc
	queueSize      prometheus.Gauge
	memoryUsage    prometheus.GaugeFunc

	server *http.Server
	mu     sync.Mutex
}

type MetricsConfig struct {
	Port string
	Path string
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Port: ":9090",
		Path: "/metrics",
	}
}

// NewPrometheusMetrics exposes the engine's internal counters plus an
// active-block gauge sampled from the registry.
func NewPrometheusMetrics(namespace string, internal *domain.EngineMetrics, activeBlocks func() int) *PrometheusMetrics {
	if namespace == "" {
		namespace = "sshwarden"
	}

	m := &PrometheusMetrics{}

	m.eventsIngested = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Total failed authentication events ingested",
	}, func() float64 {
		if internal != nil {
			return float64(internal.GetSnapshot().EventsIngested)
		}
		return 0
	})

	m.eventsRejected = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Total events rejected for invalid source addresses",
	}, func() float64 {
		if internal != nil {
			return float64(internal.GetSnapshot().EventsRejected)
		}
		return 0
	})

	m.decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Total decisions emitted by kind and reason",
	}, []string{"kind", "reason"})

	m.blocksApplied = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_applied_total",
		Help:      "Total new block entries created",
	}, func() float64 {
		if internal != nil {
			return float64(internal.GetSnapshot().BlocksApplied)
		}
		return 0
	})

	m.blocksExtended = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_extended_total",
		Help:      "Total expiry extensions on existing block entries",
	}, func() float64 {
		if internal != nil {
			return float64(internal.GetSnapshot().BlocksExtended)
		}
		return 0
	})

	m.activeBlocks = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_blocks",
		Help:      "Currently blocked source addresses",
	}, func() float64 {
		if activeBlocks != nil {
			return float64(activeBlocks())
		}
		return 0
	})

	m.queueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_size",
		Help:      "Current size of the decision dispatch queue",
	})

	m.memoryUsage = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current memory usage in bytes",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Alloc)
	})

	return m
}

func (m *PrometheusMetrics) RecordDecision(d domain.Decision) {
	m.decisions.WithLabelValues(string(d.Kind), string(d.Reason)).Inc()
}

func (m *PrometheusMetrics) SetQueueSize(size int) {
	m.queueSize.Set(float64(size))
}

func (m *PrometheusMetrics) StartServer(config MetricsConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(config.Path, promhttp.Handler())

	m.server = &http.Server{
		Addr:              config.Port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", config.Port).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

func (m *PrometheusMetrics) StopServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return m.server.Close()
	}
	return nil
}

// OnDecision implements ports.DecisionSubscriber.
func (m *PrometheusMetrics) OnDecision(d domain.Decision) {
	m.RecordDecision(d)
}
