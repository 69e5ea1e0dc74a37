// Package metrics exposes the engine's prometheus instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

const namespace = "vulnimpact"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	repositoryScans  *prometheus.CounterVec
	criticalHits     *prometheus.GaugeVec
	ingested         prometheus.Counter
	remediationTotal *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scan cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed scan cycles",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		repositoryScans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_scans_total",
			Help:      "Repository pipeline passes by status",
		}, []string{"status"}),
		criticalHits: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "critical_hits",
			Help:      "Critical hits found by the latest scan of a repository",
		}, []string{"repository"}),
		ingested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vulnerabilities_ingested_total",
			Help:      "Vulnerability records newly stored from intelligence feeds",
		}),
		remediationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_requests_total",
			Help:      "Remediation requests by status",
		}, []string{"status"}),
	}
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) CycleFinished(outcome string, elapsed time.Duration) {
	m.cycles.WithLabelValues(outcome).Inc()
	if outcome == shared.OutcomeCompleted {
		m.cycleDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RepositoryScanned(repository, status string, criticalHits int) {
	m.repositoryScans.WithLabelValues(status).Inc()
	if status == shared.StatusSucceeded {
		m.criticalHits.WithLabelValues(repository).Set(float64(criticalHits))
	}
}

func (m *Metrics) VulnerabilitiesIngested(n int) {
	m.ingested.Add(float64(n))
}

func (m *Metrics) RemediationRequested(status string) {
	m.remediationTotal.WithLabelValues(status).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Route is an extra handler served next to /metrics.
type Route struct {
	Pattern string
	Handler http.Handler
}

// Mux routes /metrics and the extra routes.
func (m *Metrics) Mux(routes ...Route) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	return mux
}

// Serve exposes /metrics and routes on listen until ctx is done.
func (m *Metrics) Serve(ctx context.Context, listen string, logger hclog.Logger, routes ...Route) error {
	mux := m.Mux(routes...)
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	logger.Info("serving metrics", "listen", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
