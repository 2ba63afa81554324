package infra

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// Metrics holds the daemon's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal     *prometheus.CounterVec
	PatternsTotal   *prometheus.CounterVec
	DispatchesTotal *prometheus.CounterVec
	WindowSize      prometheus.Gauge
}

// NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "patmon_events_total",
			Help: "Filesystem events ingested, by kind",
		}, []string{"kind"}),
		PatternsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "patmon_patterns_detected_total",
			Help: "Pattern matches produced by the classifiers, by type",
		}, []string{"type"}),
		DispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "patmon_dispatches_total",
			Help: "Dispatch outcomes, by action and status",
		}, []string{"action", "status"}),
		WindowSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "patmon_window_events",
			Help: "Events currently held in the detection window",
		}),
	}
}

// ObserveEvent counts one ingested event.
func (m *Metrics) ObserveEvent(ev domain.Event, windowLen int) {
	m.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	m.WindowSize.Set(float64(windowLen))
}

// Observe counts one dispatch outcome. It satisfies usecase.Observer.
func (m *Metrics) Observe(result domain.DispatchResult) {
	m.PatternsTotal.WithLabelValues(string(result.Match.Type())).Inc()
	m.DispatchesTotal.WithLabelValues(string(result.Action), string(result.Status())).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
