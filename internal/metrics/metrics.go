package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gustycube/skywatch/internal/health"
)

var (
	MessagesTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "skywatch_messages_total", Help: "inbound messages by outcome"}, []string{"outcome"})
	TargetsActive    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "skywatch_targets_active", Help: "targets currently tracked"})
	EvictionsTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "skywatch_evictions_total", Help: "targets evicted by the janitor"})
	GeocodeTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "skywatch_geocode_total", Help: "geocoder lookups by result"}, []string{"result"})
	SyncTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "skywatch_sync_total", Help: "snapshot syncs by result"}, []string{"result"})
	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "skywatch_resolutions_total", Help: "identity resolutions by method"}, []string{"method"})
)

func init() {
	prometheus.MustRegister(MessagesTotal, TargetsActive, EvictionsTotal, GeocodeTotal, SyncTotal, ResolutionsTotal)
}

// ServeWithHealth exposes /metrics next to the health endpoints until ctx
// is done.
func ServeWithHealth(ctx context.Context, addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.HealthHandler)
	mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
	mux.HandleFunc("/live", healthHandler.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warnw("metrics server stopped", "err", err)
	}
}
