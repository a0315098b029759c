// Package opsserver exposes the operational HTTP surface: liveness,
// prometheus metrics and a worker fleet status endpoint.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/registry"
	"github.com/GrabowMar/appanalyzer/internal/store"
	"github.com/GrabowMar/appanalyzer/internal/worker"
	"github.com/GrabowMar/appanalyzer/pkg/log"
	"github.com/GrabowMar/appanalyzer/pkg/metrics"
	"github.com/GrabowMar/appanalyzer/pkg/middleware"
)

const gracefulShutdownTimeout = 5 * time.Second

type Server struct {
	bindAddress string
	store       store.Store
	monitor     *worker.HealthMonitor
	pool        *worker.Pool
	listener    net.Listener
	httpServer  *http.Server
}

func New(bindAddress string, s store.Store, pool *worker.Pool, monitor *worker.HealthMonitor, listener net.Listener) *Server {
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("ops_server")
	metricMiddleware.MustRegisterDefault()
	prometheus.MustRegister(metrics.NewStoreStatsCollector(s))

	router.Use(
		metricMiddleware.Handler,
		middleware.RequestID,
		log.Logger(zap.L(), "ops_server"),
		chiMiddleware.Recoverer,
	)

	srv := &Server{
		bindAddress: bindAddress,
		store:       s,
		monitor:     monitor,
		pool:        pool,
		listener:    listener,
	}

	router.Get("/healthz", srv.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/workers", srv.handleWorkers)

	srv.httpServer = &http.Server{Addr: bindAddress, Handler: router}
	return srv
}

// Run serves until the context is cancelled, then drains in-flight
// requests within the graceful shutdown window.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.httpServer.SetKeepAlivesEnabled(false)
		_ = s.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("ops_server").Info("ops server terminated")
	}()

	zap.S().Named("ops_server").Infof("serving ops endpoints: %s", s.bindAddress)
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Statistics(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type workerStatus struct {
	Class     string   `json:"class"`
	Replicas  []string `json:"replicas"`
	Reachable bool     `json:"reachable"`
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	statuses := make([]workerStatus, 0, len(registry.AllWorkerClasses))
	for _, class := range registry.AllWorkerClasses {
		statuses = append(statuses, workerStatus{
			Class:     string(class),
			Replicas:  s.pool.Addresses(class),
			Reachable: s.monitor.Reachable(r.Context(), class),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		zap.S().Named("ops_server").Errorw("failed to encode worker status", "error", err)
	}
}
