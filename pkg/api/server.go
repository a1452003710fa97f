// Package api serves the monitor's HTTP surface: liveness, the status
// document, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	uberatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/metrics"
)

var ErrServerAlreadyStarted = errors.New("server was already started")

type Config struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// StatusProvider supplies the current status document; the monitor
// implements it.
type StatusProvider interface {
	Status(ctx context.Context) *Status
}

type Server struct {
	config   *Config
	logger   *zap.Logger
	provider StatusProvider
	exporter *metrics.Exporter

	srv        *http.Server
	srvStarted uberatomic.Bool
}

func New(config *Config, provider StatusProvider, exporter *metrics.Exporter, logger *zap.Logger) *Server {
	return &Server{
		config:   config,
		logger:   logger,
		provider: provider,
		exporter: exporter,
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
			ReadTimeout:       time.Second,
			ReadHeaderTimeout: time.Second,
			WriteTimeout:      5 * time.Second,
			IdleTimeout:       10 * time.Second,
		},
	}
}

func (s *Server) Run() error {
	if s.srvStarted.Swap(true) {
		return ErrServerAlreadyStarted
	}

	s.srv.Handler = s.getRouter()
	logger := s.logger.Sugar()
	logger.Infof("API server listening on %s:%d", s.config.Host, s.config.Port)

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.exporter != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.exporter.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return gziphandler.GzipHandler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.provider.Status(r.Context())

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		s.logger.Sugar().Warnw("could not encode status response", "error", err)
	}
}
