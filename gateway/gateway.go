// Package gateway is the HTTP surface over the telemetry core: ingestion,
// query, energy, retention and the live WebSocket feed, with tiered
// admission control in front of the rate-limited routes.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/kavindyakdn/smart-home-energy-monitor/admission"
	"github.com/kavindyakdn/smart-home-energy-monitor/energy"
	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/health"
	"github.com/kavindyakdn/smart-home-energy-monitor/ingest"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/query"
	"github.com/kavindyakdn/smart-home-energy-monitor/retention"
)

// Server routes HTTP traffic to the core services.
type Server struct {
	ingest    *ingest.Service
	query     *query.Engine
	energy    *energy.Integrator
	sweeper   *retention.Sweeper
	admission *admission.Controller
	monitor   *health.Monitor
	logger    *slog.Logger

	router     *mux.Router
	httpServer *http.Server
}

// Options carries the optional collaborators.
type Options struct {
	Metrics   *metric.Registry // mounts /metrics when set
	Feed      http.Handler     // mounts /ws when set
	Logger    *slog.Logger
	AccessLog bool // wrap the router in a combined access log

	// Zero timeouts fall back to 15s read / 30s write.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer wires the routes. addr is the listen address; the server does
// not listen until Start.
func NewServer(addr string, ing *ingest.Service, qry *query.Engine, integ *energy.Integrator,
	sweeper *retention.Sweeper, ctrl *admission.Controller, monitor *health.Monitor, opts Options) *Server {

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		ingest:    ing,
		query:     qry,
		energy:    integ,
		sweeper:   sweeper,
		admission: ctrl,
		monitor:   monitor,
		logger:    logger,
		router:    mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/samples", s.gate(admission.TierShort, s.handleIngestOne)).Methods(http.MethodPost)
	api.Handle("/samples/batch", s.gate(admission.TierMedium, s.handleIngestBatch)).Methods(http.MethodPost)
	api.Handle("/samples", s.gate(admission.TierMedium, s.handleQuery)).Methods(http.MethodGet)
	api.Handle("/samples", s.gate(admission.TierLong, s.handleSweep)).Methods(http.MethodDelete)
	api.Handle("/devices/{id}/stats", s.gate(admission.TierMedium, s.handleStats)).Methods(http.MethodGet)
	api.Handle("/energy", s.gate(admission.TierMedium, s.handleEnergy)).Methods(http.MethodGet)
	api.Handle("/energy/daily", s.gate(admission.TierMedium, s.handleEnergyDaily)).Methods(http.MethodGet)

	// Operational surfaces bypass admission control.
	if monitor != nil {
		s.router.Handle("/healthz", monitor.Handler()).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	if opts.Feed != nil {
		// Connection-oriented; one connection serves many events, so it
		// is not admission-gated.
		s.router.Handle("/ws", opts.Feed).Methods(http.MethodGet)
	}

	var handler http.Handler = s.router
	if opts.AccessLog {
		handler = handlers.CombinedLoggingHandler(accessLogWriter{logger}, handler)
	}

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens and serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.logger.Info("http gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "gateway", "Start", "listen")
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// gate applies tiered admission control before the handler runs.
func (s *Server) gate(tier admission.Tier, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.admission != nil {
			if err := s.admission.Allow(r.Context(), clientID(r), tier); err != nil {
				s.writeError(w, err)
				return
			}
		}
		next(w, r)
	})
}

// clientID identifies the caller for rate limiting: the X-Client-ID header
// when present, the remote host otherwise.
func clientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// accessLogWriter routes the combined access log through slog.
type accessLogWriter struct {
	logger *slog.Logger
}

func (w accessLogWriter) Write(p []byte) (int, error) {
	w.logger.Info("http access", "line", string(p))
	return len(p), nil
}
