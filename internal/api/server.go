package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vigil-core/internal/audit"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/infrastructure/config"
	"github.com/nerrad567/vigil-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/vigil-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the ops API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Registry  *device.Registry
	AuditRepo audit.Repository
	Influx    *influxdb.Client // optional; history queries 404 without it
	Hub       *Hub             // optional; the server creates one if nil
	Version   string
}

// Server is the HTTP ops API server.
//
// It manages the HTTP listener, routes, middleware and the WebSocket hub.
// Create with New() and start with Start(). Safe for concurrent use.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	registry  *device.Registry
	auditRepo audit.Repository
	influx    *influxdb.Client
	version   string

	server      *http.Server
	hub         *Hub
	externalHub bool
	tickets     *ticketStore
	cancel      context.CancelFunc
}

// New creates an ops API server. It does not listen until Start().
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		auditRepo: deps.AuditRepo,
		influx:    deps.Influx,
		version:   deps.Version,
		tickets:   newTicketStore(),
	}

	// Use an externally provided hub when the notifier also needs it
	// for broadcasting.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, creating it on first use.
// The notifier broadcasts audit events through it.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections. The listener runs in a
// background goroutine; stop it with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops API server error", "error", err)
		}
	}()

	s.logger.Info("ops API server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the server, waiting up to ten seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("ops API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down ops API server: %w", err)
	}
	return nil
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/history", s.handleDeviceHistory)
				})
			})

			r.Get("/audit", s.handleListAuditEvents)
		})

		// WebSocket auth is via single-use ticket, validated in the
		// handler; browsers cannot set Authorization on an upgrade.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
