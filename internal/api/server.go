package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-control4/internal/audit"
	"github.com/nerrad567/gray-logic-control4/internal/auth"
	"github.com/nerrad567/gray-logic-control4/internal/bridges/control4"
	"github.com/nerrad567/gray-logic-control4/internal/device"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeService is the bridge surface the API uses. *control4.Bridge
// satisfies it.
type BridgeService interface {
	Devices() []control4.Device
	Device(id int) (control4.Device, bool)
	Execute(ctx context.Context, deviceID int, command string, params map[string]any) error
	GetMetrics() control4.BridgeMetrics
	RequestResync() bool
}

// HistoryReader reads recorded state changes.
type HistoryReader interface {
	GetHistorySince(ctx context.Context, deviceID string, since time.Time, limit int) ([]device.StateHistoryEntry, error)
}

// ConnectionStatus reports whether a client is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bridge   BridgeService

	// Optional.
	History  HistoryReader
	Audit    audit.Repository
	MQTT     ConnectionStatus
	DB       *sql.DB
	Gatherer prometheus.Gatherer

	Version string
}

// Server is the HTTP API server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	verifier  *auth.Verifier
	logger    *logging.Logger
	bridge    BridgeService
	history   HistoryReader
	audit     audit.Repository
	mqtt      ConnectionStatus
	db        *sql.DB
	prom      http.Handler
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Required dependencies (logger, bridge) and optional ones
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	var prom http.Handler
	if deps.Gatherer != nil {
		prom = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	}

	var verifier *auth.Verifier
	if deps.Security.JWT.Secret != "" {
		verifier = auth.NewVerifier(deps.Security.JWT.Secret, deps.Security.JWT.Issuer)
	}

	return &Server{
		cfg:       deps.Config,
		verifier:  verifier,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		history:   deps.History,
		audit:     deps.Audit,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		prom:      prom,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
