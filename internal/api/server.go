package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// MQTTClient is the subset of the MQTT client used by the API server.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	SubscriptionCount() int
}

// StoreStatsReader reports on the workspace store. *database.DB satisfies it.
type StoreStatsReader interface {
	StoreStats(ctx context.Context) (database.StoreStats, error)
}

// VariableLister lists stored workspace variables.
// *workspace.SQLiteVariableRepository satisfies it.
type VariableLister interface {
	ListVariables(ctx context.Context) ([]workspace.Variable, error)
}

// Deps wires the server. Config, Logger, Engine and Documents are required.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Engine    *workspace.Engine
	Documents workspace.DocumentRepository
	Variables VariableLister   // enables GET /variables
	MQTT      MQTTClient       // enables the remote broadcast bridge
	Store     StoreStatsReader // adds store stats to /metrics

	// Hub is shared with the engine's notifier when set; Start creates
	// and owns one otherwise.
	Hub     *Hub
	Version string
}

// Server serves the workspace API and the /ws event stream for one engine.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	engine    *workspace.Engine
	documents workspace.DocumentRepository
	variables VariableLister
	mqtt      MQTTClient
	store     StoreStatsReader
	version   string
	startTime time.Time

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

var errNotStarted = errors.New("api: server not started")

// New validates deps. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Engine == nil:
		return nil, errors.New("api: workspace engine is required")
	case deps.Documents == nil:
		return nil, errors.New("api: document repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		engine:    deps.Engine,
		documents: deps.Documents,
		variables: deps.Variables,
		mqtt:      deps.MQTT,
		store:     deps.Store,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.Hub,
	}, nil
}

// Start binds the listener, so a port already in use is reported here, then
// serves in the background. Remote broadcasts are bridged from MQTT when a
// client was supplied; a failed subscription is logged and the API still
// starts.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("api: listening: %w", err)
	}

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(ctx)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(runCtx)
	}

	if err := s.subscribeBroadcasts(); err != nil {
		s.logger.Warn("remote broadcasts unavailable", "error", err)
	}

	t := s.cfg.Timeouts
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       t.ReadTimeout(),
		ReadHeaderTimeout: t.ReadTimeout(),
		WriteTimeout:      t.WriteTimeout(),
		IdleTimeout:       t.IdleTimeout(),
	}

	tls := s.cfg.TLS
	s.logger.Info("API listening", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var err error
		if tls.Enabled {
			err = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close drops the broadcast bridge, stops an owned hub and drains
// in-flight requests for up to shutdownGrace.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.mqtt != nil {
		if err := s.mqtt.Unsubscribe(mqtt.Topics{}.AllWorkspaceBroadcasts()); err != nil {
			s.logger.Debug("unsubscribing remote broadcasts", "error", err)
		}
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	s.logger.Info("API stopped")
	return nil
}

// HealthCheck fails before Start or once ctx is done.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errNotStarted
	}
	return nil
}
