package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/config"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
)

// Server is the scripted writing backend.
type Server struct {
	port      int
	stepDelay time.Duration
	plan      []PlanStep
	logger    *logging.Logger
	registry  *prometheus.Registry
	metrics   *backendMetrics

	engine   *gin.Engine
	upgrader websocket.Upgrader

	// HTTP server
	server   *http.Server
	listener net.Listener
	started  bool

	mu      sync.Mutex
	runs    map[string]*run
	clients map[*client]struct{}
}

// Config holds server configuration options.
type Config struct {
	Port      int
	StepDelay time.Duration
	// Plan defaults to DefaultPlan.
	Plan   []PlanStep
	Logger *logging.Logger
}

// NewServer creates a new Server instance.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.StepDelay < 0 {
		return nil, errors.New("step delay must not be negative")
	}

	plan := cfg.Plan
	if len(plan) == 0 {
		plan = DefaultPlan()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	registry := prometheus.NewRegistry()
	s := &Server{
		port:      cfg.Port,
		stepDelay: cfg.StepDelay,
		plan:      plan,
		logger:    logger.With("component", "backend"),
		registry:  registry,
		metrics:   newBackendMetrics(registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		runs:    make(map[string]*run),
		clients: make(map[*client]struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.engine = engine
	s.setupRoutes()

	return s, nil
}

// NewServerFromConfig creates a new Server from a config.ServerConfig.
func NewServerFromConfig(cfg *config.ServerConfig, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	return NewServer(&Config{
		Port:      cfg.Port,
		StepDelay: cfg.StepDelay,
		Logger:    logger,
	})
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// Start starts the HTTP server and blocks until it is stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:     s.engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("backend listening", "addr", listener.Addr().String())
	err = s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop stops every session run, closes client connections and shuts the
// HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	srv := s.server
	started := s.started
	s.started = false
	s.mu.Unlock()

	for _, r := range runs {
		r.halt()
	}
	for _, c := range clients {
		c.close()
	}

	if !started || srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// ListenAddr returns the actual address the server is listening on, or ""
// if it has not started.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type healthResponse struct {
	Status   string `json:"status"`
	Clients  int    `json:"clients"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	resp := healthResponse{Status: "ok", Clients: len(s.clients), Sessions: len(s.runs)}
	s.mu.Unlock()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := newClient(s, conn)
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()
	s.metrics.clients.Inc()

	cl.serve()

	s.mu.Lock()
	delete(s.clients, cl)
	s.mu.Unlock()
	s.metrics.clients.Dec()
}

// runFor returns the run for a session id, creating it on first use.
func (s *Server) runFor(id string) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		r = newRun(s, id)
		s.runs[id] = r
	}
	return r
}
