package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	node       Node
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	registry   *prometheus.Registry
	server     *http.Server
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on; "0" picks a free one
	Port string

	// SecretKey signs and verifies JWT tokens
	SecretKey string

	// TokenTTL bounds issued token lifetime
	TokenTTL time.Duration

	// NoAuth disables authentication on read endpoints
	NoAuth bool

	// Registry is served on /metrics. Nil serves an empty registry.
	Registry *prometheus.Registry

	Logger *zap.Logger
}

// ErrMissingSecret is returned when auth is enabled without a secret key.
var ErrMissingSecret = errors.New("secret key is required unless NoAuth is set")

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SecretKey == "" && !c.NoAuth {
		return ErrMissingSecret
	}
	return nil
}

// SetDefaults fills unset optional fields
func (c *Config) SetDefaults() {
	if c.Port == "" {
		c.Port = "8081"
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// NewServer creates a new HTTP API server
func NewServer(node Node, config Config) (*Server, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger.Named("httpapi")
	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)

	s := &Server{
		node:       node,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(node, jwtAuth, logger),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		registry:   config.Registry,
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:           ":" + config.Port,
		Handler:        s.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Auth returns the token issuer
func (s *Server) Auth() *JWTAuth {
	return s.jwtAuth
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener and blocks until it stops
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http api listening", zap.String("addr", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}
	get := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handler(w, r)
		}
	}

	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))
	mux.Handle("/api/v1/health", withMiddleware(get(s.handlers.Health)))

	mux.Handle("/api/v1/info", withMiddleware(s.middleware.AuthRequired(get(s.handlers.Info))))
	mux.Handle("/api/v1/stats", withMiddleware(s.middleware.AuthRequired(get(s.handlers.Stats))))
	mux.Handle("/api/v1/graph", withMiddleware(s.middleware.AuthRequired(get(s.handlers.Graph))))
	mux.Handle("/api/v1/topics", withMiddleware(s.middleware.AuthRequired(get(s.handlers.Topics))))

	mux.Handle("/api/v1/admin/shutdown", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminShutdown)))

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service": "rosnode HTTP API",
		"node":    s.node.Name(),
		"endpoints": map[string]string{
			"login":    "POST /api/v1/auth/login",
			"health":   "GET /api/v1/health",
			"info":     "GET /api/v1/info",
			"stats":    "GET /api/v1/stats",
			"graph":    "GET /api/v1/graph",
			"topics":   "GET /api/v1/topics?subgraph={prefix}",
			"shutdown": "POST /api/v1/admin/shutdown",
			"metrics":  "GET /metrics",
		},
		"authentication": "Bearer JWT token required for info, stats, graph and topics",
	}
	writeJSON(w, info, http.StatusOK)
}
