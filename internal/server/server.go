package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/xray/internal/auth"
	"github.com/ashita-ai/xray/internal/demo"
	"github.com/ashita-ai/xray/internal/ratelimit"
	"github.com/ashita-ai/xray/internal/service/executions"
)

// Server is the xrayd HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Broker, DemoRunner, StorePinger.
type Config struct {
	// Required dependencies.
	ExecSvc *executions.Service
	JWTMgr  *auth.JWTManager
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter     ratelimit.Limiter
	Broker      *Broker
	DemoRunner  *demo.Pipeline
	StorePinger Pinger

	// Credential hashes resolved at startup from configuration.
	AdminKeyHash  string
	ViewerKeyHash string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	StoreBackend        string
	MaxRequestBodyBytes int64
	MaxPageSize         int
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		ExecSvc:             cfg.ExecSvc,
		JWTMgr:              cfg.JWTMgr,
		Broker:              cfg.Broker,
		DemoRunner:          cfg.DemoRunner,
		StorePinger:         cfg.StorePinger,
		AdminKeyHash:        cfg.AdminKeyHash,
		ViewerKeyHash:       cfg.ViewerKeyHash,
		StoreBackend:        cfg.StoreBackend,
		Logger:              cfg.Logger,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxPageSize:         cfg.MaxPageSize,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	authRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, reqIDFunc)
	apiRL := ratelimit.Middleware(limiter, roleKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token issuance (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Read endpoints (any authenticated role, rate limited).
	mux.Handle("GET /api/executions", apiRL(http.HandlerFunc(h.HandleListExecutions)))
	mux.Handle("GET /api/executions/compare", apiRL(http.HandlerFunc(h.HandleCompare)))
	mux.Handle("GET /api/executions/{id}", apiRL(http.HandlerFunc(h.HandleGetExecution)))
	mux.Handle("GET /api/executions/{id}/steps", apiRL(http.HandlerFunc(h.HandleGetSteps)))
	mux.Handle("GET /api/stats", apiRL(http.HandlerFunc(h.HandleStats)))
	mux.Handle("GET /api/export", apiRL(http.HandlerFunc(h.HandleExport)))

	// Mutations (admin only, rate limited).
	mux.Handle("PATCH /api/executions/{id}", apiRL(requireWrite(http.HandlerFunc(h.HandleUpdateMetadata))))
	mux.Handle("DELETE /api/executions/{id}", apiRL(requireWrite(http.HandlerFunc(h.HandleDeleteExecution))))
	mux.Handle("DELETE /api/executions", apiRL(requireWrite(http.HandlerFunc(h.HandleDeleteExecutions))))
	mux.Handle("POST /api/demo/run", apiRL(requireWrite(http.HandlerFunc(h.HandleDemoRun))))

	// Event stream (any authenticated role, no rate limit on the
	// long-lived connection itself).
	mux.Handle("GET /api/events", http.HandlerFunc(h.HandleSubscribe))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// roleKeyFunc buckets rate limits by role. Admin tokens are exempt.
func roleKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if claims.Role == auth.RoleAdmin {
		return ""
	}
	return "role:" + string(claims.Role)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
