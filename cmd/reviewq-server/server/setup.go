// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/Darsh1153/trialbyte-v3-sub002/internal/config"
	"github.com/Darsh1153/trialbyte-v3-sub002/internal/metrics"
	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// ServerConfig holds configuration for the server
type ServerConfig struct {
	Settings    config.ServerConfig
	Logger      *slog.Logger
	AppName     string
	LogRequests bool
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool     *pgxpool.Pool // nil when running on the in-memory store
	Store    reviewq.Store
	Service  *reviewq.ReviewService
	JWTAuth  *reviewq.JWTAuth
	Metrics  *metrics.Recorder
	Registry *prometheus.Registry
	Handler  http.Handler
	Logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// SetupServer initializes the store, review service and routes. It is shared
// by main() and tests.
func SetupServer(cfg *ServerConfig) (*ServerComponents, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appName := cfg.AppName
	if appName == "" {
		appName = "reviewq-server"
	}
	settings := cfg.Settings

	sc := &ServerComponents{Logger: logger, ctx: ctx, cancel: cancel}

	if settings.DatabaseURL != "" {
		pool, store, err := openPostgres(ctx, settings.DatabaseURL, logger)
		if err != nil {
			cancel()
			return nil, err
		}
		sc.Pool, sc.Store = pool, store
	} else {
		logger.Warn("No database_url configured, review queue is kept in memory")
		sc.Store = reviewq.NewMemoryStore()
	}

	sc.Registry = prometheus.NewRegistry()
	sc.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sc.Metrics = metrics.New(sc.Registry)

	serviceConfig := settings.Service()
	serviceConfig.AppName = appName
	serviceConfig.StageMetrics = sc.Metrics
	service, err := reviewq.NewReviewService(sc.Store, serviceConfig, logger)
	if err != nil {
		sc.Close()
		return nil, err
	}
	sc.Service = service

	jwtSecret := settings.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "your-secret-key-change-in-production"
		logger.Warn("Using default JWT secret - change in production!")
	}
	sc.JWTAuth = reviewq.NewJWTAuth(jwtSecret)
	tokenTTL := settings.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	handlers := reviewq.NewHTTPReviewHandlers(service, sc.JWTAuth, logger)
	protected := func(route string, h http.HandlerFunc) http.Handler {
		return sc.Metrics.Instrument(route, LoggingMiddleware(cfg.LogRequests, sc.JWTAuth.Middleware(h), logger))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", reviewq.HealthHandler(appName))
	mux.Handle("GET /metrics", promhttp.HandlerFor(sc.Registry, promhttp.HandlerOpts{}))
	mux.Handle("POST "+reviewq.PathSignin, sc.Metrics.Instrument("auth.signin", reviewq.SigninHandler(sc.JWTAuth, tokenTTL, logger)))
	mux.Handle("POST "+reviewq.PathSubmitChange, protected("pending_changes.submit", handlers.HandleSubmitChange))
	mux.Handle("GET "+reviewq.PathPendingChanges, protected("pending_changes.list", handlers.HandleListChanges))
	mux.Handle("POST "+reviewq.PathPendingChanges+"/{id}/approve", protected("pending_changes.approve", handlers.HandleApprove))
	mux.Handle("POST "+reviewq.PathPendingChanges+"/{id}/reject", protected("pending_changes.reject", handlers.HandleReject))

	origins := settings.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := settings.CORSMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	}
	sc.Handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: []string{"Authorization", "Content-Type", reviewq.HeaderIdempotencyKey},
	}).Handler(mux)

	return sc, nil
}

func openPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, *reviewq.PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}
	store, err := reviewq.NewPostgresStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, store, nil
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.Service != nil {
		sc.Service.Close()
	}
	if sc.Pool != nil {
		sc.Pool.Close()
	}
	if sc.cancel != nil {
		sc.cancel()
	}
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(cfg *ServerConfig) (*TestServer, error) {
	components, err := SetupServer(cfg)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates a JWT token for testing
func (ts *TestServer) GenerateToken(userID, role string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(userID, role, duration)
}

// LoggingMiddleware logs each request and its outcome. Small POST bodies are
// logged at debug level.
func LoggingMiddleware(enableLogging bool, next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !enableLogging {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()

		authInfo := "none"
		if h := r.Header.Get("Authorization"); h != "" {
			authInfo = h
			if len(h) > 20 {
				authInfo = h[:20] + "..."
			}
		}
		if r.Method == http.MethodPost && r.ContentLength > 0 && r.ContentLength < 10000 {
			bodyBytes, err := io.ReadAll(r.Body)
			if err == nil {
				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				logger.Debug("HTTP request body", "path", r.URL.Path, "body", string(bodyBytes))
			}
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"remote_addr", r.RemoteAddr,
			"auth_header", authInfo,
			"status", wrapped.statusCode,
			"duration", time.Since(start).String(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
