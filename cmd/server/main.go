package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/factory"
	"github.com/lychee-technology/ria/internal"
	"go.uber.org/zap"
)

// Server exposes a DomainService over HTTP.
type Server struct {
	service     *internal.DomainService
	mux         *http.ServeMux
	stackTraces bool
}

// NewServer creates a new Server instance
func NewServer(service *internal.DomainService) *Server {
	return &Server{
		service: service,
		mux:     http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("POST /submit", s.handleSubmit)
	s.mux.HandleFunc("POST /invoke/{name}", s.handleInvoke)
	s.mux.HandleFunc("POST /{type}/query/{name}", s.handleQuery)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

func main() {
	configPath := flag.String("config", os.Getenv("RIA_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := ria.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := factory.NewLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := factory.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		sugar.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			sugar.Warnw("telemetry shutdown failed", "error", err)
		}
	}()

	service, closeStore, err := factory.NewDomainService(ctx, cfg)
	if err != nil {
		sugar.Fatalf("failed to create domain service: %v", err)
	}
	defer closeStore()
	registerBuiltins(service)

	server := NewServer(service)
	server.stackTraces = cfg.Logging.Level == "debug"
	server.RegisterRoutes()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("server shutdown failed", "error", err)
		}
	}()

	sugar.Infow("starting server", "address", cfg.Server.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatalf("server error: %v", err)
	}
}
