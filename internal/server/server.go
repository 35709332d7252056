package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/careline-ai/careline/internal/escalate"
	"github.com/careline-ai/careline/internal/generate"
	"github.com/careline-ai/careline/internal/ledger"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/internal/observe"
	"github.com/careline-ai/careline/internal/provider"
	"github.com/careline-ai/careline/internal/redact"
	"github.com/careline-ai/careline/internal/resource"
	"github.com/careline-ai/careline/internal/risk"
	"github.com/careline-ai/careline/internal/session"
	"github.com/careline-ai/careline/internal/storage"
	"github.com/careline-ai/careline/pkg/types"
)

// Config holds the HTTP listener configuration.
type Config struct {
	Host         string
	Port         int
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default listener configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         8787,
		CORSOrigins:  []string{"*"},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// FromServerConfig merges the application server settings over the defaults.
func FromServerConfig(sc types.ServerConfig) *Config {
	cfg := DefaultConfig()
	if sc.Host != "" {
		cfg.Host = sc.Host
	}
	if sc.Port != 0 {
		cfg.Port = sc.Port
	}
	if len(sc.CORSOrigins) > 0 {
		cfg.CORSOrigins = sc.CORSOrigins
	}
	return cfg
}

// Server is the HTTP gateway. It owns the session registry, the lifecycle
// sweeper and the observability sink; Start and Shutdown manage all of them
// alongside the listener.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	registry  *session.Registry
	sweeper   *session.Sweeper
	directory *resource.Directory
	metrics   *observe.Metrics
	sink      *observe.Sink
	watcher   *resource.Watcher
}

// New assembles the full service. The ledger and store arrive opened; the
// provider registry may be nil, in which case generation and classification
// degrade to their keyword and fallback paths.
func New(cfg *Config, appConfig *types.Config, led *ledger.Ledger, store *storage.Storage, providers *provider.Registry) (*Server, error) {
	redactor, err := redact.New()
	if err != nil {
		return nil, fmt.Errorf("redactor: %w", err)
	}

	var classifier risk.Classifier
	if c := generate.NewClassifier(providers); c != nil {
		classifier = c
	}
	monitor, err := risk.NewMonitor(appConfig.Risk, classifier)
	if err != nil {
		return nil, fmt.Errorf("risk monitor: %w", err)
	}

	directory, err := resource.NewDirectory(appConfig.Resources)
	if err != nil {
		return nil, fmt.Errorf("resource directory: %w", err)
	}

	generator := generate.NewService(providers, appConfig.Generate)
	escalator := escalate.NewCoordinator(nil, directory, led, appConfig.Escalation)

	registry := session.NewRegistry(*appConfig, session.Deps{
		Ledger:    led,
		Store:     store,
		Redactor:  redactor,
		Monitor:   monitor,
		Generator: generator,
		Escalator: escalator,
		Directory: directory,
	})

	metrics := observe.NewMetrics()

	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		registry:  registry,
		sweeper:   session.NewSweeper(registry, appConfig.Archive),
		directory: directory,
		metrics:   metrics,
		sink:      observe.NewSink(appConfig.Observe, metrics.Consumer(), observe.LogConsumer()),
	}

	if appConfig.Resources.Watch && directory.Path() != "" {
		w, err := resource.NewWatcher(directory)
		if err != nil {
			logging.Warn().Err(err).Msg("resource watcher unavailable, directory reloads disabled")
		} else {
			s.watcher = w
		}
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Logging
	s.router.Use(middleware.Logger)

	// Recover from panics
	s.router.Use(middleware.Recoverer)

	// Real IP
	s.router.Use(middleware.RealIP)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// Start launches the background workers and serves HTTP until the listener
// fails or Shutdown is called.
func (s *Server) Start() error {
	s.sink.Start()
	s.sweeper.Start()
	if s.watcher != nil {
		s.watcher.Start()
	}

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	logging.Info().Str("addr", s.httpSrv.Addr).Msg("gateway listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests, then stops the background workers.
// Sessions survive a restart through the ledger and the session store.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	s.sweeper.Stop()
	s.sink.Stop()
	return err
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Registry exposes the session registry for embedders.
func (s *Server) Registry() *session.Registry {
	return s.registry
}
