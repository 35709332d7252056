// Package main provides the entry point for the careline gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/careline-ai/careline/internal/config"
	"github.com/careline-ai/careline/internal/ledger"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/internal/provider"
	"github.com/careline-ai/careline/internal/server"
	"github.com/careline-ai/careline/internal/storage"
)

var (
	port      = flag.Int("port", 0, "Server port (overrides config)")
	directory = flag.String("directory", "", "Working directory")
	version   = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("careline-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// A .env in the working directory supplies provider keys and
	// CARELINE_* overrides; absence is fine.
	_ = godotenv.Load()

	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to get working directory")
		}
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		logging.Fatal().Err(err).Msg("failed to create data directories")
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.FromConfig(appConfig.Logging))
	defer logging.Close()

	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Msg("starting careline server")

	led, err := ledger.Open(appConfig.Ledger)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer led.Close()

	store := storage.New(filepath.Join(appConfig.DataDir, "storage"))

	ctx := context.Background()
	providers, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logging.Warn().Err(err).Msg("some providers failed to initialize, continuing degraded")
	}

	serverConfig := server.FromServerConfig(appConfig.Server)
	if *port != 0 {
		serverConfig.Port = *port
	}

	srv, err := server.New(serverConfig, appConfig, led, store, providers)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
}
