package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/careline-ai/careline/internal/config"
	"github.com/careline-ai/careline/internal/ledger"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/internal/provider"
	"github.com/careline-ai/careline/internal/server"
	"github.com/careline-ai/careline/internal/storage"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the careline gateway server",
	Long: `Start careline as a server that exposes the session HTTP API,
the live event stream, and the metrics endpoint.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	if cmd.Root().PersistentFlags().Changed("log-level") {
		appConfig.Logging.Level = logLevel
	}
	logging.Init(logging.FromConfig(appConfig.Logging))
	defer logging.Close()

	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Msg("starting careline server")

	led, err := ledger.Open(appConfig.Ledger)
	if err != nil {
		return err
	}
	defer led.Close()

	store := storage.New(filepath.Join(appConfig.DataDir, "storage"))

	ctx := context.Background()
	providers, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logging.Warn().Err(err).Msg("some providers failed to initialize, continuing degraded")
	}

	serverConfig := server.FromServerConfig(appConfig.Server)
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}

	srv, err := server.New(serverConfig, appConfig, led, store, providers)
	if err != nil {
		return err
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
	return nil
}
