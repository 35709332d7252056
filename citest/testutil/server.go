package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/careline-ai/careline/internal/config"
	"github.com/careline-ai/careline/internal/ledger"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/internal/provider"
	"github.com/careline-ai/careline/internal/server"
	"github.com/careline-ai/careline/internal/storage"
	"github.com/careline-ai/careline/pkg/types"
)

// TestServer wraps a server instance for testing
type TestServer struct {
	Server  *server.Server
	BaseURL string
	Config  *types.Config
	Ledger  *ledger.Ledger
	Storage *storage.Storage
	MockLLM *MockLLMServer
	TempDir string
	port    int
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	envFile string
	mockLLM bool
	mutate  func(*types.Config)
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// WithMockLLM backs the server with a scripted in-process model endpoint.
// The mock is reachable through TestServer.MockLLM for verdict scripting.
func WithMockLLM() TestServerOption {
	return func(c *testServerConfig) {
		c.mockLLM = true
	}
}

// WithConfig applies a mutation to the test configuration before startup
func WithConfig(mutate func(*types.Config)) TestServerOption {
	return func(c *testServerConfig) {
		c.mutate = mutate
	}
}

// StartTestServer creates and starts a test server
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Load environment variables
	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		// Try default locations
		_ = godotenv.Load("../../.env")
		_ = godotenv.Load("../.env")
		_ = godotenv.Load(".env")
	}

	// Create temp directory for test data
	tempDir, err := os.MkdirTemp("", "careline-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	appConfig := buildTestConfig(tempDir)

	var mock *MockLLMServer
	if cfg.mockLLM {
		mock = NewMockLLMServer()
		appConfig.Provider["openai"] = types.ProviderConfig{
			APIKey:  "test-key",
			BaseURL: mock.URL() + "/v1",
			Model:   "gpt-4o-mini",
		}
		appConfig.Generate.Model = "openai/gpt-4o-mini"
	}

	if cfg.mutate != nil {
		cfg.mutate(appConfig)
	}

	logging.Init(logging.FromConfig(appConfig.Logging))

	// Find available port
	port, err := findAvailablePort()
	if err != nil {
		cleanupTestServer(nil, mock, tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}
	appConfig.Server.Port = port

	ctx := context.Background()

	led, err := ledger.Open(appConfig.Ledger)
	if err != nil {
		cleanupTestServer(nil, mock, tempDir)
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	store := storage.New(filepath.Join(tempDir, "storage"))

	providers, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		cleanupTestServer(led, mock, tempDir)
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	serverConfig := server.FromServerConfig(appConfig.Server)

	srv, err := server.New(serverConfig, appConfig, led, store, providers)
	if err != nil {
		cleanupTestServer(led, mock, tempDir)
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	// Start server in background
	go func() {
		_ = srv.Start()
	}()

	// Wait for server to be ready
	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(ctx)
		cleanupTestServer(led, mock, tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:  srv,
		BaseURL: baseURL,
		Config:  appConfig,
		Ledger:  led,
		Storage: store,
		MockLLM: mock,
		TempDir: tempDir,
		port:    port,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if ts.Server != nil {
		err = ts.Server.Shutdown(ctx)
	}
	cleanupTestServer(ts.Ledger, ts.MockLLM, ts.TempDir)
	return err
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// buildTestConfig creates a fast, self-contained test configuration: data
// under tempDir, in-memory ledger, short escalation backoff, and every
// provider disabled so ambient API keys cannot reach live models. Mock or
// live providers opt back in per test through options.
func buildTestConfig(tempDir string) *types.Config {
	appConfig := config.Default()
	appConfig.DataDir = tempDir
	appConfig.Ledger.InMemory = true
	appConfig.Escalation.MaxAttempts = 1
	appConfig.Escalation.AttemptTimeout = types.Duration(1 * time.Second)
	appConfig.Escalation.RetryInterval = types.Duration(10 * time.Millisecond)
	appConfig.Provider = map[string]types.ProviderConfig{
		"anthropic": {Disable: true},
		"openai":    {Disable: true},
		"ark":       {Disable: true},
	}
	appConfig.Logging.Level = "error"
	return appConfig
}

func cleanupTestServer(led *ledger.Ledger, mock *MockLLMServer, tempDir string) {
	if led != nil {
		_ = led.Close()
	}
	if mock != nil {
		mock.Close()
	}
	if tempDir != "" {
		os.RemoveAll(tempDir)
	}
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
