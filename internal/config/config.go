package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"

	"github.com/careline-ai/careline/pkg/types"
)

// Default returns the built-in configuration defaults.
func Default() *types.Config {
	return &types.Config{
		Session: types.SessionConfig{
			ConsentTimeout: types.Duration(5 * time.Minute),
			IdleTimeout:    types.Duration(30 * time.Minute),
			HardTimeout:    types.Duration(2 * time.Hour),
			TriageTimeout:  types.Duration(10 * time.Second),
			SweepInterval:  types.Duration(30 * time.Second),
			MaxMessages:    50,
		},
		Risk: types.RiskConfig{
			ClassifierTimeout: types.Duration(2 * time.Second),
			DegradedSeverity:  types.SeverityMedium,
			EscalateAt:        types.SeverityHigh,
			EmergencyAt:       types.SeverityCritical,
		},
		Escalation: types.EscalationConfig{
			Channel:        "crisis-team",
			MaxAttempts:    3,
			AttemptTimeout: types.Duration(5 * time.Second),
			RetryInterval:  types.Duration(500 * time.Millisecond),
		},
		Ledger: types.LedgerConfig{
			SyncWrites: true,
			GCInterval: types.Duration(10 * time.Minute),
		},
		Archive: types.ArchiveConfig{
			Retention:     types.Duration(7 * 24 * time.Hour),
			SweepInterval: types.Duration(time.Hour),
		},
		Resources: types.ResourcesConfig{
			FetchTimeout: types.Duration(30 * time.Second),
		},
		Observe: types.ObserveConfig{
			QueueSize: 1024,
		},
		Generate: types.GenerateConfig{
			MaxTokens: 1024,
			Timeout:   types.Duration(10 * time.Second),
		},
		Provider: make(map[string]types.ProviderConfig),
		Server: types.ServerConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Logging: types.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Built-in defaults
// 2. Global config (~/.config/careline/)
// 3. Project config (careline.json / .careline/ in the working directory)
// 4. CARELINE_CONFIG file
// 5. CARELINE_CONFIG_CONTENT inline JSON
// 6. Environment variables
//
// The merged result is validated before it is returned.
func Load(directory string) (*types.Config, error) {
	config := Default()

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 2. XDG global config (~/.config/careline/)
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "careline.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "careline.jsonc"), globalPath)

	// 3. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".careline")
		loadOnce(filepath.Join(directory, "careline.json"), directory)
		loadOnce(filepath.Join(directory, "careline.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "careline.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "careline.jsonc"), projectConfigDir)
	}

	// 4. CARELINE_CONFIG file override
	if configPath := os.Getenv("CARELINE_CONFIG"); configPath != "" {
		configDir := filepath.Dir(configPath)
		loadOnce(configPath, configDir)
	}

	// 5. CARELINE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("CARELINE_CONFIG_CONTENT"); configContent != "" {
		data := jsonc.ToJSON([]byte(configContent))
		_ = json.Unmarshal(data, config)
	}

	// 6. Environment variables (highest priority)
	applyEnvOverrides(config)

	applyDerivedDefaults(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
// Unmarshaling directly into the accumulating config gives overlay
// semantics: fields present in the file override, absent fields keep their
// earlier value, and maps merge by key.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	if err := json.Unmarshal(data, config); err != nil {
		return err
	}
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		// Resolve path
		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if config.Provider == nil {
		config.Provider = make(map[string]types.ProviderConfig)
	}

	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	// ARK requires an endpoint/model ID alongside the key
	if arkModel := os.Getenv("ARK_MODEL_ID"); arkModel != "" {
		p := config.Provider["ark"]
		if p.Model == "" {
			p.Model = arkModel
			config.Provider["ark"] = p
		}
	}

	if model := os.Getenv("CARELINE_MODEL"); model != "" {
		config.Generate.Model = model
	}

	if dataDir := os.Getenv("CARELINE_DATA_DIR"); dataDir != "" {
		config.DataDir = dataDir
	}

	if port := os.Getenv("CARELINE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
}

// applyDerivedDefaults fills paths that depend on other settings.
func applyDerivedDefaults(config *types.Config) {
	if config.DataDir == "" {
		config.DataDir = GetPaths().Data
	}
	if config.Ledger.Path == "" && !config.Ledger.InMemory {
		config.Ledger.Path = filepath.Join(config.DataDir, "ledger")
	}
}

// Validate checks the configuration's struct tags and cross-field rules.
func Validate(config *types.Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers CARELINE_CONFIG_DIR, then ~/.config/careline.
func GetConfigDir() string {
	if dir := os.Getenv("CARELINE_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}
