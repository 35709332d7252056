// Package config provides configuration loading, merging, and path management for Careline.
//
// This package handles the configuration system that supports multiple sources
// and formats, with a hierarchical loading strategy that ensures proper precedence.
//
// # Configuration Loading
//
// The Load function searches for and merges configuration from multiple sources
// in priority order:
//
//  1. Built-in defaults
//  2. Global config (~/.config/careline/ - XDG compatible)
//  3. Project config (careline.json/careline.jsonc and .careline/ in the
//     working directory)
//  4. CARELINE_CONFIG file
//  5. CARELINE_CONFIG_CONTENT inline JSON
//  6. Environment variables
//
// Configuration files are loaded in a specific order to ensure that more specific
// configurations override more general ones, while environment variables have the
// highest precedence. The fully merged config is validated before it is returned.
//
// # Supported Formats
//
// The package supports both JSON and JSONC (JSON with Comments) formats:
//   - careline.json - Standard JSON configuration
//   - careline.jsonc - JSON with comments, processed using tidwall/jsonc
//
// # Variable Interpolation
//
// Configuration files support two types of variable interpolation:
//   - {env:VAR_NAME} - Expands to environment variable values
//   - {file:path} - Expands to file contents (properly escaped for JSON)
//
// File paths in {file:path} placeholders support:
//   - Absolute paths
//   - Relative paths (resolved relative to config file directory)
//   - Home directory expansion (~/)
//
// Example configuration with interpolation:
//
//	{
//	  "provider": {
//	    "anthropic": {
//	      "apiKey": "{env:ANTHROPIC_API_KEY}"
//	    }
//	  }
//	}
//
// # Configuration Merging
//
// Each configuration file is unmarshaled directly into the accumulating config,
// which gives overlay semantics:
//   - Fields present in the file overwrite the earlier value
//   - Absent fields keep their earlier value
//   - Maps merge by key
//
// # Path Management
//
// The package provides XDG Base Directory Specification compliant path management
// through the Paths type:
//   - Data: ~/.local/share/careline (XDG_DATA_HOME)
//   - Config: ~/.config/careline (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/careline (XDG_CACHE_HOME)
//   - State: ~/.local/state/careline (XDG_STATE_HOME)
//
// On Windows, these paths are adapted to use APPDATA as appropriate.
//
// # Environment Variable Overrides
//
// Several environment variables provide direct configuration overrides:
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / ARK_API_KEY - Provider credentials
//   - CARELINE_MODEL - Override the generation model
//   - CARELINE_PORT - Override the server port
//   - CARELINE_DATA_DIR - Override the data directory
//   - CARELINE_CONFIG - Path to a specific config file
//   - CARELINE_CONFIG_CONTENT - Inline JSON configuration
//   - CARELINE_CONFIG_DIR - Override the config directory location
//
// # Usage Example
//
//	// Load configuration from the current directory
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Get standard paths
//	paths := config.GetPaths()
//	err = paths.EnsurePaths() // Create directories if they don't exist
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Save configuration
//	err = config.Save(cfg, config.GlobalConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
