package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can use "30s"/"5m" strings.
// Bare numbers are interpreted as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration value: %v", v)
	}
	return nil
}

// Config is the full careline configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// DataDir is the root for ledger, session records and archive.
	DataDir string `json:"dataDir,omitempty"`

	Session    SessionConfig    `json:"session"`
	Risk       RiskConfig       `json:"risk"`
	Escalation EscalationConfig `json:"escalation"`
	Ledger     LedgerConfig     `json:"ledger"`
	Archive    ArchiveConfig    `json:"archive"`
	Resources  ResourcesConfig  `json:"resources"`
	Observe    ObserveConfig    `json:"observe"`
	Generate   GenerateConfig   `json:"generate"`

	// Provider configs keyed by provider ID ("anthropic", "openai", "ark").
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
}

// SessionConfig bounds session lifecycle behavior.
type SessionConfig struct {
	// ConsentTimeout bounds how long a session may sit in INIT without
	// explicit consent before it is closed with reason consent_timeout.
	ConsentTimeout Duration `json:"consentTimeout" validate:"gt=0"`

	// IdleTimeout closes a session after this much inactivity.
	IdleTimeout Duration `json:"idleTimeout" validate:"gt=0"`

	// HardTimeout is the absolute session age ceiling, independent of
	// activity.
	HardTimeout Duration `json:"hardTimeout" validate:"gt=0"`

	// TriageTimeout bounds triage summary generation; on expiry triage
	// proceeds degraded with a partial summary.
	TriageTimeout Duration `json:"triageTimeout" validate:"gt=0"`

	// SweepInterval is how often the idle/hard timeout sweeps run.
	SweepInterval Duration `json:"sweepInterval" validate:"gt=0"`

	// MaxMessages is the per-session turn cap; reaching it forces CLOSE.
	MaxMessages int `json:"maxMessages" validate:"gte=2"`
}

// RiskConfig tunes the risk monitor.
type RiskConfig struct {
	// ClassifierTimeout bounds the external classifier call.
	ClassifierTimeout Duration `json:"classifierTimeout" validate:"gt=0"`

	// DegradedSeverity is the floor severity assumed when the classifier is
	// unavailable. Never NONE: absence of signal must not downgrade risk.
	DegradedSeverity Severity `json:"degradedSeverity" validate:"gte=1,lte=4"`

	// EscalateAt is the fast-path threshold.
	EscalateAt Severity `json:"escalateAt" validate:"gte=1,lte=4"`

	// EmergencyAt is the severity requiring a synchronous emergency-number
	// directive before any hand-off.
	EmergencyAt Severity `json:"emergencyAt" validate:"gtefield=EscalateAt"`
}

// EscalationConfig bounds hand-off behavior.
type EscalationConfig struct {
	Channel        string   `json:"channel,omitempty"`
	MaxAttempts    int      `json:"maxAttempts" validate:"gte=1"`
	AttemptTimeout Duration `json:"attemptTimeout" validate:"gt=0"`
	RetryInterval  Duration `json:"retryInterval" validate:"gt=0"` // initial backoff interval
}

// LedgerConfig configures the durable event store.
type LedgerConfig struct {
	Path       string   `json:"path,omitempty"` // defaults under DataDir
	InMemory   bool     `json:"inMemory,omitempty"`
	SyncWrites bool     `json:"syncWrites"`
	GCInterval Duration `json:"gcInterval" validate:"gte=0"`
}

// ArchiveConfig controls closed-session retention.
type ArchiveConfig struct {
	Retention     Duration `json:"retention" validate:"gt=0"`
	SweepInterval Duration `json:"sweepInterval" validate:"gt=0"`
}

// ResourcesConfig configures the hotline directory.
type ResourcesConfig struct {
	// Path to a YAML directory file; empty means embedded defaults only.
	Path string `json:"path,omitempty"`

	// Watch reloads the directory file on change.
	Watch bool `json:"watch,omitempty"`

	// FetchTimeout bounds snapshot refresh HTTP fetches.
	FetchTimeout Duration `json:"fetchTimeout" validate:"gt=0"`
}

// ObserveConfig configures the observability sink.
type ObserveConfig struct {
	QueueSize int `json:"queueSize" validate:"gte=16"`
}

// GenerateConfig configures the language-generation collaborator.
type GenerateConfig struct {
	// Model in "provider/model" form, e.g. "anthropic/claude-3-5-haiku-20241022".
	Model     string   `json:"model,omitempty"`
	MaxTokens int      `json:"maxTokens" validate:"gte=1"`
	Timeout   Duration `json:"timeout" validate:"gt=0"`
}

// ProviderConfig holds configuration for a specific model provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Model/endpoint ID for providers that require one (ARK).
	Model string `json:"model,omitempty"`

	Disable bool `json:"disable,omitempty"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host        string   `json:"host,omitempty"`
	Port        int      `json:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `json:"corsOrigins,omitempty"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // trace|debug|info|warn|error
	Format string `json:"format,omitempty"` // json|console
	Pretty bool   `json:"pretty,omitempty"`
}

// Model describes an available LLM.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProviderID      string `json:"providerID"`
	ContextLength   int    `json:"contextLength"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
}

// ModelRef identifies a provider/model pair.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}
