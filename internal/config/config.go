// Package config loads and validates client runtime config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Credential store kinds.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds client runtime configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the backend origin every gateway path is resolved against (e.g. http://localhost:8000).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// HTTPTimeout bounds a single gateway request (e.g. "30s"); "0s" means no timeout.
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`

	// CredentialStore selects the persistent slot backend: sqlite, postgres or memory.
	CredentialStore string `mapstructure:"CREDENTIAL_STORE"`
	// CredentialSQLitePath is the SQLite file holding the credential slot.
	CredentialSQLitePath string `mapstructure:"CREDENTIAL_SQLITE_PATH"`
	// DatabaseURL is the Postgres DSN; required when CredentialStore is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// CredentialSlot is the key the bearer token is stored under.
	CredentialSlot string `mapstructure:"CREDENTIAL_SLOT"`

	// LoginPath is the login endpoint (POST {email,password}).
	LoginPath string `mapstructure:"LOGIN_PATH"`
	// ProfilePath is the lightweight authenticated GET used as the liveness probe.
	ProfilePath string `mapstructure:"PROFILE_PATH"`
	// HealthPath is the unauthenticated backend endpoint checked by the health command.
	HealthPath string `mapstructure:"HEALTH_PATH"`
	// SessionLivenessInterval is how often the session is re-validated while authenticated (e.g. "5m").
	SessionLivenessInterval string `mapstructure:"SESSION_LIVENESS_INTERVAL"`
	// ExpiryMarker is the text in a 500 body that signals an expired token.
	ExpiryMarker string `mapstructure:"EXPIRY_MARKER"`
	// ExpiryPolicyFile is an optional Rego policy (inline or path) replacing the marker classifier.
	ExpiryPolicyFile string `mapstructure:"EXPIRY_POLICY_FILE"`

	// TranscribePath is the multipart transcription endpoint.
	TranscribePath string `mapstructure:"TRANSCRIBE_PATH"`
	// TranscribeField is the multipart field carrying the audio.
	TranscribeField string `mapstructure:"TRANSCRIBE_FIELD"`
	// RecordingTick is the elapsed-time counter resolution (e.g. "1s").
	RecordingTick string `mapstructure:"RECORDING_TICK"`

	// Query endpoints per voice feature.
	VoiceChatPath      string `mapstructure:"VOICE_CHAT_PATH"`
	VoiceResearchPath  string `mapstructure:"VOICE_RESEARCH_PATH"`
	VoiceEducationPath string `mapstructure:"VOICE_EDUCATION_PATH"`
	VoiceAgentPath     string `mapstructure:"VOICE_AGENT_PATH"`
	// VoiceChatField is the chat body key carrying the transcript; the other features send "query".
	VoiceChatField string `mapstructure:"VOICE_CHAT_FIELD"`

	// Telemetry (optional). An empty OTLP endpoint yields no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel resource service name.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables Kafka telemetry.
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "http://localhost:8000")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_TIMEOUT", "0s")
	v.SetDefault("CREDENTIAL_STORE", StoreSQLite)
	v.SetDefault("CREDENTIAL_SQLITE_PATH", "./data/credentials.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("CREDENTIAL_SLOT", "access_token")
	v.SetDefault("LOGIN_PATH", "/api/login")
	v.SetDefault("PROFILE_PATH", "/api/profile")
	v.SetDefault("HEALTH_PATH", "/")
	v.SetDefault("SESSION_LIVENESS_INTERVAL", "5m")
	v.SetDefault("EXPIRY_MARKER", "token is expired")
	v.SetDefault("EXPIRY_POLICY_FILE", "")
	v.SetDefault("TRANSCRIBE_PATH", "/api/voice-to-text")
	v.SetDefault("TRANSCRIBE_FIELD", "file")
	v.SetDefault("RECORDING_TICK", "1s")
	v.SetDefault("VOICE_CHAT_PATH", "/api/chat")
	v.SetDefault("VOICE_RESEARCH_PATH", "/api/investments/deep-research")
	v.SetDefault("VOICE_EDUCATION_PATH", "/api/investments/microlearning")
	v.SetDefault("VOICE_AGENT_PATH", "/api/investments/analyst-agent")
	v.SetDefault("VOICE_CHAT_FIELD", "message")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "advisor-client")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "advisor-client-telemetry")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value formats.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}

	switch c.CredentialStore {
	case StoreSQLite:
		if strings.TrimSpace(c.CredentialSQLitePath) == "" {
			return errors.New("config: CREDENTIAL_SQLITE_PATH must be set when CREDENTIAL_STORE=sqlite")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config: DATABASE_URL must be set when CREDENTIAL_STORE=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: CREDENTIAL_STORE must be one of sqlite, postgres, memory, got %q", c.CredentialStore)
	}

	if strings.TrimSpace(c.CredentialSlot) == "" {
		return errors.New("config: CREDENTIAL_SLOT must be set")
	}
	if strings.TrimSpace(c.TranscribeField) == "" {
		return errors.New("config: TRANSCRIBE_FIELD must be set")
	}
	if d, err := time.ParseDuration(c.SessionLivenessInterval); err != nil || d <= 0 {
		return fmt.Errorf("config: SESSION_LIVENESS_INTERVAL must be a positive duration, got %q", c.SessionLivenessInterval)
	}
	if d, err := time.ParseDuration(c.RecordingTick); err != nil || d <= 0 {
		return fmt.Errorf("config: RECORDING_TICK must be a positive duration, got %q", c.RecordingTick)
	}
	if d, err := time.ParseDuration(c.HTTPTimeout); err != nil || d < 0 {
		return fmt.Errorf("config: HTTP_TIMEOUT must be a non-negative duration, got %q", c.HTTPTimeout)
	}
	return nil
}

// LivenessInterval parses SessionLivenessInterval. Returns 5m if unset or invalid.
func (c *Config) LivenessInterval() time.Duration {
	d, err := time.ParseDuration(c.SessionLivenessInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RecordingTickDuration parses RecordingTick. Returns 1s if unset or invalid.
func (c *Config) RecordingTickDuration() time.Duration {
	d, err := time.ParseDuration(c.RecordingTick)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// HTTPTimeoutDuration parses HTTPTimeout. Returns 0 (no timeout) if unset or invalid.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// SlogLevel maps LogLevel to a slog.Level; unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
