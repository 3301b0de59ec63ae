package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.APIBaseURL != "http://localhost:8000" {
		t.Errorf("APIBaseURL = %q, want default", cfg.APIBaseURL)
	}
	if cfg.CredentialStore != StoreSQLite {
		t.Errorf("CredentialStore = %q, want %q", cfg.CredentialStore, StoreSQLite)
	}
	if cfg.CredentialSlot != "access_token" {
		t.Errorf("CredentialSlot = %q, want %q", cfg.CredentialSlot, "access_token")
	}
	if cfg.LoginPath != "/api/login" {
		t.Errorf("LoginPath = %q, want %q", cfg.LoginPath, "/api/login")
	}
	if cfg.ProfilePath != "/api/profile" {
		t.Errorf("ProfilePath = %q, want %q", cfg.ProfilePath, "/api/profile")
	}
	if cfg.VoiceChatField != "message" {
		t.Errorf("VoiceChatField = %q, want %q", cfg.VoiceChatField, "message")
	}
	if cfg.HealthPath != "/" {
		t.Errorf("HealthPath = %q, want %q", cfg.HealthPath, "/")
	}
	if cfg.TranscribePath != "/api/voice-to-text" {
		t.Errorf("TranscribePath = %q, want %q", cfg.TranscribePath, "/api/voice-to-text")
	}
	if cfg.TranscribeField != "file" {
		t.Errorf("TranscribeField = %q, want %q", cfg.TranscribeField, "file")
	}
	if cfg.ExpiryMarker != "token is expired" {
		t.Errorf("ExpiryMarker = %q, want %q", cfg.ExpiryMarker, "token is expired")
	}
	if cfg.LivenessInterval() != 5*time.Minute {
		t.Errorf("LivenessInterval() = %v, want 5m", cfg.LivenessInterval())
	}
	if cfg.RecordingTickDuration() != time.Second {
		t.Errorf("RecordingTickDuration() = %v, want 1s", cfg.RecordingTickDuration())
	}
	if cfg.HTTPTimeoutDuration() != 0 {
		t.Errorf("HTTPTimeoutDuration() = %v, want 0", cfg.HTTPTimeoutDuration())
	}
	if cfg.OTLPInsecure {
		t.Error("OTLPInsecure should default to false")
	}
	if cfg.ServiceName != "advisor-client" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "advisor-client")
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList() = %v, want nil", cfg.KafkaBrokersList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("API_BASE_URL", "https://advisor.example.com")
	os.Setenv("CREDENTIAL_STORE", "memory")
	os.Setenv("SESSION_LIVENESS_INTERVAL", "30s")
	os.Setenv("HTTP_TIMEOUT", "10s")
	os.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "https://advisor.example.com" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.CredentialStore != StoreMemory {
		t.Errorf("CredentialStore = %q, want memory", cfg.CredentialStore)
	}
	if cfg.LivenessInterval() != 30*time.Second {
		t.Errorf("LivenessInterval() = %v, want 30s", cfg.LivenessInterval())
	}
	if cfg.HTTPTimeoutDuration() != 10*time.Second {
		t.Errorf("HTTPTimeoutDuration() = %v, want 10s", cfg.HTTPTimeoutDuration())
	}
	if !cfg.OTLPInsecure {
		t.Error("OTLPInsecure should be true")
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	os.Clearenv()
	os.Setenv("CREDENTIAL_STORE", "postgres")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load with postgres store and no DATABASE_URL should fail")
	}

	os.Setenv("DATABASE_URL", "postgres://localhost/advisor")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/advisor" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			APIBaseURL:              "http://localhost:8000",
			HTTPTimeout:             "0s",
			CredentialStore:         StoreMemory,
			CredentialSlot:          "access_token",
			TranscribeField:         "file",
			SessionLivenessInterval: "5m",
			RecordingTick:           "1s",
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"relative base url", func(c *Config) { c.APIBaseURL = "/api" }, true},
		{"garbage base url", func(c *Config) { c.APIBaseURL = "::" }, true},
		{"unknown store", func(c *Config) { c.CredentialStore = "redis" }, true},
		{"sqlite without path", func(c *Config) { c.CredentialStore = StoreSQLite }, true},
		{"sqlite with path", func(c *Config) { c.CredentialStore = StoreSQLite; c.CredentialSQLitePath = "/tmp/c.db" }, false},
		{"empty slot", func(c *Config) { c.CredentialSlot = " " }, true},
		{"empty transcribe field", func(c *Config) { c.TranscribeField = "" }, true},
		{"zero liveness", func(c *Config) { c.SessionLivenessInterval = "0s" }, true},
		{"bad liveness", func(c *Config) { c.SessionLivenessInterval = "soon" }, true},
		{"zero tick", func(c *Config) { c.RecordingTick = "0s" }, true},
		{"negative timeout", func(c *Config) { c.HTTPTimeout = "-1s" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKafkaBrokersList(t *testing.T) {
	c := &Config{TelemetryKafkaBrokers: " k1:9092, ,k2:9092 "}
	got := c.KafkaBrokersList()
	if len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("KafkaBrokersList() = %v", got)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		c := &Config{LogLevel: in}
		if got := c.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
