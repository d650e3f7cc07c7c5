package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, env := range []string{
		"VOICEBRIDGE_DATA_DIR", "VOICEBRIDGE_HTTP_PORT", "VOICEBRIDGE_LOG_LEVEL",
		"VOICEBRIDGE_MAX_CONCURRENT_CALLS", "VOICEBRIDGE_MAX_CALL_DURATION",
		"VOICEBRIDGE_DEFAULT_PROVIDER",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = []string{"voicebridge"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.MaxConcurrentCalls != defaultMaxConcurrentCalls {
		t.Errorf("MaxConcurrentCalls = %d, want %d", cfg.MaxConcurrentCalls, defaultMaxConcurrentCalls)
	}
	if cfg.MaxCallDurationSec != defaultMaxCallDurationSec {
		t.Errorf("MaxCallDurationSec = %d, want %d", cfg.MaxCallDurationSec, defaultMaxCallDurationSec)
	}
	if cfg.DefaultProvider != defaultProvider {
		t.Errorf("DefaultProvider = %q, want %q", cfg.DefaultProvider, defaultProvider)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.PendingTimeout() != 60*time.Second {
		t.Errorf("PendingTimeout() = %v, want 60s", cfg.PendingTimeout())
	}
	if cfg.MinSpeech() != 500*time.Millisecond {
		t.Errorf("MinSpeech() = %v, want 500ms", cfg.MinSpeech())
	}
	if cfg.EndpointSilence() != 500*time.Millisecond {
		t.Errorf("EndpointSilence() = %v, want 500ms", cfg.EndpointSilence())
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"voicebridge"}
	t.Setenv("VOICEBRIDGE_HTTP_PORT", "9090")
	t.Setenv("VOICEBRIDGE_DATA_DIR", "/tmp/voicebridge-test")
	t.Setenv("VOICEBRIDGE_MAX_CONCURRENT_CALLS", "25")
	t.Setenv("VOICEBRIDGE_DEFAULT_PROVIDER", "exotel")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/voicebridge-test" {
		t.Errorf("DataDir = %q, want /tmp/voicebridge-test", cfg.DataDir)
	}
	if cfg.MaxConcurrentCalls != 25 {
		t.Errorf("MaxConcurrentCalls = %d, want 25", cfg.MaxConcurrentCalls)
	}
	if cfg.DefaultProvider != "exotel" {
		t.Errorf("DefaultProvider = %q, want exotel", cfg.DefaultProvider)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	os.Args = []string{"voicebridge", "--http-port", "3000", "--log-level", "warn"}
	t.Setenv("VOICEBRIDGE_HTTP_PORT", "9090")
	t.Setenv("VOICEBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = []string{"voicebridge", "--http-port", "99999"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidProvider(t *testing.T) {
	os.Args = []string{"voicebridge", "--default-provider", "plivo"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"voicebridge", "--log-level", "verbose"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateBadPublicURL(t *testing.T) {
	os.Args = []string{"voicebridge", "--public-url", "bridge.example.com"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for public-url without scheme, got nil")
	}
}

func TestStreamURL(t *testing.T) {
	cfg := &Config{PublicURL: "https://bridge.example.com", HTTPPort: 8080}
	if got := cfg.StreamURL("twilio"); got != "wss://bridge.example.com/webhooks/twilio/stream" {
		t.Errorf("StreamURL() = %q", got)
	}

	cfg = &Config{HTTPPort: 9000}
	if got := cfg.StreamURL("exotel"); got != "ws://localhost:9000/webhooks/exotel/stream" {
		t.Errorf("StreamURL() without public-url = %q", got)
	}
}

func TestJWTSecretBytes(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("JWTSecretBytes() error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("generated key length = %d, want 32", len(key))
	}
	if cfg.JWTSecret == "" {
		t.Error("generated secret was not stored back on the config")
	}

	cfg = &Config{JWTSecret: "zz"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for invalid hex secret")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
