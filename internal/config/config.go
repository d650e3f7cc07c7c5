package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration for the voicebridge server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	HTTPPort  int
	PublicURL string // externally reachable base URL for webhooks and media streams
	LogLevel  string
	LogFormat string // log output format: "text" or "json"

	// Telephony providers.
	TwilioAccountSID string
	TwilioAuthToken  string
	ExotelSID        string
	ExotelAPIKey     string
	ExotelAPIToken   string
	DefaultProvider  string // fallback provider for unmapped regions

	// Conversation backend.
	BackendURL        string
	BackendAPIKey     string
	BackendTimeoutSec int
	BackendRetries    int

	// Speech collaborators.
	STTURL    string
	STTAPIKey string
	TTSURL    string
	TTSAPIKey string

	// Call limits.
	MaxConcurrentCalls    int
	MaxCallDurationSec    int
	InactivityTimeoutSec  int
	PendingTimeoutSec     int
	MaxInactivityPrompts  int
	MinSpeechMs           int
	EndpointSilenceMs     int
	EnergyFloor           float64
	WebhookRatePerSecond  int
	WebhookRateBurst      int

	JWTSecret string // hex-encoded 32-byte secret for operations API JWT signing
}

// defaults
const (
	defaultDataDir              = "./data"
	defaultHTTPPort             = 8080
	defaultLogLevel             = "info"
	defaultLogFormat            = "text"
	defaultProvider             = "twilio"
	defaultBackendTimeoutSec    = 10
	defaultBackendRetries       = 2
	defaultMaxConcurrentCalls   = 10
	defaultMaxCallDurationSec   = 600
	defaultInactivityTimeoutSec = 60
	defaultPendingTimeoutSec    = 60
	defaultMaxInactivityPrompts = 2
	defaultMinSpeechMs          = 500
	defaultEndpointSilenceMs    = 500
	defaultWebhookRate          = 20
	defaultWebhookBurst         = 40
)

// envPrefix is the prefix for all voicebridge environment variables.
const envPrefix = "VOICEBRIDGE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voicebridge", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call record database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "externally reachable base URL for webhooks and media streams (e.g., https://bridge.example.com)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token for webhook signature validation and REST calls")
	fs.StringVar(&cfg.ExotelSID, "exotel-sid", "", "Exotel tenant SID")
	fs.StringVar(&cfg.ExotelAPIKey, "exotel-api-key", "", "Exotel API key")
	fs.StringVar(&cfg.ExotelAPIToken, "exotel-api-token", "", "Exotel API token for webhook signature validation and REST calls")
	fs.StringVar(&cfg.DefaultProvider, "default-provider", defaultProvider, "provider for regions without an explicit mapping (twilio, exotel)")

	fs.StringVar(&cfg.BackendURL, "backend-url", "", "conversation backend base URL")
	fs.StringVar(&cfg.BackendAPIKey, "backend-api-key", "", "conversation backend API key")
	fs.IntVar(&cfg.BackendTimeoutSec, "backend-timeout", defaultBackendTimeoutSec, "conversation backend request timeout in seconds")
	fs.IntVar(&cfg.BackendRetries, "backend-retries", defaultBackendRetries, "retries for retryable conversation backend failures")

	fs.StringVar(&cfg.STTURL, "stt-url", "", "speech-to-text service base URL")
	fs.StringVar(&cfg.STTAPIKey, "stt-api-key", "", "speech-to-text service API key")
	fs.StringVar(&cfg.TTSURL, "tts-url", "", "text-to-speech service base URL")
	fs.StringVar(&cfg.TTSAPIKey, "tts-api-key", "", "text-to-speech service API key")

	fs.IntVar(&cfg.MaxConcurrentCalls, "max-concurrent-calls", defaultMaxConcurrentCalls, "maximum number of simultaneous calls")
	fs.IntVar(&cfg.MaxCallDurationSec, "max-call-duration", defaultMaxCallDurationSec, "hard cap on call duration in seconds")
	fs.IntVar(&cfg.InactivityTimeoutSec, "inactivity-timeout", defaultInactivityTimeoutSec, "seconds of caller silence before an inactivity prompt")
	fs.IntVar(&cfg.PendingTimeoutSec, "pending-timeout", defaultPendingTimeoutSec, "seconds an answered call may wait for its media stream before being abandoned")
	fs.IntVar(&cfg.MaxInactivityPrompts, "max-inactivity-prompts", defaultMaxInactivityPrompts, "unanswered prompts before the call is ended")
	fs.IntVar(&cfg.MinSpeechMs, "min-speech-ms", defaultMinSpeechMs, "minimum speech duration in milliseconds before an utterance may be finalized")
	fs.IntVar(&cfg.EndpointSilenceMs, "endpoint-silence-ms", defaultEndpointSilenceMs, "trailing silence in milliseconds that finalizes an utterance")
	fs.Float64Var(&cfg.EnergyFloor, "energy-floor", 0, "normalized RMS energy above which a frame counts as speech (0 = any audio)")
	fs.IntVar(&cfg.WebhookRatePerSecond, "webhook-rate", defaultWebhookRate, "per-source webhook requests allowed per second")
	fs.IntVar(&cfg.WebhookRateBurst, "webhook-burst", defaultWebhookBurst, "per-source webhook burst size")

	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for operations API JWT signing (auto-generated if empty)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		// flag.Value.Set applies the same parsing used for CLI input;
		// unparseable env values are ignored rather than fatal.
		if err := f.Value.Set(val); err != nil {
			slog.Warn("ignoring unparseable environment override", "var", envVar, "value", val)
		}
	})
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max-concurrent-calls must be at least 1, got %d", c.MaxConcurrentCalls)
	}
	if c.MaxCallDurationSec < 10 {
		return fmt.Errorf("max-call-duration must be at least 10 seconds, got %d", c.MaxCallDurationSec)
	}
	if c.InactivityTimeoutSec < 5 {
		return fmt.Errorf("inactivity-timeout must be at least 5 seconds, got %d", c.InactivityTimeoutSec)
	}
	if c.PendingTimeoutSec < 5 {
		return fmt.Errorf("pending-timeout must be at least 5 seconds, got %d", c.PendingTimeoutSec)
	}
	if c.MinSpeechMs < 0 || c.EndpointSilenceMs < 0 {
		return fmt.Errorf("endpointing thresholds must not be negative")
	}
	if c.EnergyFloor < 0 || c.EnergyFloor > 1 {
		return fmt.Errorf("energy-floor must be between 0 and 1, got %g", c.EnergyFloor)
	}

	validProviders := map[string]bool{"twilio": true, "exotel": true}
	if !validProviders[strings.ToLower(c.DefaultProvider)] {
		return fmt.Errorf("default-provider must be one of twilio, exotel; got %q", c.DefaultProvider)
	}
	c.DefaultProvider = strings.ToLower(c.DefaultProvider)

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.PublicURL != "" && !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		return fmt.Errorf("public-url must start with http:// or https://, got %q", c.PublicURL)
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")

	return nil
}

// BackendTimeout returns the backend request timeout as a duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSec) * time.Second
}

// MaxCallDuration returns the call duration cap as a duration.
func (c *Config) MaxCallDuration() time.Duration {
	return time.Duration(c.MaxCallDurationSec) * time.Second
}

// InactivityTimeout returns the inactivity threshold as a duration.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSec) * time.Second
}

// PendingTimeout returns the media-stream wait limit as a duration.
func (c *Config) PendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeoutSec) * time.Second
}

// MinSpeech returns the minimum-speech endpointing threshold.
func (c *Config) MinSpeech() time.Duration {
	return time.Duration(c.MinSpeechMs) * time.Millisecond
}

// EndpointSilence returns the trailing-silence endpointing threshold.
func (c *Config) EndpointSilence() time.Duration {
	return time.Duration(c.EndpointSilenceMs) * time.Millisecond
}

// StreamURL returns the WebSocket URL providers connect their media
// streams to, derived from the public base URL.
func (c *Config) StreamURL(provider string) string {
	base := c.PublicURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", c.HTTPPort)
	}
	ws := "ws" + strings.TrimPrefix(base, "http")
	return ws + "/webhooks/" + provider + "/stream"
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
