package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	ElevenLabs ElevenLabsConfig
	Bridge     BridgeConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// ElevenLabsConfig holds settings for the conversational agent provider
type ElevenLabsConfig struct {
	AgentID      string
	APIKey       string // optional; absence is surfaced as a startup warning
	ConnectMode  string // "signed-url" or "direct"
	AgentPrompt  string
	FirstMessage string
}

// BridgeConfig holds media-stream bridge settings
type BridgeConfig struct {
	MediaStreamPath   string
	ConnectTimeout    time.Duration // signed-URL fetch + agent dial budget per session
	HeartbeatInterval time.Duration
	CallLogSize       int
}

const (
	defaultPort              = 3000
	defaultMediaStreamPath   = "/media-stream"
	defaultConnectTimeout    = 10 * time.Second
	defaultHeartbeatInterval = 20 * time.Second
	defaultCallLogSize       = 100

	// ConnectModeSignedURL fetches a short-lived signed URL per session.
	ConnectModeSignedURL = "signed-url"
	// ConnectModeDirect dials the conversation endpoint with header auth.
	ConnectModeDirect = "direct"
)

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		// Missing env.local is fine; the environment may already be populated.
		_ = godotenv.Load("env.local")
	}

	cfg := &Config{}

	var err error
	if cfg.ElevenLabs.AgentID, err = requireEnv("AGENT_ID"); err != nil {
		return nil, err
	}

	// The API key is deliberately optional: the status endpoint and startup log
	// report its absence so misconfiguration stays visible instead of surfacing
	// as a failed bridge session.
	cfg.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")

	cfg.ElevenLabs.ConnectMode = envOrDefault("ELEVENLABS_CONNECT_MODE", ConnectModeSignedURL)
	if cfg.ElevenLabs.ConnectMode != ConnectModeSignedURL && cfg.ElevenLabs.ConnectMode != ConnectModeDirect {
		return nil, fmt.Errorf("invalid ELEVENLABS_CONNECT_MODE %q: must be %q or %q",
			cfg.ElevenLabs.ConnectMode, ConnectModeSignedURL, ConnectModeDirect)
	}

	cfg.ElevenLabs.AgentPrompt = os.Getenv("AGENT_PROMPT")
	cfg.ElevenLabs.FirstMessage = os.Getenv("AGENT_FIRST_MESSAGE")

	if cfg.Server.Port, err = intEnvOrDefault("PORT", defaultPort); err != nil {
		return nil, err
	}

	cfg.Bridge.MediaStreamPath = envOrDefault("MEDIA_STREAM_PATH", defaultMediaStreamPath)
	cfg.Bridge.ConnectTimeout = defaultConnectTimeout
	cfg.Bridge.HeartbeatInterval = defaultHeartbeatInterval
	if cfg.Bridge.CallLogSize, err = intEnvOrDefault("CALL_LOG_SIZE", defaultCallLogSize); err != nil {
		return nil, err
	}

	return cfg, nil
}

// APIKeyConfigured reports whether the provider API key is present.
func (c ElevenLabsConfig) APIKeyConfigured() bool {
	return c.APIKey != ""
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnvOrDefault(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}
