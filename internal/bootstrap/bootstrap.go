package bootstrap

import (
	"context"

	"github.com/f4s4b4/elevenlabs-webhook/internal/calllog"
	"github.com/f4s4b4/elevenlabs-webhook/internal/config"
	"github.com/f4s4b4/elevenlabs-webhook/internal/elevenlabs"
	"github.com/f4s4b4/elevenlabs-webhook/internal/observability"
	bridgeHandler "github.com/f4s4b4/elevenlabs-webhook/internal/voicebridge/handler"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	Logger        *observability.Logger
	AgentClient   *elevenlabs.Client
	CallLog       *calllog.Store
	BridgeHandler *bridgeHandler.Handler
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	if !cfg.ElevenLabs.APIKeyConfigured() {
		logger.Warn(ctx, "ELEVENLABS_API_KEY is not set; agent connections will fail until it is configured")
	}

	deps.AgentClient = elevenlabs.NewClient(elevenlabs.Config{
		AgentID:        cfg.ElevenLabs.AgentID,
		APIKey:         cfg.ElevenLabs.APIKey,
		Mode:           elevenlabs.ConnectMode(cfg.ElevenLabs.ConnectMode),
		AgentPrompt:    cfg.ElevenLabs.AgentPrompt,
		FirstMessage:   cfg.ElevenLabs.FirstMessage,
		ConnectTimeout: cfg.Bridge.ConnectTimeout,
	}, logger)

	deps.CallLog = calllog.New(cfg.Bridge.CallLogSize)
	deps.BridgeHandler = bridgeHandler.New(deps.AgentClient, deps.CallLog, cfg, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup() {}
