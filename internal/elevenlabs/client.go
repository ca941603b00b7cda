package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/f4s4b4/elevenlabs-webhook/internal/observability"

	"github.com/gorilla/websocket"
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io"
	defaultWSBaseURL  = "wss://api.elevenlabs.io"

	signedURLPath    = "/v1/convai/conversation/get_signed_url"
	conversationPath = "/v1/convai/conversation"

	defaultConnectTimeout = 10 * time.Second
)

var (
	// ErrUpstreamAuth means the signed-URL request was rejected as unauthorized.
	ErrUpstreamAuth = errors.New("elevenlabs: signed URL request unauthorized")
	// ErrUpstreamUnavailable means the signed-URL endpoint returned a non-success status.
	ErrUpstreamUnavailable = errors.New("elevenlabs: signed URL endpoint unavailable")
	// ErrAgentConnect means the conversation socket failed to open.
	ErrAgentConnect = errors.New("elevenlabs: conversation socket failed to open")
)

// ConnectMode selects how the conversation socket is opened.
type ConnectMode string

const (
	// ModeSignedURL fetches a short-lived pre-authenticated URL per session
	// and sends the initiation payload after the socket opens.
	ModeSignedURL ConnectMode = "signed-url"
	// ModeDirect dials the conversation endpoint with header auth; the query
	// parameters substitute for the initiation payload.
	ModeDirect ConnectMode = "direct"
)

// Config holds client settings for one agent.
type Config struct {
	AgentID      string
	APIKey       string
	Mode         ConnectMode
	AgentPrompt  string
	FirstMessage string

	// ConnectTimeout bounds the signed-URL fetch and the socket dial.
	ConnectTimeout time.Duration

	// APIBaseURL and WSBaseURL override the provider endpoints in tests.
	APIBaseURL string
	WSBaseURL  string
}

// Client talks to the ElevenLabs conversational-AI API. Signed URLs are
// single-use and short-lived, so nothing is cached; every session fetches
// its own.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *observability.Logger
}

// NewClient creates a client for one configured agent.
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeSignedURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = defaultWSBaseURL
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.ConnectTimeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		logger:     logger,
	}
}

// GetSignedURL requests a short-lived conversation URL for the configured
// agent. No retry; the caller decides whether a session is worth retrying.
func (c *Client) GetSignedURL(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s%s?agent_id=%s", c.cfg.APIBaseURL, signedURLPath, url.QueryEscape(c.cfg.AgentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build signed URL request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signed URL request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", ErrUpstreamAuth, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%w: %s", ErrUpstreamUnavailable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read signed URL response: %w", err)
	}

	var signed struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(body, &signed); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}
	if signed.SignedURL == "" {
		return "", fmt.Errorf("signed URL response missing signed_url field")
	}

	return signed.SignedURL, nil
}

// Connect opens the conversation socket for one session. Both modes return
// an equally ready socket; callers never branch on the mode.
func (c *Client) Connect(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	switch c.cfg.Mode {
	case ModeDirect:
		return c.connectDirect(ctx)
	default:
		return c.connectSigned(ctx)
	}
}

func (c *Client) connectSigned(ctx context.Context) (*websocket.Conn, error) {
	signedURL, err := c.GetSignedURL(ctx)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentConnect, err)
	}

	if err := conn.WriteJSON(c.initiationPayload()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: sending initiation payload: %v", ErrAgentConnect, err)
	}
	c.logger.Debug(ctx, "Sent conversation initiation payload")

	return conn, nil
}

func (c *Client) connectDirect(ctx context.Context) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s%s?agent_id=%s", c.cfg.WSBaseURL, conversationPath, url.QueryEscape(c.cfg.AgentID))

	headers := http.Header{}
	headers.Set("xi-api-key", c.cfg.APIKey)

	conn, _, err := c.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentConnect, err)
	}
	return conn, nil
}

func (c *Client) initiationPayload() conversationInitiation {
	payload := conversationInitiation{Type: "conversation_initiation_client_data"}

	if c.cfg.AgentPrompt == "" && c.cfg.FirstMessage == "" {
		return payload
	}

	override := &agentOverride{FirstMessage: c.cfg.FirstMessage}
	if c.cfg.AgentPrompt != "" {
		override.Prompt = &promptOverride{Prompt: c.cfg.AgentPrompt}
	}
	payload.ConversationConfigOverride = &conversationConfigOverride{Agent: override}
	return payload
}
