package elevenlabs

import "encoding/json"

// Inbound event types on the conversation socket.
const (
	EventInitiationMetadata = "conversation_initiation_metadata"
	EventAudio              = "audio"
	EventInterruption       = "interruption"
	EventPing               = "ping"
)

// AgentEvent is one inbound frame on the conversation socket, parsed once at
// the boundary.
type AgentEvent struct {
	Type      string          `json:"type"`
	Audio     json.RawMessage `json:"audio,omitempty"`
	PingEvent *PingEvent      `json:"ping_event,omitempty"`
}

// PingEvent carries the identifier the provider expects echoed back. The
// provider has sent both numeric and string identifiers, so the raw bytes
// are kept and echoed unchanged.
type PingEvent struct {
	EventID json.RawMessage `json:"event_id"`
	PingMs  json.RawMessage `json:"ping_ms"`
}

// ParseAgentEvent decodes a raw frame into a typed event.
func ParseAgentEvent(data []byte) (AgentEvent, error) {
	var event AgentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return AgentEvent{}, err
	}
	return event, nil
}

// AudioChunk extracts the base64 audio payload from an audio event. The
// provider has shipped two shapes for the audio field, a nested object with a
// chunk key and a bare string; both are accepted.
func (e AgentEvent) AudioChunk() (string, bool) {
	if len(e.Audio) == 0 {
		return "", false
	}

	var nested struct {
		Chunk string `json:"chunk"`
	}
	if err := json.Unmarshal(e.Audio, &nested); err == nil && nested.Chunk != "" {
		return nested.Chunk, true
	}

	var bare string
	if err := json.Unmarshal(e.Audio, &bare); err == nil && bare != "" {
		return bare, true
	}

	return "", false
}

// userAudioChunk is the audio-ingestion envelope sent to the agent.
type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// UserAudioChunkMessage builds the audio-ingestion frame for one base64
// payload, bytes unchanged.
func UserAudioChunkMessage(payload string) ([]byte, error) {
	return json.Marshal(userAudioChunk{UserAudioChunk: payload})
}

// pongMessage answers a provider ping; required keepalive contract.
type pongMessage struct {
	Type    string          `json:"type"`
	EventID json.RawMessage `json:"event_id"`
}

// PongMessage builds the reply to a ping event, echoing its identifier
// byte for byte.
func PongMessage(eventID json.RawMessage) ([]byte, error) {
	return json.Marshal(pongMessage{Type: "pong", EventID: eventID})
}

// conversationInitiation is the initial configuration payload sent after a
// signed-URL connection opens.
type conversationInitiation struct {
	Type                       string                      `json:"type"`
	ConversationConfigOverride *conversationConfigOverride `json:"conversation_config_override,omitempty"`
}

type conversationConfigOverride struct {
	Agent *agentOverride `json:"agent,omitempty"`
}

type agentOverride struct {
	Prompt       *promptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}
