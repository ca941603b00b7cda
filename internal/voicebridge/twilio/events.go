package twilio

import "encoding/json"

// Inbound event names on a Twilio media-stream socket.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// MediaEvent is one inbound frame on the media-stream socket, parsed once at
// the boundary. Exactly one of the payload pointers is set, matching Event.
type MediaEvent struct {
	Event string        `json:"event"`
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Stop  *StopPayload  `json:"stop,omitempty"`
}

type StartPayload struct {
	StreamSid  string   `json:"streamSid"`
	AccountSid string   `json:"accountSid"`
	CallSid    string   `json:"callSid"`
	Tracks     []string `json:"tracks"`
}

type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 audio
}

type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// ParseMediaEvent decodes a raw frame into a typed event.
func ParseMediaEvent(data []byte) (MediaEvent, error) {
	var event MediaEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return MediaEvent{}, err
	}
	return event, nil
}

// mediaMessage is the outbound media envelope; every outbound frame carries
// the stream SID.
type mediaMessage struct {
	Event     string           `json:"event"`
	StreamSid string           `json:"streamSid"`
	Media     mediaMessageBody `json:"media"`
}

type mediaMessageBody struct {
	Payload string `json:"payload"`
}

// clearMessage tells Twilio to flush any buffered playback.
type clearMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
