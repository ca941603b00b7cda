package twilio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMediaEvent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  bool
		validate func(t *testing.T, event MediaEvent)
	}{
		{
			name: "start event carries stream SID",
			raw:  `{"event":"start","start":{"streamSid":"MZ123","callSid":"CA456","tracks":["inbound"]}}`,
			validate: func(t *testing.T, event MediaEvent) {
				require.Equal(t, EventStart, event.Event)
				require.NotNil(t, event.Start)
				assert.Equal(t, "MZ123", event.Start.StreamSid)
				assert.Equal(t, "CA456", event.Start.CallSid)
			},
		},
		{
			name: "media event carries base64 payload",
			raw:  `{"event":"media","media":{"track":"inbound","payload":"QUJD"}}`,
			validate: func(t *testing.T, event MediaEvent) {
				require.Equal(t, EventMedia, event.Event)
				require.NotNil(t, event.Media)
				assert.Equal(t, "QUJD", event.Media.Payload)
			},
		},
		{
			name: "stop event has no media payload",
			raw:  `{"event":"stop","stop":{"callSid":"CA456"}}`,
			validate: func(t *testing.T, event MediaEvent) {
				require.Equal(t, EventStop, event.Event)
				assert.Nil(t, event.Media)
			},
		},
		{
			name:    "malformed JSON is rejected",
			raw:     `{"event":"media",`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseMediaEvent([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, event)
		})
	}
}

func TestOutboundEnvelopes(t *testing.T) {
	media, err := json.Marshal(mediaMessage{
		Event:     EventMedia,
		StreamSid: "MZ123",
		Media:     mediaMessageBody{Payload: "QUJD"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"media","streamSid":"MZ123","media":{"payload":"QUJD"}}`, string(media))

	clear, err := json.Marshal(clearMessage{Event: "clear", StreamSid: "MZ123"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clear","streamSid":"MZ123"}`, string(clear))
}
