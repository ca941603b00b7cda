package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/f4s4b4/elevenlabs-webhook/internal/elevenlabs"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{
			name: "deadline expiry is a connect timeout",
			err:  context.DeadlineExceeded,
			want: FailureConnectTimeout,
		},
		{
			name: "wrapped deadline expiry is a connect timeout",
			err:  fmt.Errorf("dial: %w", context.DeadlineExceeded),
			want: FailureConnectTimeout,
		},
		{
			name: "auth rejection",
			err:  fmt.Errorf("%w: 401 Unauthorized", elevenlabs.ErrUpstreamAuth),
			want: FailureUpstreamAuth,
		},
		{
			name: "upstream outage",
			err:  fmt.Errorf("%w: 503 Service Unavailable", elevenlabs.ErrUpstreamUnavailable),
			want: FailureUpstreamUnavailable,
		},
		{
			name: "anything else is an agent connect failure",
			err:  errors.New("connection refused"),
			want: FailureAgentConnect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyConnectError(tt.err))
		})
	}
}
