package session

import (
	"context"
	"errors"

	"github.com/f4s4b4/elevenlabs-webhook/internal/elevenlabs"
)

// FailureKind classifies session failures for log consumers. Every failure
// path logs exactly one of these so an external observability collaborator
// can count them without parsing messages.
type FailureKind string

const (
	FailureUpstreamAuth        FailureKind = "upstream_auth"
	FailureUpstreamUnavailable FailureKind = "upstream_unavailable"
	FailureAgentConnect        FailureKind = "agent_connect"
	FailureConnectTimeout      FailureKind = "connect_timeout"
	FailureMalformedFrame      FailureKind = "malformed_frame"
	FailureTransportError      FailureKind = "transport_error"
)

// classifyConnectError maps an agent-leg connect error to its failure kind.
func classifyConnectError(err error) FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureConnectTimeout
	case errors.Is(err, elevenlabs.ErrUpstreamAuth):
		return FailureUpstreamAuth
	case errors.Is(err, elevenlabs.ErrUpstreamUnavailable):
		return FailureUpstreamUnavailable
	default:
		return FailureAgentConnect
	}
}
