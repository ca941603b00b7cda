package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/f4s4b4/elevenlabs-webhook/internal/elevenlabs"
	"github.com/f4s4b4/elevenlabs-webhook/internal/observability"
	"github.com/f4s4b4/elevenlabs-webhook/internal/voicebridge/twilio"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// AgentConnector opens the agent-leg socket for one session. Both connect
// modes of the provider client satisfy it; the session never knows which
// mode was used.
type AgentConnector interface {
	Connect(ctx context.Context) (*websocket.Conn, error)
}

// Config holds per-session tuning.
type Config struct {
	// HeartbeatInterval is the transport-level ping cadence on both legs.
	HeartbeatInterval time.Duration
	// PendingAudioLimit bounds call audio buffered while the agent leg is
	// still opening; the oldest chunk is dropped on overflow.
	PendingAudioLimit int
}

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultPendingAudioLimit = 64
	writeWait                = 10 * time.Second
)

// Session owns exactly one call-leg and one agent-leg socket pair for the
// lifetime of a call. All per-call state lives here; nothing is shared
// across sessions.
type Session struct {
	id        string
	cfg       Config
	logger    *observability.Logger
	connector AgentConnector
	callLeg   *twilio.Conn

	mu           sync.Mutex
	state        State
	agent        *websocket.Conn
	pendingAudio []string

	agentWriteMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a session around an accepted call-leg connection.
func New(callLeg *twilio.Conn, connector AgentConnector, cfg Config, logger *observability.Logger) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.PendingAudioLimit <= 0 {
		cfg.PendingAudioLimit = defaultPendingAudioLimit
	}
	return &Session{
		id:        uuid.New().String(),
		cfg:       cfg,
		logger:    logger,
		connector: connector,
		callLeg:   callLeg,
		state:     StateConnecting,
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamSid returns the call-leg correlation identifier, empty until the
// provider's start event arrived.
func (s *Session) StreamSid() string {
	return s.callLeg.StreamSid()
}

// Done is closed once the session reached its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run bridges the two legs until either closes. It blocks until teardown
// completed; the caller owns the goroutine.
func (s *Session) Run(ctx context.Context) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "session_id", Value: s.id})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info(ctx, "Call leg connected")

	go s.connectAgent(ctx)
	go s.heartbeat(ctx)

	s.readCallLeg(ctx)
	s.teardown(ctx)
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.teardown(context.Background())
}

// connectAgent opens the agent leg and attaches it to the session. Runs once,
// concurrently with the call-leg reader.
func (s *Session) connectAgent(ctx context.Context) {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		s.logFailure(ctx, classifyConnectError(err), "Agent leg failed to open", err)
		s.teardown(ctx)
		return
	}

	s.mu.Lock()
	if s.state >= StateClosing {
		// The call hung up while we were connecting.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.state = StateAwaitingAgentReady
	pending := s.pendingAudio
	s.pendingAudio = nil
	// The write mutex is held across attach and flush, so direct forwards
	// queue behind the buffered chunks and audio keeps its arrival order.
	s.agentWriteMu.Lock()
	s.agent = conn
	s.mu.Unlock()

	var flushErr error
	for _, payload := range pending {
		msg, err := elevenlabs.UserAudioChunkMessage(payload)
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, msg)
		}
		if err != nil {
			flushErr = err
			break
		}
	}
	s.agentWriteMu.Unlock()

	if flushErr != nil {
		s.logFailure(ctx, FailureTransportError, "Agent leg write failed flushing buffered audio", flushErr)
		s.teardown(ctx)
		return
	}

	s.logger.Info(ctx, "Agent leg connected")
	s.readAgent(ctx, conn)
}

// readCallLeg consumes the call leg until stop, close, or transport error.
func (s *Session) readCallLeg(ctx context.Context) {
	for {
		data, err := s.callLeg.ReadMessage()
		if err != nil {
			if s.closingOrClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info(ctx, "Call leg closed")
			} else {
				s.logFailure(ctx, FailureTransportError, "Call leg transport error", err)
			}
			return
		}

		event, err := twilio.ParseMediaEvent(data)
		if err != nil {
			// A single bad frame never kills the session.
			s.logFailure(ctx, FailureMalformedFrame, "Dropping malformed call-leg frame", err)
			continue
		}

		switch event.Event {
		case twilio.EventStart:
			if event.Start == nil || event.Start.StreamSid == "" {
				s.logFailure(ctx, FailureMalformedFrame, "Start event missing stream SID", nil)
				continue
			}
			s.callLeg.SetStreamSid(event.Start.StreamSid)
			s.logger.Info(observability.WithFields(ctx,
				observability.Field{Key: "stream_sid", Value: event.Start.StreamSid},
				observability.Field{Key: "call_sid", Value: event.Start.CallSid},
			), "Media stream started")

		case twilio.EventMedia:
			if event.Media == nil || event.Media.Payload == "" {
				continue
			}
			if err := s.forwardCallAudio(event.Media.Payload); err != nil {
				s.logFailure(ctx, FailureTransportError, "Agent leg write failed", err)
				s.teardown(ctx)
				return
			}

		case twilio.EventStop:
			s.logger.Info(ctx, "Media stream stopped")
			return

		default:
			s.logger.Debug(ctx, fmt.Sprintf("Ignoring call-leg event %q", event.Event))
		}
	}
}

// forwardCallAudio relays one base64 payload toward the agent, buffering it
// while the agent leg is still opening.
func (s *Session) forwardCallAudio(payload string) error {
	s.mu.Lock()
	if s.agent == nil {
		if s.state >= StateClosing {
			s.mu.Unlock()
			return nil
		}
		if len(s.pendingAudio) >= s.cfg.PendingAudioLimit {
			s.pendingAudio = s.pendingAudio[1:]
		}
		s.pendingAudio = append(s.pendingAudio, payload)
		s.mu.Unlock()
		return nil
	}
	conn := s.agent
	s.mu.Unlock()

	return s.sendCallAudio(conn, payload)
}

func (s *Session) sendCallAudio(conn *websocket.Conn, payload string) error {
	msg, err := elevenlabs.UserAudioChunkMessage(payload)
	if err != nil {
		return err
	}
	return s.writeAgent(conn, msg)
}

// readAgent consumes the agent leg until close or transport error.
func (s *Session) readAgent(ctx context.Context, conn *websocket.Conn) {
	defer s.teardown(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.closingOrClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info(ctx, "Agent leg closed")
			} else {
				s.logFailure(ctx, FailureTransportError, "Agent leg transport error", err)
			}
			return
		}

		event, err := elevenlabs.ParseAgentEvent(data)
		if err != nil {
			s.logFailure(ctx, FailureMalformedFrame, "Dropping malformed agent frame", err)
			continue
		}

		switch event.Type {
		case elevenlabs.EventInitiationMetadata:
			s.setBridging()
			s.logger.Info(ctx, "Agent ready")

		case elevenlabs.EventAudio:
			chunk, ok := event.AudioChunk()
			if !ok {
				continue
			}
			if err := s.callLeg.WriteMedia(chunk); err != nil {
				if errors.Is(err, twilio.ErrNoStreamSid) {
					// The media envelope requires the SID; nothing can be
					// played before the start event anyway.
					s.logger.Debug(ctx, "Dropping agent audio: stream SID not yet known")
					continue
				}
				s.logFailure(ctx, FailureTransportError, "Call leg write failed", err)
				return
			}

		case elevenlabs.EventInterruption:
			if err := s.callLeg.WriteClear(); err != nil {
				if errors.Is(err, twilio.ErrNoStreamSid) {
					continue
				}
				s.logFailure(ctx, FailureTransportError, "Call leg write failed", err)
				return
			}

		case elevenlabs.EventPing:
			if event.PingEvent == nil || len(event.PingEvent.EventID) == 0 {
				continue
			}
			msg, err := elevenlabs.PongMessage(event.PingEvent.EventID)
			if err != nil {
				continue
			}
			if err := s.writeAgent(conn, msg); err != nil {
				s.logFailure(ctx, FailureTransportError, "Agent leg write failed", err)
				return
			}

		default:
			s.logger.Debug(ctx, fmt.Sprintf("Ignoring agent event %q", event.Type))
		}
	}
}

// heartbeat pings both legs to defeat idle-connection timeouts. Ping
// failures are logged, not fatal; the read loops notice dead peers.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.callLeg.Ping(); err != nil {
				s.logger.Debug(ctx, "Call leg ping failed")
			}
			s.mu.Lock()
			agent := s.agent
			s.mu.Unlock()
			if agent != nil {
				if err := agent.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					s.logger.Debug(ctx, "Agent leg ping failed")
				}
			}
		}
	}
}

// writeAgent serializes data-frame writes to the agent leg; the reader, the
// call-leg forwarder, and the pong path all write here.
func (s *Session) writeAgent(conn *websocket.Conn, data []byte) error {
	s.agentWriteMu.Lock()
	defer s.agentWriteMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) setBridging() {
	s.mu.Lock()
	if s.state == StateAwaitingAgentReady {
		s.state = StateBridging
	}
	s.mu.Unlock()
}

func (s *Session) closingOrClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state >= StateClosing
}

func (s *Session) logFailure(ctx context.Context, kind FailureKind, msg string, err error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "failure_kind", Value: string(kind)})
	if err != nil {
		s.logger.Error(ctx, msg, err)
	} else {
		s.logger.Warn(ctx, msg)
	}
}

// teardown closes whichever legs are still open. Single code path for every
// exit; closing one leg always closes the other.
func (s *Session) teardown(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		agent := s.agent
		s.mu.Unlock()

		if agent != nil {
			agent.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			agent.Close()
		}
		s.callLeg.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)

		s.logger.Info(ctx, "Session closed")
	})
}
