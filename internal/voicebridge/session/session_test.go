package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/f4s4b4/elevenlabs-webhook/internal/elevenlabs"
	"github.com/f4s4b4/elevenlabs-webhook/internal/observability"
	"github.com/f4s4b4/elevenlabs-webhook/internal/voicebridge/twilio"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 3 * time.Second

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// fakeAgent is a WebSocket server standing in for the conversational-AI
// provider. Every received JSON frame is pushed onto the connection's recv
// channel.
type fakeAgent struct {
	server *httptest.Server
	conns  chan *fakeAgentConn
}

type fakeAgentConn struct {
	conn  *websocket.Conn
	recv  chan map[string]interface{}
	pings chan struct{}
}

func newFakeAgent(t *testing.T) *fakeAgent {
	t.Helper()
	agent := &fakeAgent{conns: make(chan *fakeAgentConn, 4)}
	upgrader := websocket.Upgrader{}

	agent.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ac := &fakeAgentConn{
			conn:  conn,
			recv:  make(chan map[string]interface{}, 32),
			pings: make(chan struct{}, 8),
		}
		conn.SetPingHandler(func(string) error {
			select {
			case ac.pings <- struct{}{}:
			default:
			}
			return nil
		})
		agent.conns <- ac
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(ac.recv)
				return
			}
			var msg map[string]interface{}
			if json.Unmarshal(data, &msg) == nil {
				ac.recv <- msg
			}
		}
	}))
	t.Cleanup(agent.server.Close)
	return agent
}

func (a *fakeAgent) waitForConn(t *testing.T) *fakeAgentConn {
	t.Helper()
	select {
	case ac := <-a.conns:
		return ac
	case <-time.After(testTimeout):
		t.Fatal("agent leg never connected")
		return nil
	}
}

func (ac *fakeAgentConn) waitForMessage(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case msg, ok := <-ac.recv:
		if !ok {
			t.Fatal("agent connection closed while waiting for a message")
		}
		return msg
	case <-time.After(testTimeout):
		t.Fatal("agent never received a message")
		return nil
	}
}

func (ac *fakeAgentConn) send(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, ac.conn.WriteJSON(v))
}

// directConnector builds a real provider client pointed at the fake agent.
func directConnector(agent *fakeAgent) *elevenlabs.Client {
	return elevenlabs.NewClient(elevenlabs.Config{
		AgentID:   "agent-test",
		APIKey:    "test-key",
		Mode:      elevenlabs.ModeDirect,
		WSBaseURL: wsURL(agent.server.URL),
	}, observability.NewLogger())
}

// newBridgeServer exposes the session over a real WebSocket endpoint the
// tests dial as the telephony side.
func newBridgeServer(t *testing.T, connector AgentConnector) (*httptest.Server, chan *Session) {
	t.Helper()
	return newBridgeServerWithConfig(t, connector, Config{})
}

func newBridgeServerWithConfig(t *testing.T, connector AgentConnector, cfg Config) (*httptest.Server, chan *Session) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	sessions := make(chan *Session, 4)
	logger := observability.NewLogger()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := New(twilio.NewConn(conn), connector, cfg, logger)
		sessions <- sess
		sess.Run(r.Context())
	}))
	t.Cleanup(server.Close)
	return server, sessions
}

// gatedConnector holds the agent leg closed until its gate opens.
type gatedConnector struct {
	inner AgentConnector
	gate  chan struct{}
}

func (g *gatedConnector) Connect(ctx context.Context) (*websocket.Conn, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Connect(ctx)
}

func dialCallLeg(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendStart(t *testing.T, callLeg *websocket.Conn, streamSid string) {
	t.Helper()
	require.NoError(t, callLeg.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{"streamSid": streamSid, "callSid": "CA123"},
	}))
}

func sendMedia(t *testing.T, callLeg *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, callLeg.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{"track": "inbound", "payload": payload},
	}))
}

func readCallLegJSON(t *testing.T, callLeg *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, callLeg.SetReadDeadline(time.Now().Add(testTimeout)))
	_, data, err := callLeg.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForSession(t *testing.T, sessions chan *Session) *Session {
	t.Helper()
	select {
	case sess := <-sessions:
		return sess
	case <-time.After(testTimeout):
		t.Fatal("session never started")
		return nil
	}
}

func waitForStreamSid(t *testing.T, sess *Session, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.StreamSid() == want
	}, testTimeout, 5*time.Millisecond)
}

func TestSession_ForwardsCallAudioToAgent(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)

	sendStart(t, callLeg, "SID1")
	sendMedia(t, callLeg, "QUJD") // "ABC"

	ac := agent.waitForConn(t)
	msg := ac.waitForMessage(t)
	require.Contains(t, msg, "user_audio_chunk")
	assert.Equal(t, "QUJD", msg["user_audio_chunk"])

	decoded, err := base64.StdEncoding.DecodeString(msg["user_audio_chunk"].(string))
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(decoded))

	state := sess.State()
	assert.Contains(t, []State{StateAwaitingAgentReady, StateBridging}, state)
}

func TestSession_AgentAudioToCallLeg(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)
	sendStart(t, callLeg, "SID1")
	waitForStreamSid(t, sess, "SID1")

	ac := agent.waitForConn(t)

	// Nested chunk variant.
	ac.send(t, map[string]interface{}{
		"type":  "audio",
		"audio": map[string]interface{}{"chunk": "UVdF"},
	})
	msg := readCallLegJSON(t, callLeg)
	assert.Equal(t, "media", msg["event"])
	assert.Equal(t, "SID1", msg["streamSid"])
	assert.Equal(t, "UVdF", msg["media"].(map[string]interface{})["payload"])

	// Bare string variant.
	ac.send(t, map[string]interface{}{"type": "audio", "audio": "WFla"})
	msg = readCallLegJSON(t, callLeg)
	assert.Equal(t, "media", msg["event"])
	assert.Equal(t, "WFla", msg["media"].(map[string]interface{})["payload"])
}

func TestSession_NoMediaBeforeStreamSid(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)
	ac := agent.waitForConn(t)

	// Audio arriving before the start event must be dropped, not sent with
	// an empty correlation identifier.
	ac.send(t, map[string]interface{}{
		"type":  "audio",
		"audio": map[string]interface{}{"chunk": "RFJPUA=="},
	})
	// The pong reply proves the session consumed the early audio event
	// before the start event below.
	ac.send(t, map[string]interface{}{"type": "ping", "ping_event": map[string]interface{}{"event_id": 1}})
	pong := ac.waitForMessage(t)
	require.Equal(t, "pong", pong["type"])

	sendStart(t, callLeg, "SID1")
	waitForStreamSid(t, sess, "SID1")
	ac.send(t, map[string]interface{}{
		"type":  "audio",
		"audio": map[string]interface{}{"chunk": "UVdF"},
	})

	// The first and only frame on the call leg is the post-start chunk.
	msg := readCallLegJSON(t, callLeg)
	assert.Equal(t, "SID1", msg["streamSid"])
	assert.Equal(t, "UVdF", msg["media"].(map[string]interface{})["payload"])
}

func TestSession_InterruptionEmitsClear(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)
	sendStart(t, callLeg, "SID1")
	waitForStreamSid(t, sess, "SID1")

	ac := agent.waitForConn(t)
	ac.send(t, map[string]interface{}{"type": "interruption"})

	msg := readCallLegJSON(t, callLeg)
	assert.Equal(t, "clear", msg["event"])
	assert.Equal(t, "SID1", msg["streamSid"])
}

func TestSession_PingPongEcho(t *testing.T) {
	agent := newFakeAgent(t)
	server, _ := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sendStart(t, callLeg, "SID1")

	ac := agent.waitForConn(t)

	// A ping without an event id gets no reply; the next real ping must be
	// answered first, proving no stray pong was emitted.
	ac.send(t, map[string]interface{}{"type": "ping", "ping_event": map[string]interface{}{}})
	ac.send(t, map[string]interface{}{"type": "ping", "ping_event": map[string]interface{}{"event_id": 7}})

	msg := ac.waitForMessage(t)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, float64(7), msg["event_id"])

	// String identifiers are echoed in their original shape.
	ac.send(t, map[string]interface{}{"type": "ping", "ping_event": map[string]interface{}{"event_id": "ev-9"}})
	msg = ac.waitForMessage(t)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "ev-9", msg["event_id"])
}

func TestSession_HeartbeatPingsBothLegs(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServerWithConfig(t, directConnector(agent),
		Config{HeartbeatInterval: 25 * time.Millisecond})

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)
	ac := agent.waitForConn(t)

	callPings := make(chan struct{}, 8)
	callLeg.SetPingHandler(func(string) error {
		select {
		case callPings <- struct{}{}:
		default:
		}
		return nil
	})
	// Control frames are only surfaced while reading.
	go func() {
		for {
			if _, _, err := callLeg.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, leg := range []struct {
		name  string
		pings chan struct{}
	}{
		{name: "call leg", pings: callPings},
		{name: "agent leg", pings: ac.pings},
	} {
		select {
		case <-leg.pings:
		case <-time.After(testTimeout):
			t.Fatalf("no heartbeat ping arrived on the %s", leg.name)
		}
	}

	// Heartbeat traffic must not disturb the session.
	assert.NotEqual(t, StateClosed, sess.State())
}

func TestSession_BufferedAudioFlushesInArrivalOrder(t *testing.T) {
	agent := newFakeAgent(t)
	gate := make(chan struct{})
	connector := &gatedConnector{inner: directConnector(agent), gate: gate}
	server, sessions := newBridgeServer(t, connector)

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)
	sendStart(t, callLeg, "SID1")
	waitForStreamSid(t, sess, "SID1")

	// The first chunks buffer while the agent leg is held closed; the rest
	// race the attach-and-flush.
	for i := 1; i <= 5; i++ {
		sendMedia(t, callLeg, fmt.Sprintf("chunk-%d", i))
	}
	close(gate)
	for i := 6; i <= 10; i++ {
		sendMedia(t, callLeg, fmt.Sprintf("chunk-%d", i))
	}

	ac := agent.waitForConn(t)
	for i := 1; i <= 10; i++ {
		msg := ac.waitForMessage(t)
		require.Equal(t, fmt.Sprintf("chunk-%d", i), msg["user_audio_chunk"])
	}
}

func TestSession_AgentReadyTransitionsToBridging(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	dialCallLeg(t, server)
	sess := waitForSession(t, sessions)

	ac := agent.waitForConn(t)
	ac.send(t, map[string]interface{}{"type": "conversation_initiation_metadata"})

	require.Eventually(t, func() bool {
		return sess.State() == StateBridging
	}, testTimeout, 10*time.Millisecond)
}

func TestSession_StopTearsDownBothLegs(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)

	sendStart(t, callLeg, "SID1")
	ac := agent.waitForConn(t)

	require.NoError(t, callLeg.WriteJSON(map[string]interface{}{"event": "stop", "stop": map[string]interface{}{}}))

	select {
	case <-sess.Done():
	case <-time.After(testTimeout):
		t.Fatal("session never reached terminal state")
	}
	assert.Equal(t, StateClosed, sess.State())

	// The agent leg must have been closed too: its recv channel drains and
	// closes once the read loop errors out.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ac.recv:
			return !ok
		default:
			return false
		}
	}, testTimeout, 10*time.Millisecond)
}

func TestSession_CallLegCloseClosesAgentLeg(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)
	ac := agent.waitForConn(t)

	require.NoError(t, callLeg.Close())

	select {
	case <-sess.Done():
	case <-time.After(testTimeout):
		t.Fatal("session never reached terminal state")
	}

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ac.recv:
			return !ok
		default:
			return false
		}
	}, testTimeout, 10*time.Millisecond)
}

func TestSession_TeardownIsIdempotent(t *testing.T) {
	agent := newFakeAgent(t)
	server, sessions := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)
	agent.waitForConn(t)

	require.NoError(t, callLeg.Close())
	select {
	case <-sess.Done():
	case <-time.After(testTimeout):
		t.Fatal("session never closed")
	}

	// Closing an already-closed session must not panic or block.
	sess.Close()
	sess.Close()
	assert.Equal(t, StateClosed, sess.State())
}

func TestSession_SignedURLAuthFailureClosesCallLeg(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(apiServer.Close)

	connector := elevenlabs.NewClient(elevenlabs.Config{
		AgentID:    "agent-test",
		APIKey:     "bad-key",
		Mode:       elevenlabs.ModeSignedURL,
		APIBaseURL: apiServer.URL,
	}, observability.NewLogger())

	server, sessions := newBridgeServer(t, connector)
	callLeg := dialCallLeg(t, server)
	sess := waitForSession(t, sessions)

	// Writes may race the server-side close; only the outcome matters.
	callLeg.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{"streamSid": "SID1", "callSid": "CA123"},
	})
	callLeg.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{"track": "inbound", "payload": "QUJD"},
	})

	// The session must fail without bridging: the call leg is closed and no
	// media ever flowed anywhere.
	require.NoError(t, callLeg.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		if _, _, err := callLeg.ReadMessage(); err != nil {
			break
		}
		t.Fatal("no frame should reach the call leg when the signed URL fetch fails")
	}

	select {
	case <-sess.Done():
	case <-time.After(testTimeout):
		t.Fatal("session never closed after auth failure")
	}
	assert.Equal(t, StateClosed, sess.State())
}

func TestSession_MalformedFramesAreDropped(t *testing.T) {
	agent := newFakeAgent(t)
	server, _ := newBridgeServer(t, directConnector(agent))

	callLeg := dialCallLeg(t, server)

	require.NoError(t, callLeg.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendStart(t, callLeg, "SID1")
	sendMedia(t, callLeg, "QUJD")

	// The session survived the bad frame and still relays audio.
	ac := agent.waitForConn(t)
	msg := ac.waitForMessage(t)
	assert.Equal(t, "QUJD", msg["user_audio_chunk"])
}
