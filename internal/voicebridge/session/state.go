package session

// State is the lifecycle phase of a session.
type State int

const (
	// StateConnecting: call leg accepted, agent leg being opened.
	StateConnecting State = iota
	// StateAwaitingAgentReady: agent socket open, initiation metadata pending.
	StateAwaitingAgentReady
	// StateBridging: full duplex relay active.
	StateBridging
	// StateClosing: teardown in progress.
	StateClosing
	// StateClosed: both legs closed; terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAgentReady:
		return "awaiting_agent_ready"
	case StateBridging:
		return "bridging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
