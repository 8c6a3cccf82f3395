package player

// State is the player lifecycle. DISPOSED is terminal.
type State int

const (
	StateNotStarted State = iota
	StateReady
	StateStarting
	StateStreaming
	StateStopping
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateReady:
		return "READY"
	case StateStarting:
		return "STARTING"
	case StateStreaming:
		return "STREAMING"
	case StateStopping:
		return "STOPPING"
	case StateDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}
