package camera

// State is the user-facing camera session state. ERROR holds until the
// target device changes.
type State int

const (
	StateNotStarted State = iota
	StateInitialized
	StateReadyOff
	StateReadyOn
	StateStarting
	StateStreamingWithoutTalkback
	StateStreamingWithTalkback
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateInitialized:
		return "INITIALIZED"
	case StateReadyOff:
		return "READY_OFF"
	case StateReadyOn:
		return "READY_ON"
	case StateStarting:
		return "STARTING"
	case StateStreamingWithoutTalkback:
		return "STREAMING_WITHOUT_TALKBACK"
	case StateStreamingWithTalkback:
		return "STREAMING_WITH_TALKBACK"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Streaming reports whether s is one of the streaming states.
func (s State) Streaming() bool {
	return s == StateStreamingWithoutTalkback || s == StateStreamingWithTalkback
}

// active states hold or are about to hold a running player.
func (s State) active() bool {
	return s == StateReadyOn || s == StateStarting || s.Streaming()
}
