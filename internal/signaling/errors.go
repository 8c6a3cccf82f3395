package signaling

import "errors"

var (
	ErrAnswerUnsupported = errors.New("sending an answer is not supported by the device-initiated offer flow")
	ErrNoSession         = errors.New("no active live-view session")
	ErrEmptySDP          = errors.New("remote response carried no SDP")
)

// NegotiationError is an expected negotiation failure: a remote rejection,
// a transport failure or an unsupported operation.
type NegotiationError struct {
	Message string
	Err     error
}

func (e *NegotiationError) Error() string {
	return "negotiation failed: " + e.Message
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
