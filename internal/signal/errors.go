package signal

import (
	"errors"
	"fmt"
)

var (
	ErrClosed       = errors.New("signal client closed")
	ErrNotConnected = errors.New("signal client not connected")
)

// RemoteError is a non-zero response code from the signaling server.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: code=%d msg=%s", e.Method, e.Code, e.Message)
}
