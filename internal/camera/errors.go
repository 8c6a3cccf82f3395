package camera

import "errors"

var (
	// ErrNoLiveView is returned when the target device cannot stream.
	ErrNoLiveView = errors.New("device does not support live view")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("camera session closed")
)
