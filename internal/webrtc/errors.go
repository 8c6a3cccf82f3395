package webrtc

import "errors"

var (
	ErrBusy   = errors.New("another negotiation operation is in progress")
	ErrClosed = errors.New("peer connection closed")
)
