package player

import "errors"

var (
	// ErrNotReady is returned by Start unless the player is READY.
	ErrNotReady = errors.New("player not ready")
)
