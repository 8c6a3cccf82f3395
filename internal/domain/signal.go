package domain

import (
	"encoding/json"
	"time"
)

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// OfferResult is the remote response to a live-view offer. SDP.Type is
// "answer" in the normal flow and "offer" when the remote renegotiates.
type OfferResult struct {
	SDP                        SDPPayload `json:"sdp"`
	MediaSessionID             string     `json:"mediaSessionId"`
	LiveSessionDurationSeconds int        `json:"liveSessionDurationSeconds"`
}

// ExtendResult is the remote response to a live-view extension.
type ExtendResult struct {
	MediaSessionID             string `json:"mediaSessionId"`
	LiveSessionDurationSeconds int    `json:"liveSessionDurationSeconds"`
}

// AttributeReport is a pushed attribute value change.
type AttributeReport struct {
	DeviceID  string          `json:"deviceId"`
	Trait     string          `json:"trait"`
	Attribute string          `json:"attribute"`
	Value     json.RawMessage `json:"value"`
}

// Sample is one frame of captured audio.
type Sample struct {
	Data     []byte
	Duration time.Duration
}
