package domain

import (
	"context"
	"encoding/json"
	"io"
)

// TicketFetcher retrieves live-view signaling credentials from the API.
type TicketFetcher interface {
	FetchTicket(ctx context.Context, token, deviceID string) (*Ticket, error)
}

// DeviceGraph is the device model exposed by the home service. Attribute
// reads and command invocations are opaque remote calls that may fail.
type DeviceGraph interface {
	Device(ctx context.Context, deviceID string) (*Device, error)
	ReadAttribute(ctx context.Context, deviceID, trait, attribute string) (json.RawMessage, error)
	InvokeCommand(ctx context.Context, deviceID, trait, command string, params any) (json.RawMessage, error)
	// SubscribeAttribute delivers reports for one attribute until the
	// returned function is called.
	SubscribeAttribute(deviceID, trait, attribute string) (<-chan AttributeReport, func())
}

// LiveViewTransport is the wire contract of a camera live-view session.
type LiveViewTransport interface {
	SendOffer(ctx context.Context, offerSDP string) (*OfferResult, error)
	ExtendLiveView(ctx context.Context, sessionID string) (*ExtendResult, error)
	StopLiveView(ctx context.Context, sessionID string) error
	StartTalkback(ctx context.Context, sessionID string) error
	StopTalkback(ctx context.Context, sessionID string) error
}

// AudioDevice is the local audio device module: it owns the physical
// microphone and produces samples for the outbound talkback track.
type AudioDevice interface {
	SetMicrophoneMute(muted bool)
	MicrophoneMuted() bool
	// ReadSample blocks until the next capture frame is available.
	ReadSample(ctx context.Context) (Sample, error)
}

// Surface is a drawable render target supplied by the caller. It receives
// Annex-B framed H264.
type Surface interface {
	io.Writer
	Release()
}
