// Package webrtc wraps a pion PeerConnection as an ordered stream of
// lifecycle events plus single-shot negotiation operations.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/observable"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// EventKind identifies a peer-connection lifecycle event.
type EventKind int

const (
	EventSetupReady EventKind = iota
	EventICEGatheringState
	EventConnectionState
	EventTrackAdded
	EventDataChannel
)

func (k EventKind) String() string {
	switch k {
	case EventSetupReady:
		return "setup-ready"
	case EventICEGatheringState:
		return "ice-gathering-state"
	case EventConnectionState:
		return "connection-state"
	case EventTrackAdded:
		return "track-added"
	case EventDataChannel:
		return "data-channel"
	default:
		return "unknown"
	}
}

// Event is one entry of the peer's event stream. Only the field matching
// Kind is set.
type Event struct {
	Kind              EventKind
	ICEGatheringState pion.ICEGatheringState
	ConnectionState   pion.PeerConnectionState
	Track             RemoteTrack
	DataChannel       DataChannel
}

// RemoteTrack is an inbound media track. *pion.TrackRemote implements it.
type RemoteTrack interface {
	ID() string
	Kind() pion.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// DataChannel is the subset of *pion.DataChannel used by the player.
type DataChannel interface {
	Label() string
	Close() error
}

// PeerConfig configures a Peer.
type PeerConfig struct {
	// API is the shared factory from NewAPI. Required.
	API *pion.API

	ICEServers []domain.ICEServer

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Peer owns one pion PeerConnection. Its events are delivered in order to a
// single consumer; CreateOffer, CreateAnswer, SetLocalDescription and
// SetRemoteDescription must not overlap and fail with ErrBusy if they do.
type Peer struct {
	pc     *pion.PeerConnection
	events *observable.Queue[Event]
	log    logging.LeveledLogger

	opMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewPeer creates a PeerConnection with receive-only audio and video
// transceivers. The first event emitted is EventSetupReady.
func NewPeer(cfg PeerConfig) (*Peer, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("create peer connection: nil API")
	}

	var servers []pion.ICEServer
	for _, s := range cfg.ICEServers {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := cfg.API.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:     pc,
		events: observable.NewQueue[Event](),
		log:    camlog.Scoped(cfg.LoggerFactory, "peer"),
	}

	if err := p.addTransceivers(); err != nil {
		p.Close()
		return nil, err
	}

	pc.OnICEGatheringStateChange(func(state pion.ICEGatheringState) {
		p.log.Debugf("ICE gathering state: %s", state.String())
		p.events.Push(Event{Kind: EventICEGatheringState, ICEGatheringState: state})
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debugf("ICE connection state: %s", state.String())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Infof("peer connection state: %s", state.String())
		p.events.Push(Event{Kind: EventConnectionState, ConnectionState: state})
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)
		p.events.Push(Event{Kind: EventTrackAdded, Track: track})
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		p.log.Infof("remote data channel %q", dc.Label())
		p.events.Push(Event{Kind: EventDataChannel, DataChannel: dc})
	})

	p.events.Push(Event{Kind: EventSetupReady})
	return p, nil
}

// addTransceivers adds receive-only audio and video transceivers. A local
// talkback track added later reuses the audio transceiver as sendrecv.
func (p *Peer) addTransceivers() error {
	_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	_, err = p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}

	return nil
}

// Events returns the peer's event stream. There must be one consumer.
func (p *Peer) Events() <-chan Event {
	return p.events.Out()
}

// CreateOffer creates an SDP offer.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	return p.do(ctx, "create offer", func() (string, error) {
		offer, err := p.pc.CreateOffer(nil)
		return offer.SDP, err
	})
}

// CreateAnswer creates an SDP answer to the current remote offer.
func (p *Peer) CreateAnswer(ctx context.Context) (string, error) {
	return p.do(ctx, "create answer", func() (string, error) {
		answer, err := p.pc.CreateAnswer(nil)
		return answer.SDP, err
	})
}

// SetLocalDescription applies a local offer or answer.
func (p *Peer) SetLocalDescription(ctx context.Context, typ pion.SDPType, sdp string) error {
	_, err := p.do(ctx, "set local description", func() (string, error) {
		return "", p.pc.SetLocalDescription(pion.SessionDescription{Type: typ, SDP: sdp})
	})
	return err
}

// SetRemoteDescription applies a remote offer or answer.
func (p *Peer) SetRemoteDescription(ctx context.Context, typ pion.SDPType, sdp string) error {
	_, err := p.do(ctx, "set remote description", func() (string, error) {
		return "", p.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sdp})
	})
	return err
}

// LocalDescription returns the current local SDP including gathered
// candidates, or "" before one is set.
func (p *Peer) LocalDescription() string {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return ""
	}
	return desc.SDP
}

// CreateDataChannel opens a negotiated-in-band data channel.
func (p *Peer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		p.log.Infof("data channel %q opened", label)
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		p.log.Debugf("data channel message: %s", string(msg.Data))
	})
	dc.OnClose(func() {
		p.log.Infof("data channel %q closed", label)
	})
	return dc, nil
}

// AddTrack attaches a local track.
func (p *Peer) AddTrack(track pion.TrackLocal) (*pion.RTPSender, error) {
	return p.pc.AddTrack(track)
}

// Close shuts down the PeerConnection and the event stream.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
		p.events.Close()
	})
	return p.closeErr
}

// do runs op as a single-shot operation. The result is delivered exactly
// once; if ctx ends first the caller returns and the result is discarded.
func (p *Peer) do(ctx context.Context, name string, op func() (string, error)) (string, error) {
	if !p.opMu.TryLock() {
		return "", fmt.Errorf("%s: %w", name, ErrBusy)
	}

	type result struct {
		sdp string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer p.opMu.Unlock()
		sdp, err := op()
		done <- result{sdp: sdp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%s: %w", name, res.err)
		}
		return res.sdp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
