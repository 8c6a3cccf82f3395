// Package player drives one WebRTC live-view negotiation with a camera and
// exposes its lifecycle as NOT_STARTED, READY, STARTING, STREAMING,
// STOPPING, DISPOSED.
package player

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/metrics"
	"github.com/bbielsa/camstream/internal/observable"
	"github.com/bbielsa/camstream/internal/render"
	"github.com/bbielsa/camstream/internal/signaling"
	"github.com/bbielsa/camstream/internal/talkback"
	"github.com/bbielsa/camstream/internal/webrtc"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
)

const (
	// DataChannelLabel names the channel the camera expects before media.
	DataChannelLabel = "dataSendChannel"

	defaultDisposeTimeout = time.Second
)

// PeerConnection is the peer wrapper as seen by the player.
// *webrtc.Peer implements it.
type PeerConnection interface {
	Events() <-chan webrtc.Event
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetLocalDescription(ctx context.Context, typ pion.SDPType, sdp string) error
	SetRemoteDescription(ctx context.Context, typ pion.SDPType, sdp string) error
	LocalDescription() string
	CreateDataChannel(label string) (webrtc.DataChannel, error)
	AddTrack(track pion.TrackLocal) (*pion.RTPSender, error)
	Close() error
}

// SignalingChannel carries the offer/answer exchange.
// *signaling.Channel implements it.
type SignalingChannel interface {
	SendOffer(ctx context.Context, offerSDP string) (signaling.Response, error)
	SendAnswer(ctx context.Context, answerSDP string) error
	Dispose(ctx context.Context)
}

// Talkback is the outbound audio controller.
// *talkback.Controller implements it.
type Talkback interface {
	Initialize(pc talkback.TrackAdder) error
	ToggleTalkback(ctx context.Context, enabled bool) bool
	IsTalkbackEnabled() bool
	Dispose(ctx context.Context)
}

// Config configures a Player.
type Config struct {
	DeviceID string

	// Peer and Channel are owned by the player from here on. Required.
	Peer    PeerConnection
	Channel SignalingChannel

	// Talkback is nil when the camera does not support it.
	Talkback Talkback

	// AudioSink receives the camera's audio payloads. Optional.
	AudioSink io.Writer

	// DisposeTimeout bounds each teardown step. Defaults to 1s.
	DisposeTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Player runs the live-view negotiation protocol for one camera. A
// disposed player must not be reused.
type Player struct {
	deviceID       string
	peer           PeerConnection
	channel        SignalingChannel
	talkback       Talkback
	audioSink      io.Writer
	disposeTimeout time.Duration
	log            logging.LeveledLogger

	state    *observable.Value[State]
	renderer *render.Renderer

	// mu orders Attach against Dispose.
	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	dc       webrtc.DataChannel

	readers sync.WaitGroup
}

// New takes ownership of the peer connection and channel. The player is
// READY on return.
func New(cfg Config) *Player {
	timeout := cfg.DisposeTimeout
	if timeout <= 0 {
		timeout = defaultDisposeTimeout
	}

	p := &Player{
		deviceID:       cfg.DeviceID,
		peer:           cfg.Peer,
		channel:        cfg.Channel,
		talkback:       cfg.Talkback,
		audioSink:      cfg.AudioSink,
		disposeTimeout: timeout,
		log:            camlog.Scoped(cfg.LoggerFactory, "player"),
		state:          observable.NewValue(StateNotStarted),
		renderer:       render.New(render.Config{LoggerFactory: cfg.LoggerFactory}),
	}
	p.state.Set(StateReady)
	return p
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	return p.state.Get()
}

// States delivers the current state followed by every change.
func (p *Player) States() (<-chan State, func()) {
	return p.state.Subscribe()
}

// SupportsTalkback reports whether the camera has a talkback controller.
func (p *Player) SupportsTalkback() bool {
	return p.talkback != nil
}

// Start begins negotiation. It returns once the player is STARTING; the
// protocol runs until ctx ends or the player is disposed.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSet(StateReady, StateStarting) {
		return ErrNotReady
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopDone = make(chan struct{})

	p.log.Infof("starting live view for %s", p.deviceID)
	go p.run(ctx, p.loopDone)
	return nil
}

// Attach binds a render surface. Ignored once the player is stopping.
func (p *Player) Attach(s domain.Surface) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.Get() {
	case StateStopping, StateDisposed:
		p.log.Debug("attach ignored, player stopping")
		return
	}
	p.renderer.Attach(s)
}

// Detach releases the render surface. Safe to call repeatedly.
func (p *Player) Detach() {
	p.renderer.Detach()
}

// ToggleTalkback enables or disables talkback. It reports false when the
// camera has no talkback or refused.
func (p *Player) ToggleTalkback(ctx context.Context, enabled bool) bool {
	if p.talkback == nil {
		return false
	}
	return p.talkback.ToggleTalkback(ctx, enabled)
}

// IsTalkbackEnabled reports the talkback state.
func (p *Player) IsTalkbackEnabled() bool {
	if p.talkback == nil {
		return false
	}
	return p.talkback.IsTalkbackEnabled()
}

// Dispose tears the player down. It is a no-op once stopping or disposed.
func (p *Player) Dispose() {
	p.dispose(false)
}

// negotiation is the per-start protocol state owned by the run loop.
type negotiation struct {
	offerReady bool
	offerSent  bool
}

func (p *Player) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var n negotiation
	events := p.peer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if stop := p.handle(ctx, &n, ev); stop {
				return
			}
		}
	}
}

func (p *Player) handle(ctx context.Context, n *negotiation, ev webrtc.Event) (stop bool) {
	switch ev.Kind {
	case webrtc.EventSetupReady:
		n.offerReady = p.prepareOffer(ctx)

	case webrtc.EventICEGatheringState:
		if ev.ICEGatheringState != pion.ICEGatheringStateComplete || !n.offerReady || n.offerSent {
			return false
		}
		n.offerSent = true
		p.exchange(ctx)

	case webrtc.EventTrackAdded:
		p.trackAdded(ev.Track)

	case webrtc.EventDataChannel:
		p.log.Debugf("remote data channel %s", ev.DataChannel.Label())

	case webrtc.EventConnectionState:
		switch ev.ConnectionState {
		case pion.PeerConnectionStateClosed,
			pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed:
			p.log.Infof("connection %s, disposing", ev.ConnectionState)
			p.dispose(true)
			return true
		}
	}
	return false
}

// prepareOffer initializes talkback, opens the data channel and sets the
// local offer. It reports whether the offer is in place.
func (p *Player) prepareOffer(ctx context.Context) bool {
	if p.talkback != nil {
		if err := p.talkback.Initialize(p.peer); err != nil {
			p.log.Warnf("initialize talkback: %v", err)
		}
	}

	dc, err := p.peer.CreateDataChannel(DataChannelLabel)
	if err != nil {
		p.fail(ctx, "open data channel", err)
		return false
	}
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	offer, err := p.peer.CreateOffer(ctx)
	if err != nil {
		p.fail(ctx, "create offer", err)
		return false
	}
	if err := p.peer.SetLocalDescription(ctx, pion.SDPTypeOffer, offer); err != nil {
		p.fail(ctx, "set local offer", err)
		return false
	}
	return true
}

// exchange sends the gathered offer and applies the camera's reply.
func (p *Player) exchange(ctx context.Context) {
	resp, err := p.channel.SendOffer(ctx, p.peer.LocalDescription())
	if err != nil {
		p.fail(ctx, "send offer", err)
		return
	}

	switch resp.Kind {
	case signaling.ResponseAnswer:
		if err := p.peer.SetRemoteDescription(ctx, pion.SDPTypeAnswer, resp.SDP); err != nil {
			p.fail(ctx, "set remote answer", err)
			return
		}
	case signaling.ResponseOffer:
		if err := p.answerRemoteOffer(ctx, resp.SDP); err != nil {
			p.fail(ctx, "answer remote offer", err)
			return
		}
	}

	metrics.NegotiationsTotal.WithLabelValues(metrics.ResultOK).Inc()
	p.log.Infof("negotiated live view for %s", p.deviceID)
}

func (p *Player) answerRemoteOffer(ctx context.Context, offer string) error {
	if err := p.peer.SetRemoteDescription(ctx, pion.SDPTypeOffer, offer); err != nil {
		return err
	}
	answer, err := p.peer.CreateAnswer(ctx)
	if err != nil {
		return err
	}
	if err := p.peer.SetLocalDescription(ctx, pion.SDPTypeAnswer, answer); err != nil {
		return err
	}
	return p.channel.SendAnswer(ctx, answer)
}

// fail abandons the negotiation attempt. Cancellation is not a failure.
func (p *Player) fail(ctx context.Context, step string, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		p.log.Debugf("%s: %v", step, err)
		return
	}
	metrics.NegotiationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
	p.log.Errorf("%s: %v", step, err)
}

func (p *Player) trackAdded(track webrtc.RemoteTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.Get() {
	case StateStopping, StateDisposed:
		return
	}

	switch track.Kind() {
	case pion.RTPCodecTypeAudio:
		p.log.Infof("remote audio track %s", track.ID())
		p.readers.Add(1)
		go p.drainAudio(track)

	case pion.RTPCodecTypeVideo:
		if !p.state.CompareAndSet(StateStarting, StateStreaming) {
			p.log.Debugf("video track %s ignored in %s", track.ID(), p.state.Get())
			return
		}
		p.log.Infof("streaming %s", p.deviceID)
		p.readers.Add(1)
		go func() {
			defer p.readers.Done()
			p.renderer.Run(track)
		}()
	}
}

func (p *Player) drainAudio(track webrtc.RemoteTrack) {
	defer p.readers.Done()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if p.audioSink == nil {
			continue
		}
		if _, err := p.audioSink.Write(pkt.Payload); err != nil {
			p.log.Debugf("write remote audio: %v", err)
		}
	}
}

// dispose runs the teardown once. fromLoop is set when the run loop itself
// triggers it, in which case the loop is not waited for.
func (p *Player) dispose(fromLoop bool) {
	p.mu.Lock()
	switch p.state.Get() {
	case StateStopping, StateDisposed:
		p.mu.Unlock()
		return
	}
	p.state.Set(StateStopping)
	cancel, loopDone, dc := p.cancel, p.loopDone, p.dc
	p.mu.Unlock()

	p.log.Infof("disposing player for %s", p.deviceID)

	if cancel != nil {
		cancel()
	}
	if err := p.peer.Close(); err != nil {
		p.log.Warnf("close peer connection: %v", err)
	}
	p.waitReaders()

	p.withTimeout(p.disposeTalkback)
	p.withTimeout(p.channel.Dispose)

	p.renderer.Detach()
	if dc != nil {
		if err := dc.Close(); err != nil {
			p.log.Debugf("close data channel: %v", err)
		}
	}

	if !fromLoop && loopDone != nil {
		<-loopDone
	}
	p.state.Set(StateDisposed)
}

func (p *Player) disposeTalkback(ctx context.Context) {
	if p.talkback != nil {
		p.talkback.Dispose(ctx)
	}
}

// withTimeout runs f under its own bounded context so teardown completes
// even when the caller is being cancelled. A step that overruns is
// abandoned.
func (p *Player) withTimeout(f func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), p.disposeTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("dispose step timed out")
	}
}

func (p *Player) waitReaders() {
	done := make(chan struct{})
	go func() {
		p.readers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.disposeTimeout):
		p.log.Warn("track readers did not stop")
	}
}
