// Package camera implements the camera stream session: it acquires the
// resources for one target device and drives a live-view player from the
// device's recording switch, app foreground state and the player's own
// lifecycle.
package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/metrics"
	"github.com/bbielsa/camstream/internal/observable"
	"github.com/bbielsa/camstream/internal/onoff"
	"github.com/bbielsa/camstream/internal/player"

	"github.com/pion/logging"
)

const (
	defaultFetchTimeout  = 5 * time.Second
	defaultToggleTimeout = 10 * time.Second
)

// LivePlayer is the live-view player owned by a session.
// *player.Player implements it.
type LivePlayer interface {
	Start(ctx context.Context) error
	Dispose()
	States() (<-chan player.State, func())
	ToggleTalkback(ctx context.Context, enabled bool) bool
	IsTalkbackEnabled() bool
	SupportsTalkback() bool
	Attach(s domain.Surface)
	Detach()
}

// Recorder is the device's on/off control. *onoff.Controller implements it.
type Recorder interface {
	Recording() bool
	Subscribe() (<-chan bool, func())
	SetRecording(ctx context.Context, on bool) error
	Close()
}

// Config configures a Session.
type Config struct {
	// Graph resolves devices. Required.
	Graph domain.DeviceGraph

	// NewPlayer builds a READY player for a device. Required.
	NewPlayer func(dev *domain.Device) (LivePlayer, error)

	// NewRecorder builds the on/off control of a device with a recording
	// switch. Defaults to an onoff.Controller on Graph.
	NewRecorder func(ctx context.Context, dev *domain.Device) (Recorder, error)

	// FetchTimeout bounds resource setup. Defaults to 5s.
	FetchTimeout time.Duration
	// ToggleTimeout bounds a recording toggle. Defaults to 10s.
	ToggleTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Status is a snapshot of a session.
type Status struct {
	DeviceID         string `json:"deviceId"`
	State            string `json:"state"`
	Foreground       bool   `json:"foreground"`
	Recording        bool   `json:"recording"`
	SupportsTalkback bool   `json:"supportsTalkback"`
	Talkback         bool   `json:"talkback"`
	Error            string `json:"error,omitempty"`
}

type triggerKind int

const (
	trigDevice triggerKind = iota
	trigForeground
	trigRecording
	trigPlayerState
	trigTalkback
	trigStop
	trigClose
)

type trigger struct {
	kind        triggerKind
	deviceID    string
	on          bool
	player      LivePlayer
	playerState player.State
	recorder    Recorder
	done        chan error
}

// Session is the camera stream state machine for one target device at a
// time. All transitions run on one goroutine.
type Session struct {
	graph         domain.DeviceGraph
	newPlayer     func(dev *domain.Device) (LivePlayer, error)
	newRecorder   func(ctx context.Context, dev *domain.Device) (Recorder, error)
	fetchTimeout  time.Duration
	toggleTimeout time.Duration
	log           logging.LeveledLogger

	state    *observable.Value[State]
	triggers *observable.Queue[trigger]
	loopDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Written by the loop, read by callers.
	mu         sync.Mutex
	deviceID   string
	device     *domain.Device
	player     LivePlayer
	recorder   Recorder
	foreground bool
	recording  bool
	lastErr    string
	surface    domain.Surface

	// Loop only.
	devCtx       context.Context
	devCancel    context.CancelFunc
	stopPlayer   func()
	stopRecorder func()
	closeOnce    sync.Once
}

// NewSession creates a session in NOT_STARTED with the app in background.
func NewSession(cfg Config) *Session {
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	toggleTimeout := cfg.ToggleTimeout
	if toggleTimeout <= 0 {
		toggleTimeout = defaultToggleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		graph:         cfg.Graph,
		newPlayer:     cfg.NewPlayer,
		newRecorder:   cfg.NewRecorder,
		fetchTimeout:  fetchTimeout,
		toggleTimeout: toggleTimeout,
		log:           camlog.Scoped(cfg.LoggerFactory, "camera"),
		state:         observable.NewValue(StateNotStarted),
		triggers:      observable.NewQueue[trigger](),
		loopDone:      make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		devCtx:        ctx,
		devCancel:     func() {},
	}
	if s.newRecorder == nil {
		lf := cfg.LoggerFactory
		s.newRecorder = func(ctx context.Context, dev *domain.Device) (Recorder, error) {
			c, err := onoff.New(ctx, onoff.Config{
				Graph:         cfg.Graph,
				DeviceID:      dev.ID,
				ToggleTimeout: toggleTimeout,
				LoggerFactory: lf,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	go s.run()
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return s.state.Get()
}

// States delivers the current state followed by every transition.
func (s *Session) States() (<-chan State, func()) {
	return s.state.Subscribe()
}

// Status returns a snapshot for display.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		DeviceID:   s.deviceID,
		State:      s.state.Get().String(),
		Foreground: s.foreground,
		Recording:  s.recording,
		Error:      s.lastErr,
	}
	if s.player != nil {
		st.SupportsTalkback = s.player.SupportsTalkback()
		st.Talkback = s.player.IsTalkbackEnabled()
	}
	return st
}

// SetDevice makes id the target device. Any existing player is stopped and
// the on/off control discarded before resources for id are set up. It
// returns the setup error, which also moves the session to ERROR.
func (s *Session) SetDevice(ctx context.Context, id string) error {
	return s.send(ctx, trigger{kind: trigDevice, deviceID: id})
}

// SetForeground reports whether the app is in the foreground.
func (s *Session) SetForeground(on bool) {
	s.push(trigger{kind: trigForeground, on: on})
}

// ToggleRecording turns the device's recording on or off and reports
// whether the new state was confirmed in time. Turning it off stops the
// player without waiting for confirmation.
func (s *Session) ToggleRecording(ctx context.Context, on bool) bool {
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()

	if rec == nil {
		s.log.Warn("toggle recording: device has no on/off control")
		return false
	}

	if !on {
		s.push(trigger{kind: trigStop, recorder: rec})
	}

	ctx, cancel := context.WithTimeout(ctx, s.toggleTimeout)
	defer cancel()

	if err := rec.SetRecording(ctx, on); err != nil {
		s.log.Warnf("toggle recording(%t): %v", on, err)
		s.setError(fmt.Sprintf("could not turn recording %s: %v", onOff(on), err))
		// Resync with what the device actually reports.
		s.push(trigger{kind: trigRecording, recorder: rec, on: rec.Recording()})
		return false
	}
	return true
}

// ToggleTalkback enables or disables talkback while streaming and reports
// whether the player did so.
func (s *Session) ToggleTalkback(ctx context.Context, enabled bool) bool {
	s.mu.Lock()
	p := s.player
	s.mu.Unlock()

	if p == nil || !s.state.Get().Streaming() {
		s.log.Warnf("toggle talkback(%t): not streaming", enabled)
		return false
	}

	if !p.ToggleTalkback(ctx, enabled) {
		s.setError(fmt.Sprintf("could not turn talkback %s", onOff(enabled)))
		return false
	}
	if err := s.send(ctx, trigger{kind: trigTalkback, player: p, on: enabled}); err != nil {
		return false
	}
	return true
}

// AttachSurface renders the stream onto surf, now and for later players.
func (s *Session) AttachSurface(surf domain.Surface) {
	s.mu.Lock()
	s.surface = surf
	p := s.player
	s.mu.Unlock()

	if p != nil {
		p.Attach(surf)
	}
}

// DetachSurface stops rendering and releases the surface.
func (s *Session) DetachSurface() {
	s.mu.Lock()
	s.surface = nil
	p := s.player
	s.mu.Unlock()

	if p != nil {
		p.Detach()
	}
}

// Close tears down the player and on/off control and stops the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		s.triggers.Push(trigger{kind: trigClose, done: done})
		<-s.loopDone
		s.triggers.Close()
	})
}

func (s *Session) push(t trigger) {
	if !s.triggers.Push(t) {
		s.log.Debug("trigger after close dropped")
	}
}

// send pushes t and waits for the loop to handle it.
func (s *Session) send(ctx context.Context, t trigger) error {
	t.done = make(chan error, 1)
	if !s.triggers.Push(t) {
		return ErrClosed
	}
	select {
	case err := <-t.done:
		return err
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run() {
	defer close(s.loopDone)

	for t := range s.triggers.Out() {
		var err error
		switch t.kind {
		case trigDevice:
			err = s.changeDevice(t.deviceID)
		case trigForeground:
			s.mu.Lock()
			s.foreground = t.on
			s.mu.Unlock()
		case trigRecording:
			s.recordingChanged(t.recorder, t.on)
		case trigStop:
			s.optimisticStop(t.recorder)
		case trigPlayerState:
			s.playerChanged(t.player, t.playerState)
		case trigTalkback:
			s.talkbackChanged(t.player, t.on)
		case trigClose:
			s.shutdown()
			t.done <- nil
			return
		}

		s.evaluate()
		if t.done != nil {
			t.done <- err
		}
	}
}

// set publishes a transition.
func (s *Session) set(next State) {
	prev := s.state.Get()
	if !s.state.Set(next) {
		return
	}
	metrics.SessionTransitionsTotal.WithLabelValues(prev.String(), next.String()).Inc()
	s.log.Infof("session %s -> %s", prev, next)
}

// evaluate applies the condition-driven transitions until none applies.
func (s *Session) evaluate() {
	for {
		s.mu.Lock()
		foreground, recording := s.foreground, s.recording
		s.mu.Unlock()

		cur := s.state.Get()
		switch {
		case cur == StateStopping:
			s.teardownPlayer()
			s.set(StateInitialized)

		case cur == StateInitialized:
			if !foreground {
				return
			}
			if recording {
				s.set(StateReadyOn)
			} else {
				s.set(StateReadyOff)
			}

		case cur == StateReadyOff:
			if !recording {
				return
			}
			s.set(StateReadyOn)

		case cur.active() && (!foreground || !recording):
			s.set(StateStopping)

		case cur == StateReadyOn:
			s.startPlayer()

		default:
			return
		}
	}
}

func (s *Session) changeDevice(id string) error {
	if s.player != nil {
		s.set(StateStopping)
		s.teardownPlayer()
	}
	s.closeRecorder()
	s.devCancel()

	s.mu.Lock()
	s.deviceID = id
	s.device = nil
	s.lastErr = ""
	s.mu.Unlock()
	s.set(StateNotStarted)

	devCtx, devCancel := context.WithCancel(s.ctx)
	s.devCtx, s.devCancel = devCtx, devCancel

	if err := s.setup(devCtx, id); err != nil {
		s.log.Errorf("set up %s: %v", id, err)
		s.setError(err.Error())
		s.set(StateError)
		return err
	}
	s.set(StateInitialized)
	return nil
}

// setup acquires the player and on/off control for id.
func (s *Session) setup(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	dev, err := s.graph.Device(ctx, id)
	if err != nil {
		return fmt.Errorf("get device %s: %w", id, err)
	}
	if !dev.Capabilities.LiveView {
		return fmt.Errorf("device %s: %w", id, ErrNoLiveView)
	}

	recording := true
	var rec Recorder
	if dev.Capabilities.Recording {
		rec, err = s.newRecorder(ctx, dev)
		if err != nil {
			return fmt.Errorf("create on/off control for %s: %w", id, err)
		}
		recording = rec.Recording()
	}

	p, err := s.newPlayer(dev)
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		return fmt.Errorf("create player for %s: %w", id, err)
	}

	s.mu.Lock()
	s.device = dev
	s.recorder = rec
	s.recording = recording
	s.mu.Unlock()

	if rec != nil {
		s.stopRecorder = s.watchRecorder(rec)
	}
	s.adoptPlayer(p)
	return nil
}

func (s *Session) startPlayer() {
	s.mu.Lock()
	p, dev := s.player, s.device
	s.mu.Unlock()

	if p == nil {
		var err error
		p, err = s.newPlayer(dev)
		if err != nil {
			s.log.Errorf("create player: %v", err)
			s.setError(fmt.Sprintf("could not create player: %v", err))
			s.set(StateError)
			return
		}
		s.adoptPlayer(p)
	}

	if err := p.Start(s.devCtx); err != nil {
		s.log.Errorf("start player: %v", err)
		s.setError(fmt.Sprintf("could not start live view: %v", err))
		s.set(StateError)
		return
	}
	s.set(StateStarting)
}

func (s *Session) adoptPlayer(p LivePlayer) {
	s.mu.Lock()
	s.player = p
	surf := s.surface
	s.mu.Unlock()

	if surf != nil {
		p.Attach(surf)
	}
	s.stopPlayer = s.watchPlayer(p)
}

func (s *Session) teardownPlayer() {
	s.mu.Lock()
	p := s.player
	s.player = nil
	s.mu.Unlock()

	if s.stopPlayer != nil {
		s.stopPlayer()
		s.stopPlayer = nil
	}
	if p != nil {
		p.Dispose()
	}
}

func (s *Session) closeRecorder() {
	s.mu.Lock()
	rec := s.recorder
	s.recorder = nil
	s.mu.Unlock()

	if s.stopRecorder != nil {
		s.stopRecorder()
		s.stopRecorder = nil
	}
	if rec != nil {
		rec.Close()
	}
}

func (s *Session) recordingChanged(rec Recorder, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec != s.recorder {
		return
	}
	s.recording = on
}

// optimisticStop acts on a requested recording stop before the device
// confirms it.
func (s *Session) optimisticStop(rec Recorder) {
	s.mu.Lock()
	if rec != s.recorder {
		s.mu.Unlock()
		return
	}
	s.recording = false
	s.mu.Unlock()

	if s.state.Get().active() {
		s.set(StateStopping)
	}
}

func (s *Session) playerChanged(p LivePlayer, st player.State) {
	s.mu.Lock()
	current := s.player
	s.mu.Unlock()
	if p != current {
		return
	}

	cur := s.state.Get()
	switch st {
	case player.StateStreaming:
		if cur == StateStarting || cur.Streaming() {
			s.set(streamingState(p.IsTalkbackEnabled()))
		}
	case player.StateDisposed:
		if cur != StateError && cur != StateStopping && cur != StateNotStarted {
			s.log.Warn("player disposed unexpectedly")
			s.set(StateStopping)
		}
	}
}

func (s *Session) talkbackChanged(p LivePlayer, enabled bool) {
	s.mu.Lock()
	current := s.player
	s.mu.Unlock()
	if p != current || !s.state.Get().Streaming() {
		return
	}
	s.set(streamingState(enabled))
}

func (s *Session) shutdown() {
	s.teardownPlayer()
	s.closeRecorder()
	s.devCancel()
	s.cancel()
}

func (s *Session) watchPlayer(p LivePlayer) func() {
	states, cancel := p.States()
	go func() {
		for st := range states {
			s.push(trigger{kind: trigPlayerState, player: p, playerState: st})
		}
	}()
	return cancel
}

func (s *Session) watchRecorder(rec Recorder) func() {
	values, cancel := rec.Subscribe()
	go func() {
		for on := range values {
			s.push(trigger{kind: trigRecording, recorder: rec, on: on})
		}
	}()
	return cancel
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

func streamingState(talkback bool) State {
	if talkback {
		return StateStreamingWithTalkback
	}
	return StateStreamingWithoutTalkback
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
