// Package signaling implements the live-view signaling channel: the SDP
// offer/answer exchange with a camera, talkback control, and renewal of
// the remote live-view session before it expires.
package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/metrics"

	"github.com/pion/logging"
)

const (
	defaultExtensionBuffer = 5 * time.Second
	defaultCallTimeout     = 5 * time.Second
)

// ResponseKind tells which SDP the remote returned for an offer.
type ResponseKind int

const (
	// ResponseAnswer is the normal device-initiated-offer reply.
	ResponseAnswer ResponseKind = iota
	// ResponseOffer is a remote-initiated renegotiation.
	ResponseOffer
)

func (k ResponseKind) String() string {
	if k == ResponseOffer {
		return "offer"
	}
	return "answer"
}

// Response is a successful reply to SendOffer.
type Response struct {
	Kind ResponseKind
	SDP  string
}

// Scheduler runs f after d and returns a function that cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Transport carries the live-view commands. Required.
	Transport domain.LiveViewTransport

	// ExtensionBuffer is how long before expiry the session is extended.
	// Defaults to 5s.
	ExtensionBuffer time.Duration

	// CallTimeout bounds each extension call. Defaults to 5s.
	CallTimeout time.Duration

	// Schedule defaults to time.AfterFunc.
	Schedule Scheduler

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Channel exchanges SDP and talkback control messages with one camera.
// The session id is written only by SendOffer and the extension timer.
type Channel struct {
	transport   domain.LiveViewTransport
	buffer      time.Duration
	callTimeout time.Duration
	schedule    Scheduler
	log         logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sessionID  string
	stopTimer  func() bool
	generation uint64
	disposed   bool
}

// NewChannel creates a channel with no active session.
func NewChannel(cfg ChannelConfig) *Channel {
	buffer := cfg.ExtensionBuffer
	if buffer <= 0 {
		buffer = defaultExtensionBuffer
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	schedule := cfg.Schedule
	if schedule == nil {
		schedule = afterFunc
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		transport:   cfg.Transport,
		buffer:      buffer,
		callTimeout: callTimeout,
		schedule:    schedule,
		log:         camlog.Scoped(cfg.LoggerFactory, "signaling"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SessionID returns the active media session id, or "".
func (ch *Channel) SessionID() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.sessionID
}

// SendOffer sends the local offer. On success the session id is captured
// and the extension timer armed. Expected failures are returned as
// *NegotiationError; cancellation of ctx is returned as ctx.Err().
func (ch *Channel) SendOffer(ctx context.Context, offerSDP string) (Response, error) {
	ch.mu.Lock()
	if ch.disposed {
		ch.mu.Unlock()
		return Response{}, &NegotiationError{Message: "channel disposed", Err: ErrNoSession}
	}
	// A new cycle may reissue the session id.
	ch.cancelExtensionLocked()
	ch.mu.Unlock()

	res, err := ch.transport.SendOffer(ctx, offerSDP)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		ch.log.Warnf("send offer: %v", err)
		return Response{}, &NegotiationError{Message: err.Error(), Err: err}
	}
	if res.SDP.SDP == "" {
		return Response{}, &NegotiationError{Message: ErrEmptySDP.Error(), Err: ErrEmptySDP}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.disposed {
		return Response{}, &NegotiationError{Message: "channel disposed", Err: ErrNoSession}
	}
	ch.sessionID = res.MediaSessionID
	ch.log.Infof("live-view session %s started, duration %ds", res.MediaSessionID, res.LiveSessionDurationSeconds)
	ch.scheduleExtensionLocked(res.LiveSessionDurationSeconds)

	kind := ResponseAnswer
	if res.SDP.Type == "offer" {
		kind = ResponseOffer
	}
	return Response{Kind: kind, SDP: res.SDP.SDP}, nil
}

// SendAnswer is not part of the device-initiated-offer flow and always
// fails with ErrAnswerUnsupported.
func (ch *Channel) SendAnswer(_ context.Context, _ string) error {
	return &NegotiationError{Message: ErrAnswerUnsupported.Error(), Err: ErrAnswerUnsupported}
}

// ConfigureTalkback starts or stops talkback on the remote end. It needs an
// active session and never contacts the remote without one.
func (ch *Channel) ConfigureTalkback(ctx context.Context, enabled bool) bool {
	sid := ch.SessionID()
	if sid == "" {
		ch.log.Warnf("configure talkback(%t): %v", enabled, ErrNoSession)
		return false
	}

	var err error
	if enabled {
		err = ch.transport.StartTalkback(ctx, sid)
	} else {
		err = ch.transport.StopTalkback(ctx, sid)
	}
	if err != nil {
		ch.log.Warnf("configure talkback(%t) on %s: %v", enabled, sid, err)
		return false
	}
	return true
}

// Dispose cancels the extension timer and stops the active session, best
// effort. It never fails and is safe to call more than once.
func (ch *Channel) Dispose(ctx context.Context) {
	ch.mu.Lock()
	if ch.disposed {
		ch.mu.Unlock()
		return
	}
	ch.disposed = true
	ch.cancelExtensionLocked()
	sid := ch.sessionID
	ch.sessionID = ""
	ch.mu.Unlock()

	ch.cancel()

	if sid == "" {
		return
	}
	if err := ch.transport.StopLiveView(ctx, sid); err != nil {
		ch.log.Warnf("stop live-view session %s: %v", sid, err)
		return
	}
	ch.log.Infof("live-view session %s stopped", sid)
}

func (ch *Channel) cancelExtensionLocked() {
	ch.generation++
	if ch.stopTimer != nil {
		ch.stopTimer()
		ch.stopTimer = nil
	}
}

func (ch *Channel) scheduleExtensionLocked(durationSeconds int) {
	ch.cancelExtensionLocked()

	delay := time.Duration(durationSeconds)*time.Second - ch.buffer
	if delay <= 0 {
		ch.log.Warnf("session duration %ds too short to extend", durationSeconds)
		metrics.LiveViewExtensionsTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}

	gen := ch.generation
	ch.stopTimer = ch.schedule(delay, func() { ch.extend(gen) })
	ch.log.Debugf("extension scheduled in %s", delay)
}

func (ch *Channel) extend(gen uint64) {
	ch.mu.Lock()
	if gen != ch.generation || ch.disposed || ch.sessionID == "" {
		ch.mu.Unlock()
		return
	}
	sid := ch.sessionID
	ch.mu.Unlock()

	ctx, cancel := context.WithTimeout(ch.ctx, ch.callTimeout)
	res, err := ch.transport.ExtendLiveView(ctx, sid)
	cancel()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if gen != ch.generation || ch.disposed {
		return
	}
	ch.stopTimer = nil

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			ch.log.Warnf("extend live-view session %s: %v", sid, err)
		}
		metrics.LiveViewExtensionsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return
	}
	metrics.LiveViewExtensionsTotal.WithLabelValues(metrics.ResultOK).Inc()

	if res.MediaSessionID != "" {
		ch.sessionID = res.MediaSessionID
	}
	ch.scheduleExtensionLocked(res.LiveSessionDurationSeconds)
}
