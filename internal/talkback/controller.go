// Package talkback manages the outbound microphone track and keeps it in
// step with the camera's server-side talkback state.
package talkback

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/metrics"
	"github.com/bbielsa/camstream/internal/observable"
	"github.com/bbielsa/camstream/internal/webrtc"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	// ErrInitialized is returned by a second Initialize.
	ErrInitialized = errors.New("talkback already initialized")
	// ErrDisposed is returned by Initialize after Dispose.
	ErrDisposed = errors.New("talkback disposed")
)

// Configurer asks the camera to start or stop talkback.
// *signaling.Channel implements it.
type Configurer interface {
	ConfigureTalkback(ctx context.Context, enabled bool) bool
}

// TrackAdder is the part of a peer connection the controller needs.
type TrackAdder interface {
	AddTrack(track pion.TrackLocal) (*pion.RTPSender, error)
}

// Config configures a Controller.
type Config struct {
	Signaling Configurer
	Device    domain.AudioDevice

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Controller owns the local talkback track. The track is attached to the
// peer connection at Initialize but stays silent until talkback is enabled.
type Controller struct {
	signaling Configurer
	device    domain.AudioDevice
	log       logging.LeveledLogger

	enabled *observable.Value[bool]
	live    atomic.Bool

	mu       sync.Mutex
	track    *pion.TrackLocalStaticSample
	sender   *pion.RTPSender
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	disposed bool
}

// New creates a controller. Nothing is allocated until Initialize.
func New(cfg Config) *Controller {
	return &Controller{
		signaling: cfg.Signaling,
		device:    cfg.Device,
		log:       camlog.Scoped(cfg.LoggerFactory, "talkback"),
		enabled:   observable.NewValue(false),
	}
}

// Initialize creates the local audio track, adds it to pc disabled and
// mutes the microphone.
func (c *Controller) Initialize(pc TrackAdder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}
	if c.track != nil {
		return ErrInitialized
	}

	track, err := pion.NewTrackLocalStaticSample(webrtc.PCMUCapability, "audio", "talkback")
	if err != nil {
		return err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return err
	}

	c.device.SetMicrophoneMute(true)
	c.live.Store(false)
	c.track = track
	c.sender = sender

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.pump(ctx, track)

	if sender != nil {
		c.wg.Add(1)
		go c.drainRTCP(sender)
	}

	c.log.Debug("talkback track attached")
	return nil
}

// ToggleTalkback turns talkback on or off. The camera is asked first; the
// local track and microphone follow only if it agreed.
func (c *Controller) ToggleTalkback(ctx context.Context, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	label := strconv.FormatBool(enabled)
	if c.track == nil || c.disposed {
		c.log.Warnf("toggle talkback(%t): not initialized", enabled)
		metrics.TalkbackTogglesTotal.WithLabelValues(label, metrics.ResultSkipped).Inc()
		return false
	}
	if c.enabled.Get() == enabled {
		return true
	}

	if !c.signaling.ConfigureTalkback(ctx, enabled) {
		metrics.TalkbackTogglesTotal.WithLabelValues(label, metrics.ResultFailed).Inc()
		return false
	}

	c.apply(enabled)
	metrics.TalkbackTogglesTotal.WithLabelValues(label, metrics.ResultOK).Inc()
	c.log.Infof("talkback enabled=%t", enabled)
	return true
}

// IsTalkbackEnabled reports the current talkback state.
func (c *Controller) IsTalkbackEnabled() bool {
	return c.enabled.Get()
}

// Subscribe delivers the talkback state and its changes.
func (c *Controller) Subscribe() (<-chan bool, func()) {
	return c.enabled.Subscribe()
}

// Dispose disables talkback if needed, best effort, and releases the track.
func (c *Controller) Dispose(ctx context.Context) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true

	if c.enabled.Get() && !c.signaling.ConfigureTalkback(ctx, false) {
		c.log.Warn("disable talkback on dispose failed")
	}
	c.apply(false)

	cancel, sender := c.cancel, c.sender
	c.track, c.sender, c.cancel = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sender != nil {
		if err := sender.Stop(); err != nil {
			c.log.Debugf("stop talkback sender: %v", err)
		}
	}
	c.wg.Wait()
}

func (c *Controller) apply(enabled bool) {
	c.live.Store(enabled)
	c.device.SetMicrophoneMute(!enabled)
	c.enabled.Set(enabled)
}

func (c *Controller) pump(ctx context.Context, track *pion.TrackLocalStaticSample) {
	defer c.wg.Done()

	for {
		s, err := c.device.ReadSample(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warnf("read microphone: %v", err)
			}
			return
		}
		if !c.live.Load() {
			continue
		}
		if err := track.WriteSample(media.Sample{Data: s.Data, Duration: s.Duration}); err != nil {
			c.log.Debugf("write talkback sample: %v", err)
		}
	}
}

func (c *Controller) drainRTCP(sender *pion.RTPSender) {
	defer c.wg.Done()

	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
