// Package audio is the local audio device module. It captures 8 kHz PCMU
// from a byte source, or produces silence, in 20ms frames.
package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"

	"github.com/pion/logging"
)

const (
	// FrameDuration is the capture period.
	FrameDuration = 20 * time.Millisecond
	// FrameSize is one PCMU frame at 8 kHz.
	FrameSize = 160

	// pcmuSilence is mu-law zero.
	pcmuSilence = 0xFF
)

// ErrClosed is returned by ReadSample after Close.
var ErrClosed = errors.New("audio device closed")

// Config configures a Device.
type Config struct {
	// Source supplies raw PCMU. If nil the device captures silence. If it
	// is an io.Closer it is closed with the device.
	Source io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Device implements domain.AudioDevice.
type Device struct {
	log    logging.LeveledLogger
	source io.Reader
	muted  atomic.Bool

	ticker *time.Ticker
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

var _ domain.AudioDevice = (*Device)(nil)

// NewDevice starts capturing from cfg.Source.
func NewDevice(cfg Config) *Device {
	d := &Device{
		log:    camlog.Scoped(cfg.LoggerFactory, "audio"),
		source: cfg.Source,
		ticker: time.NewTicker(FrameDuration),
		done:   make(chan struct{}),
	}
	if cfg.Source != nil {
		d.frames = make(chan []byte, 50)
		go d.capture()
	}
	return d
}

// SetMicrophoneMute gates capture. A muted device yields silence.
func (d *Device) SetMicrophoneMute(muted bool) {
	if d.muted.Swap(muted) != muted {
		d.log.Debugf("microphone muted=%t", muted)
	}
}

// MicrophoneMuted reports the mute state.
func (d *Device) MicrophoneMuted() bool {
	return d.muted.Load()
}

// ReadSample waits for the next frame period and returns one frame.
func (d *Device) ReadSample(ctx context.Context) (domain.Sample, error) {
	select {
	case <-ctx.Done():
		return domain.Sample{}, ctx.Err()
	case <-d.done:
		return domain.Sample{}, ErrClosed
	case <-d.ticker.C:
	}

	var frame []byte
	select {
	case f, ok := <-d.frames:
		if ok {
			frame = f
		}
	default:
	}
	if frame == nil || d.muted.Load() {
		frame = silence()
	}
	return domain.Sample{Data: frame, Duration: FrameDuration}, nil
}

// Close stops capture.
func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		d.ticker.Stop()
		if c, ok := d.source.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (d *Device) capture() {
	defer close(d.frames)

	for {
		buf := make([]byte, FrameSize)
		if _, err := io.ReadFull(d.source, buf); err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.Warnf("capture: %v", err)
			}
			return
		}
		select {
		case d.frames <- buf:
		case <-d.done:
			return
		}
	}
}

func silence() []byte {
	b := make([]byte, FrameSize)
	for i := range b {
		b[i] = pcmuSilence
	}
	return b
}
