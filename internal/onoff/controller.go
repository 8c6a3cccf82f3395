// Package onoff tracks a camera's recording switch and toggles it.
package onoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/observable"

	"github.com/pion/logging"
)

const (
	// AttributeRecording is the recording flag of the RecordingToggle trait.
	AttributeRecording = "recording"
	// CommandSetRecording turns recording on or off.
	CommandSetRecording = "SetRecording"

	defaultToggleTimeout = 10 * time.Second
)

// ErrTimeout is returned when the requested state is not observed in time.
// The command may still land later.
var ErrTimeout = errors.New("recording state not confirmed in time")

// Config configures a Controller.
type Config struct {
	Graph    domain.DeviceGraph
	DeviceID string

	// ToggleTimeout bounds SetRecording. Defaults to 10s.
	ToggleTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

type setRecordingParams struct {
	Recording bool `json:"recording"`
}

// Controller mirrors the device's recording attribute.
type Controller struct {
	graph    domain.DeviceGraph
	deviceID string
	timeout  time.Duration
	log      logging.LeveledLogger

	recording   *observable.Value[bool]
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

// New subscribes to the recording attribute and reads its current value.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	timeout := cfg.ToggleTimeout
	if timeout <= 0 {
		timeout = defaultToggleTimeout
	}

	c := &Controller{
		graph:    cfg.Graph,
		deviceID: cfg.DeviceID,
		timeout:  timeout,
		log:      camlog.Scoped(cfg.LoggerFactory, "onoff"),
		done:     make(chan struct{}),
	}

	reports, unsubscribe := cfg.Graph.SubscribeAttribute(cfg.DeviceID, domain.TraitRecording, AttributeRecording)

	raw, err := cfg.Graph.ReadAttribute(ctx, cfg.DeviceID, domain.TraitRecording, AttributeRecording)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("read recording state of %s: %w", cfg.DeviceID, err)
	}
	var on bool
	if err := json.Unmarshal(raw, &on); err != nil {
		unsubscribe()
		return nil, fmt.Errorf("decode recording state of %s: %w", cfg.DeviceID, err)
	}

	c.recording = observable.NewValue(on)
	c.unsubscribe = unsubscribe
	go c.watch(reports)

	return c, nil
}

// Recording returns the last observed recording state.
func (c *Controller) Recording() bool {
	return c.recording.Get()
}

// Subscribe delivers the recording state and its changes.
func (c *Controller) Subscribe() (<-chan bool, func()) {
	return c.recording.Subscribe()
}

// SetRecording asks the device to change state and waits until the change
// is observed or the toggle timeout passes.
func (c *Controller) SetRecording(ctx context.Context, on bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	states, unsubscribe := c.recording.Subscribe()
	defer unsubscribe()

	if _, err := c.graph.InvokeCommand(ctx, c.deviceID, domain.TraitRecording, CommandSetRecording, setRecordingParams{Recording: on}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("set recording of %s: %w", c.deviceID, err)
	}

	for {
		select {
		case v, ok := <-states:
			if !ok {
				return ErrTimeout
			}
			if v == on {
				return nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		}
	}
}

// Close stops observing the device.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		<-c.done
	})
}

func (c *Controller) watch(reports <-chan domain.AttributeReport) {
	defer close(c.done)

	for r := range reports {
		var on bool
		if err := json.Unmarshal(r.Value, &on); err != nil {
			c.log.Warnf("decode recording report for %s: %v", c.deviceID, err)
			continue
		}
		if c.recording.Set(on) {
			c.log.Infof("device %s recording=%t", c.deviceID, on)
		}
	}
}
