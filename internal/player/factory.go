package player

import (
	"fmt"
	"io"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	"github.com/bbielsa/camstream/internal/signaling"
	"github.com/bbielsa/camstream/internal/talkback"
	"github.com/bbielsa/camstream/internal/webrtc"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
)

// FactoryConfig holds the process-wide collaborators shared by every
// player.
type FactoryConfig struct {
	// API is the shared pion API from webrtc.NewAPI. Required.
	API        *pion.API
	ICEServers []domain.ICEServer

	// Graph carries the live-view trait commands. Required.
	Graph domain.DeviceGraph

	// AudioDevice feeds talkback. Talkback is disabled when nil.
	AudioDevice domain.AudioDevice
	AudioSink   io.Writer

	ExtensionBuffer time.Duration
	DisposeTimeout  time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Factory builds players wired to real peer connections.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory creates a Factory.
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{cfg: cfg}
}

// New builds a READY player for dev. A talkback controller is created only
// when the device advertises talkback.
func (f *Factory) New(dev *domain.Device) (*Player, error) {
	peer, err := webrtc.NewPeer(webrtc.PeerConfig{
		API:           f.cfg.API,
		ICEServers:    f.cfg.ICEServers,
		LoggerFactory: f.cfg.LoggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("create player for %s: %w", dev.ID, err)
	}

	channel := signaling.NewChannel(signaling.ChannelConfig{
		Transport:       signaling.NewTraitTransport(f.cfg.Graph, dev.ID),
		ExtensionBuffer: f.cfg.ExtensionBuffer,
		LoggerFactory:   f.cfg.LoggerFactory,
	})

	var tb Talkback
	if dev.Capabilities.Talkback && f.cfg.AudioDevice != nil {
		tb = talkback.New(talkback.Config{
			Signaling:     channel,
			Device:        f.cfg.AudioDevice,
			LoggerFactory: f.cfg.LoggerFactory,
		})
	}

	return New(Config{
		DeviceID:       dev.ID,
		Peer:           peer,
		Channel:        channel,
		Talkback:       tb,
		AudioSink:      f.cfg.AudioSink,
		DisposeTimeout: f.cfg.DisposeTimeout,
		LoggerFactory:  f.cfg.LoggerFactory,
	}), nil
}
