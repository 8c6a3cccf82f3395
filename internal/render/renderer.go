// Package render binds a remote H264 track to a caller-supplied surface.
package render

import (
	"sync"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/webrtc"

	"github.com/pion/logging"
	"github.com/pion/rtp"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Config configures a Renderer.
type Config struct {
	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Renderer writes Annex-B H264 to at most one attached surface. Frames
// arriving while no surface is attached are dropped.
type Renderer struct {
	log logging.LeveledLogger

	mu      sync.Mutex
	surface domain.Surface
	depack  *webrtc.H264Depacketizer
	frames  uint64
}

// New creates a renderer with no surface attached.
func New(cfg Config) *Renderer {
	return &Renderer{
		log:    camlog.Scoped(cfg.LoggerFactory, "render"),
		depack: webrtc.NewH264Depacketizer(),
	}
}

// Attach binds s, releasing any previously attached surface.
func (r *Renderer) Attach(s domain.Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.surface == s {
		return
	}
	if r.surface != nil {
		r.surface.Release()
	}
	r.surface = s
	// Partial fragments belong to the previous surface.
	r.depack.Reset()
	r.log.Debug("surface attached")
}

// Detach releases the attached surface. Once it returns no further frames
// are written until the next Attach. Safe to call repeatedly.
func (r *Renderer) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.surface == nil {
		return
	}
	r.surface.Release()
	r.surface = nil
	r.log.Debug("surface detached")
}

// Attached reports whether a surface is bound.
func (r *Renderer) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surface != nil
}

// Frames returns the number of NAL units written so far.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Render depacketizes one RTP packet onto the attached surface.
func (r *Renderer) Render(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.surface == nil {
		return
	}

	for _, nalu := range r.depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
		if len(nalu) == 0 {
			continue
		}
		buf := make([]byte, 0, len(startCode)+len(nalu))
		buf = append(buf, startCode...)
		buf = append(buf, nalu...)
		if _, err := r.surface.Write(buf); err != nil {
			r.log.Warnf("write to surface: %v", err)
			return
		}
		r.frames++
	}
}

// Run reads track until it ends, rendering every packet.
func (r *Renderer) Run(track webrtc.RemoteTrack) {
	r.log.Infof("reading H264 video track %s", track.ID())

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.log.Debugf("video track %s ended: %v", track.ID(), err)
			return
		}
		r.Render(pkt)
	}
}
