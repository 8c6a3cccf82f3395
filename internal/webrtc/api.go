package webrtc

import (
	"fmt"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
)

// APIConfig configures the process-wide peer-connection factory.
type APIConfig struct {
	// LoggerFactory is handed to pion's SettingEngine.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory

	// DisableMDNS turns off mDNS candidate handling.
	DisableMDNS bool
}

// NewAPI builds the peer-connection factory: H264 video, PCMU audio and
// NACK handling. It is created once per process and shared by every peer.
func NewAPI(cfg APIConfig) (*pion.API, error) {
	m := &pion.MediaEngine{}

	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	if err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: PCMUCapability,
		PayloadType:        0,
	}, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	s := pion.SettingEngine{}
	if cfg.LoggerFactory != nil {
		s.LoggerFactory = cfg.LoggerFactory
	}
	if cfg.DisableMDNS {
		s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

// PCMUCapability is the audio codec used in both directions.
var PCMUCapability = pion.RTPCodecCapability{
	MimeType:  pion.MimeTypePCMU,
	ClockRate: 8000,
	Channels:  1,
}
