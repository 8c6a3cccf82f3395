package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/bbielsa/camstream/internal/api"
	"github.com/bbielsa/camstream/internal/audio"
	"github.com/bbielsa/camstream/internal/camera"
	"github.com/bbielsa/camstream/internal/config"
	"github.com/bbielsa/camstream/internal/control"
	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/player"
	sigclient "github.com/bbielsa/camstream/internal/signal"
	"github.com/bbielsa/camstream/internal/webrtc"

	"golang.org/x/sync/errgroup"
)

const helpText = `camstream - Stream H264 live view from a camera via WebRTC

Usage:
  camstream [options]

The raw H264 stream is written to stdout. Pipe to ffplay or ffmpeg for
playback or recording. Logs go to stderr as JSON.

Environment Variables (required):
  CAMSTREAM_TOKEN   API access token
  CAMSTREAM_DEVICE  Camera device id

Environment Variables (optional):
  CAMSTREAM_TICKET_URL    Live-view ticket endpoint
  CAMSTREAM_CONTROL_ADDR  Address of the HTTP control server, e.g. :8080
  CAMSTREAM_LOG_LEVEL     trace, debug, info, warn or error
  CAMSTREAM_MIC_PATH      Raw 8 kHz PCMU source for talkback (e.g. a FIFO)
  CAMSTREAM_CONFIG        YAML file with the settings above and timeouts

Examples:
  # Live playback
  camstream | ffplay -f h264 -

  # Record to MP4
  camstream | ffmpeg -f h264 -i - -c copy output.mp4

  # Talk through the camera
  curl -X POST 'localhost:8080/talkback?enabled=true'

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "camstream: %v\n", err)
		os.Exit(1)
	}

	camlog.Configure(camlog.Config{Level: cfg.LogLevel})
	logger := camlog.WithComponent("main")

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("camstream failed")
	}
	logger.Info().Msg("done")
}

func run(cfg *config.Config) error {
	logger := camlog.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Step 1: Fetch ticket
	fetchCtx, fetchCancel := context.WithTimeout(ctx, cfg.Timeouts.Fetch)
	ticket, err := api.NewClient(cfg.TicketURL).FetchTicket(fetchCtx, cfg.Token, cfg.DeviceID)
	fetchCancel()
	if err != nil {
		return fmt.Errorf("get ticket: %w", err)
	}
	logger.Info().Str("ticket", ticket.ID).Str("signal", ticket.SignalServer).Msg("ticket obtained")

	lf := camlog.NewLoggerFactory(camlog.Base())

	// Step 2: Connect to the device graph
	sc := sigclient.NewClient(ticket, sigclient.ClientConfig{LoggerFactory: lf})
	if err := sc.Connect(ctx); err != nil {
		return fmt.Errorf("signal connect: %w", err)
	}
	defer sc.Close()

	// Step 3: Process-wide WebRTC and audio collaborators
	webrtcAPI, err := webrtc.NewAPI(webrtc.APIConfig{LoggerFactory: lf})
	if err != nil {
		return fmt.Errorf("create webrtc api: %w", err)
	}

	mic, err := openMicrophone(cfg.MicPath)
	if err != nil {
		return err
	}
	device := audio.NewDevice(audio.Config{Source: mic, LoggerFactory: lf})
	defer device.Close()

	factory := player.NewFactory(player.FactoryConfig{
		API:             webrtcAPI,
		ICEServers:      ticket.ICEServers,
		Graph:           sc,
		AudioDevice:     device,
		ExtensionBuffer: cfg.Timeouts.ExtensionBuffer,
		DisposeTimeout:  cfg.Timeouts.Dispose,
		LoggerFactory:   lf,
	})

	// Step 4: Camera session rendering to stdout
	session := camera.NewSession(camera.Config{
		Graph: sc,
		NewPlayer: func(dev *domain.Device) (camera.LivePlayer, error) {
			p, err := factory.New(dev)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		FetchTimeout:  cfg.Timeouts.Fetch,
		ToggleTimeout: cfg.Timeouts.Toggle,
		LoggerFactory: lf,
	})
	defer session.Close()

	session.AttachSurface(stdoutSurface{w: os.Stdout})
	if err := session.SetDevice(ctx, cfg.DeviceID); err != nil {
		return fmt.Errorf("set device: %w", err)
	}
	session.SetForeground(true)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		states, stop := session.States()
		defer stop()
		for {
			select {
			case st := <-states:
				logger.Info().Str("state", st.String()).Msg("camera session")
			case <-sc.Done():
				return errors.New("signaling connection lost")
			case <-gctx.Done():
				return nil
			}
		}
	})

	if cfg.ControlAddr != "" {
		g.Go(func() error {
			router := control.NewRouter(session, camlog.WithComponent("control"))
			return control.Serve(gctx, cfg.ControlAddr, router, camlog.WithComponent("control"))
		})
	}

	return g.Wait()
}

func openMicrophone(path string) (io.Reader, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open microphone %s: %w", path, err)
	}
	return f, nil
}

// stdoutSurface renders Annex-B H264 to a pipe.
type stdoutSurface struct {
	w io.Writer
}

func (s stdoutSurface) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s stdoutSurface) Release()                    {}
