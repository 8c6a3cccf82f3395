package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bbielsa/camstream/internal/domain"
)

// Live-view trait commands.
const (
	cmdGenerateStream = "GenerateWebRtcStream"
	cmdExtendStream   = "ExtendWebRtcStream"
	cmdStopStream     = "StopWebRtcStream"
	cmdStartTalkback  = "StartTalkback"
	cmdStopTalkback   = "StopTalkback"
)

type generateParams struct {
	OfferSDP string `json:"offerSdp"`
}

type generateResult struct {
	AnswerSDP                  string `json:"answerSdp"`
	OfferSDP                   string `json:"offerSdp"`
	MediaSessionID             string `json:"mediaSessionId"`
	LiveSessionDurationSeconds int    `json:"liveSessionDurationSeconds"`
}

type sessionParams struct {
	MediaSessionID string `json:"mediaSessionId"`
}

// TraitTransport implements domain.LiveViewTransport by invoking the
// camera's live-view and talkback trait commands through the device graph.
type TraitTransport struct {
	graph    domain.DeviceGraph
	deviceID string
}

// NewTraitTransport binds the live-view commands to one device.
func NewTraitTransport(graph domain.DeviceGraph, deviceID string) *TraitTransport {
	return &TraitTransport{graph: graph, deviceID: deviceID}
}

// SendOffer implements domain.LiveViewTransport.
func (t *TraitTransport) SendOffer(ctx context.Context, offerSDP string) (*domain.OfferResult, error) {
	raw, err := t.graph.InvokeCommand(ctx, t.deviceID, domain.TraitLiveView, cmdGenerateStream, generateParams{OfferSDP: offerSDP})
	if err != nil {
		return nil, err
	}
	var res generateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unmarshal %s result: %w", cmdGenerateStream, err)
	}

	out := &domain.OfferResult{
		MediaSessionID:             res.MediaSessionID,
		LiveSessionDurationSeconds: res.LiveSessionDurationSeconds,
	}
	switch {
	case res.AnswerSDP != "":
		out.SDP = domain.SDPPayload{Type: "answer", SDP: res.AnswerSDP}
	case res.OfferSDP != "":
		out.SDP = domain.SDPPayload{Type: "offer", SDP: res.OfferSDP}
	}
	return out, nil
}

// ExtendLiveView implements domain.LiveViewTransport.
func (t *TraitTransport) ExtendLiveView(ctx context.Context, sessionID string) (*domain.ExtendResult, error) {
	raw, err := t.graph.InvokeCommand(ctx, t.deviceID, domain.TraitLiveView, cmdExtendStream, sessionParams{MediaSessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var res domain.ExtendResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unmarshal %s result: %w", cmdExtendStream, err)
	}
	return &res, nil
}

// StopLiveView implements domain.LiveViewTransport.
func (t *TraitTransport) StopLiveView(ctx context.Context, sessionID string) error {
	_, err := t.graph.InvokeCommand(ctx, t.deviceID, domain.TraitLiveView, cmdStopStream, sessionParams{MediaSessionID: sessionID})
	return err
}

// StartTalkback implements domain.LiveViewTransport.
func (t *TraitTransport) StartTalkback(ctx context.Context, sessionID string) error {
	_, err := t.graph.InvokeCommand(ctx, t.deviceID, domain.TraitTalkback, cmdStartTalkback, sessionParams{MediaSessionID: sessionID})
	return err
}

// StopTalkback implements domain.LiveViewTransport.
func (t *TraitTransport) StopTalkback(ctx context.Context, sessionID string) error {
	_, err := t.graph.InvokeCommand(ctx, t.deviceID, domain.TraitTalkback, cmdStopTalkback, sessionParams{MediaSessionID: sessionID})
	return err
}
