// Package metrics provides Prometheus metrics for the camstream live-view core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No device or session ids in labels.

var (
	// SessionTransitionsTotal counts camera session state transitions.
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camstream_session_transitions_total",
		Help: "Total number of camera session state transitions, by from and to state.",
	}, []string{"from", "to"})

	// NegotiationsTotal counts offer/answer negotiation attempts by outcome.
	NegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camstream_negotiations_total",
		Help: "Total number of WebRTC negotiation attempts, by result.",
	}, []string{"result"})

	// LiveViewExtensionsTotal counts live-view session extension calls by outcome.
	LiveViewExtensionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camstream_liveview_extensions_total",
		Help: "Total number of live-view session extensions, by result.",
	}, []string{"result"})

	// TalkbackTogglesTotal counts talkback toggle requests.
	TalkbackTogglesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camstream_talkback_toggles_total",
		Help: "Total number of talkback toggle requests, by requested state and result.",
	}, []string{"enabled", "result"})
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)
