package domain

// Trait names used by the camera core.
const (
	TraitLiveView  = "CameraLiveView"
	TraitRecording = "RecordingToggle"
	TraitTalkback  = "Talkback"
)

// Device is a camera-capable node of the device graph.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Online       bool         `json:"online"`
	Capabilities Capabilities `json:"capabilities"`
}

// Capabilities are explicit feature flags. A missing capability means the
// matching controller is never constructed.
type Capabilities struct {
	LiveView  bool `json:"liveView"`
	Talkback  bool `json:"talkback"`
	Recording bool `json:"recording"`
}
