package domain

// Ticket holds signaling credentials and ICE server configuration returned by the API.
type Ticket struct {
	ID                 string      `json:"id"`
	TraceID            string      `json:"traceId"`
	ICEServers         []ICEServer `json:"iceServer"`
	SignalServer       string      `json:"signalServer"`
	WebsocketPath      string      `json:"websocketPath"`
	AccessToken        string      `json:"accessToken"`
	SignalPingInterval int         `json:"signalPingInterval"`
	ExpirationTime     int64       `json:"expirationTime"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}
