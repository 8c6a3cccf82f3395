package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bbielsa/camstream/internal/camera"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSession struct {
	mu         sync.Mutex
	status     camera.Status
	toggleOK   bool
	talkback   []bool
	recording  []bool
	foreground []bool
}

func (m *mockSession) Status() camera.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockSession) SetForeground(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.foreground = append(m.foreground, on)
	m.status.Foreground = on
}

func (m *mockSession) ToggleRecording(_ context.Context, on bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recording = append(m.recording, on)
	return m.toggleOK
}

func (m *mockSession) ToggleTalkback(_ context.Context, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.talkback = append(m.talkback, enabled)
	return m.toggleOK
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestStatus(t *testing.T) {
	s := &mockSession{status: camera.Status{DeviceID: "cam-1", State: camera.StateStreamingWithoutTalkback.String()}}
	h := NewRouter(s, zerolog.Nop())

	rec := do(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st camera.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "cam-1", st.DeviceID)
	assert.Equal(t, "STREAMING_WITHOUT_TALKBACK", st.State)
}

func TestTalkbackToggle(t *testing.T) {
	s := &mockSession{toggleOK: true}
	h := NewRouter(s, zerolog.Nop())

	rec := do(t, h, http.MethodPost, "/talkback?enabled=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{true}, s.talkback)

	s.toggleOK = false
	rec = do(t, h, http.MethodPost, "/talkback?enabled=false")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp toggleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
}

func TestRecordingToggle(t *testing.T) {
	s := &mockSession{toggleOK: true}
	h := NewRouter(s, zerolog.Nop())

	rec := do(t, h, http.MethodPost, "/recording?enabled=false")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{false}, s.recording)
}

func TestForeground(t *testing.T) {
	s := &mockSession{}
	h := NewRouter(s, zerolog.Nop())

	rec := do(t, h, http.MethodPost, "/foreground?enabled=1")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []bool{true}, s.foreground)
}

func TestBadEnabled(t *testing.T) {
	s := &mockSession{}
	h := NewRouter(s, zerolog.Nop())

	rec := do(t, h, http.MethodPost, "/talkback?enabled=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.talkback)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewRouter(&mockSession{}, zerolog.Nop())

	rec := do(t, h, http.MethodGet, "/talkback?enabled=true")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics(t *testing.T) {
	h := NewRouter(&mockSession{}, zerolog.Nop())

	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
