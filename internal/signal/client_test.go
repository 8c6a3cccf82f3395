package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bbielsa/camstream/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub is a minimal signaling server. handle returns the response for a
// request, or nil to stay silent.
type fakeHub struct {
	t      *testing.T
	srv    *httptest.Server
	handle func(msg message) *message

	mu   sync.Mutex
	conn *websocket.Conn
	seen []message
}

func newFakeHub(t *testing.T, handle func(msg message) *message) *fakeHub {
	h := &fakeHub{t: t, handle: handle}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			h.mu.Lock()
			h.seen = append(h.seen, msg)
			h.mu.Unlock()

			var resp *message
			if msg.Method == "AUTH" {
				code := 0
				if msg.AccessToken != "tok" {
					code = 401
				}
				resp = &message{Method: "AUTH_RESPONSE", Code: &code}
			} else if h.handle != nil {
				resp = h.handle(msg)
			}
			if resp != nil {
				h.write(*resp)
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) write(msg message) {
	data, _ := json.Marshal(msg)
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *fakeHub) methods() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.seen {
		out = append(out, m.Method)
	}
	return out
}

func (h *fakeHub) ticket(token string) *domain.Ticket {
	return &domain.Ticket{
		ID:           "t1",
		SignalServer: "ws" + strings.TrimPrefix(h.srv.URL, "http"),
		AccessToken:  token,
	}
}

func ok(id string, result string) *message {
	code := 0
	return &message{Method: "RESPONSE", ID: id, Code: &code, Result: json.RawMessage(result)}
}

func connect(t *testing.T, h *fakeHub) *Client {
	c := NewClient(h.ticket("tok"), ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)
	return c
}

func TestConnect_AuthRejected(t *testing.T) {
	h := newFakeHub(t, nil)
	c := NewClient(h.ticket("bad"), ClientConfig{})

	err := c.Connect(context.Background())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 401, remote.Code)
}

func TestDevice_DecodesResult(t *testing.T) {
	h := newFakeHub(t, func(msg message) *message {
		if msg.Method == "GET_DEVICE" && msg.DeviceID == "cam-1" {
			return ok(msg.ID, `{"id":"cam-1","name":"Porch","online":true,"capabilities":{"liveView":true,"talkback":true}}`)
		}
		return nil
	})
	c := connect(t, h)

	dev, err := c.Device(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, "Porch", dev.Name)
	assert.True(t, dev.Capabilities.LiveView)
	assert.True(t, dev.Capabilities.Talkback)
	assert.False(t, dev.Capabilities.Recording)
}

func TestInvokeCommand_RemoteError(t *testing.T) {
	h := newFakeHub(t, func(msg message) *message {
		code := 9
		return &message{Method: "RESPONSE", ID: msg.ID, Code: &code, Message: "busy"}
	})
	c := connect(t, h)

	_, err := c.InvokeCommand(context.Background(), "cam-1", domain.TraitLiveView, "GenerateWebRtcStream", map[string]string{"offerSdp": "v=0"})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "busy", remote.Message)
}

func TestInvokeCommand_ContextTimeout(t *testing.T) {
	h := newFakeHub(t, func(msg message) *message { return nil })
	c := connect(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.InvokeCommand(ctx, "cam-1", "T", "C", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestInvokeCommand_AfterClose(t *testing.T) {
	h := newFakeHub(t, nil)
	c := connect(t, h)
	c.Close()
	c.Close()

	_, err := c.InvokeCommand(context.Background(), "cam-1", "T", "C", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeAttribute_FansOutReports(t *testing.T) {
	h := newFakeHub(t, nil)
	c := connect(t, h)

	ch1, cancel1 := c.SubscribeAttribute("cam-1", domain.TraitRecording, "recording")
	ch2, cancel2 := c.SubscribeAttribute("cam-1", domain.TraitRecording, "recording")
	defer cancel2()

	require.Eventually(t, func() bool {
		for _, m := range h.methods() {
			if m == "SUBSCRIBE" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	h.write(message{Method: "ATTRIBUTE_REPORT", DeviceID: "cam-1", Trait: domain.TraitRecording, Attribute: "recording", Result: json.RawMessage(`true`)})

	for _, ch := range []<-chan domain.AttributeReport{ch1, ch2} {
		select {
		case r := <-ch:
			assert.JSONEq(t, `true`, string(r.Value))
		case <-time.After(time.Second):
			t.Fatal("no report")
		}
	}

	cancel1()
	_, open := <-ch1
	assert.False(t, open)
}
