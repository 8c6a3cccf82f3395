package talkback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bbielsa/camstream/internal/domain"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockConfigurer struct {
	mu    sync.Mutex
	ok    bool
	calls []bool
}

func (m *mockConfigurer) ConfigureTalkback(_ context.Context, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, enabled)
	return m.ok
}

func (m *mockConfigurer) callLog() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.calls...)
}

type mockDevice struct {
	mu    sync.Mutex
	muted bool
}

func (d *mockDevice) SetMicrophoneMute(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = muted
}

func (d *mockDevice) MicrophoneMuted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

func (d *mockDevice) ReadSample(ctx context.Context) (domain.Sample, error) {
	select {
	case <-ctx.Done():
		return domain.Sample{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return domain.Sample{Data: make([]byte, 160), Duration: 20 * time.Millisecond}, nil
	}
}

type mockAdder struct {
	tracks []pion.TrackLocal
	err    error
}

func (a *mockAdder) AddTrack(track pion.TrackLocal) (*pion.RTPSender, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.tracks = append(a.tracks, track)
	return nil, nil
}

func newController(ok bool) (*Controller, *mockConfigurer, *mockDevice) {
	sig := &mockConfigurer{ok: ok}
	dev := &mockDevice{}
	return New(Config{Signaling: sig, Device: dev}), sig, dev
}

func TestInitialize_AddsMutedTrack(t *testing.T) {
	c, _, dev := newController(true)
	defer c.Dispose(context.Background())

	pc := &mockAdder{}
	require.NoError(t, c.Initialize(pc))

	require.Len(t, pc.tracks, 1)
	assert.Equal(t, pion.RTPCodecTypeAudio, pc.tracks[0].Kind())
	assert.True(t, dev.MicrophoneMuted())
	assert.False(t, c.IsTalkbackEnabled())

	assert.ErrorIs(t, c.Initialize(pc), ErrInitialized)
}

func TestInitialize_AddTrackFails(t *testing.T) {
	c, _, _ := newController(true)
	defer c.Dispose(context.Background())

	err := c.Initialize(&mockAdder{err: errors.New("closed")})
	require.Error(t, err)
}

func TestToggleTalkback_Enable(t *testing.T) {
	c, sig, dev := newController(true)
	defer c.Dispose(context.Background())
	require.NoError(t, c.Initialize(&mockAdder{}))

	assert.True(t, c.ToggleTalkback(context.Background(), true))
	assert.True(t, c.IsTalkbackEnabled())
	assert.False(t, dev.MicrophoneMuted())
	assert.Equal(t, []bool{true}, sig.callLog())

	assert.True(t, c.ToggleTalkback(context.Background(), false))
	assert.False(t, c.IsTalkbackEnabled())
	assert.True(t, dev.MicrophoneMuted())
}

func TestToggleTalkback_RemoteRefusalKeepsMicMuted(t *testing.T) {
	c, sig, dev := newController(false)
	defer c.Dispose(context.Background())
	require.NoError(t, c.Initialize(&mockAdder{}))

	assert.False(t, c.ToggleTalkback(context.Background(), true))
	assert.False(t, c.IsTalkbackEnabled())
	assert.True(t, dev.MicrophoneMuted())
	assert.Equal(t, []bool{true}, sig.callLog())
}

func TestToggleTalkback_BeforeInitialize(t *testing.T) {
	c, sig, _ := newController(true)
	defer c.Dispose(context.Background())

	assert.False(t, c.ToggleTalkback(context.Background(), true))
	assert.Empty(t, sig.callLog())
}

func TestToggleTalkback_SameStateSkipsRemote(t *testing.T) {
	c, sig, _ := newController(true)
	defer c.Dispose(context.Background())
	require.NoError(t, c.Initialize(&mockAdder{}))

	assert.True(t, c.ToggleTalkback(context.Background(), false))
	assert.Empty(t, sig.callLog())
}

func TestSubscribe_SeesChanges(t *testing.T) {
	c, _, _ := newController(true)
	defer c.Dispose(context.Background())
	require.NoError(t, c.Initialize(&mockAdder{}))

	ch, cancel := c.Subscribe()
	defer cancel()
	assert.False(t, <-ch)

	c.ToggleTalkback(context.Background(), true)
	select {
	case v := <-ch:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no talkback change delivered")
	}
}

func TestDispose_DisablesFirst(t *testing.T) {
	c, sig, dev := newController(true)
	require.NoError(t, c.Initialize(&mockAdder{}))
	require.True(t, c.ToggleTalkback(context.Background(), true))

	c.Dispose(context.Background())
	c.Dispose(context.Background())

	assert.Equal(t, []bool{true, false}, sig.callLog())
	assert.False(t, c.IsTalkbackEnabled())
	assert.True(t, dev.MicrophoneMuted())
	assert.ErrorIs(t, c.Initialize(&mockAdder{}), ErrDisposed)
}

func TestDispose_SwallowsRemoteFailure(t *testing.T) {
	c, sig, _ := newController(true)
	require.NoError(t, c.Initialize(&mockAdder{}))
	require.True(t, c.ToggleTalkback(context.Background(), true))

	sig.mu.Lock()
	sig.ok = false
	sig.mu.Unlock()

	c.Dispose(context.Background())
	assert.False(t, c.IsTalkbackEnabled())
}
