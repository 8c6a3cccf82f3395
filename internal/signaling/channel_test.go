package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bbielsa/camstream/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockTransport records calls and returns canned results.
type mockTransport struct {
	mu sync.Mutex

	offerResult *domain.OfferResult
	offerErr    error
	extendRes   []*domain.ExtendResult
	extendErr   error
	stopErr     error
	talkbackErr error

	offers        []string
	extends       []string
	stops         []string
	talkbackCalls []bool
}

func (m *mockTransport) SendOffer(ctx context.Context, sdp string) (*domain.OfferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, sdp)
	return m.offerResult, m.offerErr
}

func (m *mockTransport) ExtendLiveView(ctx context.Context, sid string) (*domain.ExtendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extends = append(m.extends, sid)
	if m.extendErr != nil {
		return nil, m.extendErr
	}
	res := m.extendRes[0]
	if len(m.extendRes) > 1 {
		m.extendRes = m.extendRes[1:]
	}
	return res, nil
}

func (m *mockTransport) StopLiveView(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, sid)
	return m.stopErr
}

func (m *mockTransport) StartTalkback(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.talkbackCalls = append(m.talkbackCalls, true)
	return m.talkbackErr
}

func (m *mockTransport) StopTalkback(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.talkbackCalls = append(m.talkbackCalls, false)
	return m.talkbackErr
}

// manualScheduler captures scheduled tasks instead of running them.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (s *manualScheduler) schedule(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &manualTask{delay: d, f: f}
	s.tasks = append(s.tasks, task)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		was := !task.stopped
		task.stopped = true
		return was
	}
}

func (s *manualScheduler) last() *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[len(s.tasks)-1]
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func newChannel(tr *mockTransport, s *manualScheduler) *Channel {
	return NewChannel(ChannelConfig{Transport: tr, Schedule: s.schedule})
}

func answer(sid string, duration int) *domain.OfferResult {
	return &domain.OfferResult{
		SDP:                        domain.SDPPayload{Type: "answer", SDP: "v=0\r\nanswer"},
		MediaSessionID:             sid,
		LiveSessionDurationSeconds: duration,
	}
}

func TestSendOffer_AnswerSchedulesExtension(t *testing.T) {
	tr := &mockTransport{offerResult: answer("s1", 300)}
	s := &manualScheduler{}
	ch := newChannel(tr, s)
	defer ch.Dispose(context.Background())

	resp, err := ch.SendOffer(context.Background(), "v=0\r\noffer")
	require.NoError(t, err)
	assert.Equal(t, ResponseAnswer, resp.Kind)
	assert.Equal(t, "v=0\r\nanswer", resp.SDP)
	assert.Equal(t, "s1", ch.SessionID())

	require.Equal(t, 1, s.count())
	assert.Equal(t, 295*time.Second, s.last().delay)
}

func TestSendOffer_ShortDurationSkipsExtension(t *testing.T) {
	for _, d := range []int{0, 1, 5} {
		tr := &mockTransport{offerResult: answer("s1", d)}
		s := &manualScheduler{}
		ch := newChannel(tr, s)

		_, err := ch.SendOffer(context.Background(), "offer")
		require.NoError(t, err)
		assert.Equal(t, 0, s.count(), "duration %d", d)
		ch.Dispose(context.Background())
	}
}

func TestSendOffer_RemoteOffer(t *testing.T) {
	tr := &mockTransport{offerResult: &domain.OfferResult{
		SDP:            domain.SDPPayload{Type: "offer", SDP: "v=0\r\nremote-offer"},
		MediaSessionID: "s1",
	}}
	ch := newChannel(tr, &manualScheduler{})
	defer ch.Dispose(context.Background())

	resp, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)
	assert.Equal(t, ResponseOffer, resp.Kind)
}

func TestSendOffer_RejectionIsNegotiationError(t *testing.T) {
	tr := &mockTransport{offerErr: errors.New("device busy")}
	ch := newChannel(tr, &manualScheduler{})
	defer ch.Dispose(context.Background())

	_, err := ch.SendOffer(context.Background(), "offer")
	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	assert.Contains(t, negErr.Message, "device busy")
	assert.Empty(t, ch.SessionID())
}

func TestSendOffer_CancellationPropagates(t *testing.T) {
	tr := &mockTransport{offerErr: errors.New("transport: context canceled")}
	ch := newChannel(tr, &manualScheduler{})
	defer ch.Dispose(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ch.SendOffer(ctx, "offer")
	assert.ErrorIs(t, err, context.Canceled)

	var negErr *NegotiationError
	assert.False(t, errors.As(err, &negErr))
}

func TestSendOffer_EmptySDP(t *testing.T) {
	tr := &mockTransport{offerResult: &domain.OfferResult{MediaSessionID: "s1"}}
	ch := newChannel(tr, &manualScheduler{})
	defer ch.Dispose(context.Background())

	_, err := ch.SendOffer(context.Background(), "offer")
	assert.ErrorIs(t, err, ErrEmptySDP)
}

func TestSendAnswer_AlwaysFails(t *testing.T) {
	tr := &mockTransport{offerResult: answer("s1", 60)}
	ch := newChannel(tr, &manualScheduler{})
	defer ch.Dispose(context.Background())

	for _, sdp := range []string{"", "v=0\r\nanswer", "garbage"} {
		assert.ErrorIs(t, ch.SendAnswer(context.Background(), sdp), ErrAnswerUnsupported)
	}

	_, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)
	assert.ErrorIs(t, ch.SendAnswer(context.Background(), "v=0"), ErrAnswerUnsupported)
}

func TestExtension_ReschedulesWithNewDuration(t *testing.T) {
	tr := &mockTransport{
		offerResult: answer("s1", 60),
		extendRes:   []*domain.ExtendResult{{MediaSessionID: "s2", LiveSessionDurationSeconds: 120}},
	}
	s := &manualScheduler{}
	ch := newChannel(tr, s)
	defer ch.Dispose(context.Background())

	_, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)
	require.Equal(t, 55*time.Second, s.last().delay)

	s.last().f()

	assert.Equal(t, []string{"s1"}, tr.extends)
	assert.Equal(t, "s2", ch.SessionID())
	require.Equal(t, 2, s.count())
	assert.Equal(t, 115*time.Second, s.last().delay)
}

func TestExtension_FailureStopsRescheduling(t *testing.T) {
	tr := &mockTransport{offerResult: answer("s1", 60), extendErr: errors.New("expired")}
	s := &manualScheduler{}
	ch := newChannel(tr, s)
	defer ch.Dispose(context.Background())

	_, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)

	s.last().f()

	assert.Equal(t, 1, s.count())
	assert.Equal(t, "s1", ch.SessionID(), "active stream is not torn down")
}

func TestExtension_NewOfferCancelsPriorTimer(t *testing.T) {
	tr := &mockTransport{offerResult: answer("s1", 60), extendRes: []*domain.ExtendResult{{LiveSessionDurationSeconds: 60}}}
	s := &manualScheduler{}
	ch := newChannel(tr, s)
	defer ch.Dispose(context.Background())

	_, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)
	first := s.last()

	_, err = ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)
	assert.True(t, first.stopped)

	// A stale firing must not extend.
	first.f()
	assert.Empty(t, tr.extends)
}

func TestExtension_RealTimerFires(t *testing.T) {
	tr := &mockTransport{
		offerResult: answer("s1", 1),
		extendRes:   []*domain.ExtendResult{{LiveSessionDurationSeconds: 1}},
	}
	ch := NewChannel(ChannelConfig{Transport: tr, ExtensionBuffer: 900 * time.Millisecond})

	_, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.extends) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	ch.Dispose(context.Background())
}

func TestConfigureTalkback_RequiresSession(t *testing.T) {
	tr := &mockTransport{offerResult: answer("s1", 60)}
	ch := newChannel(tr, &manualScheduler{})
	defer ch.Dispose(context.Background())

	assert.False(t, ch.ConfigureTalkback(context.Background(), true))
	assert.Empty(t, tr.talkbackCalls)

	_, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)
	assert.True(t, ch.ConfigureTalkback(context.Background(), true))
	assert.True(t, ch.ConfigureTalkback(context.Background(), false))
	assert.Equal(t, []bool{true, false}, tr.talkbackCalls)

	tr.talkbackErr = errors.New("nope")
	assert.False(t, ch.ConfigureTalkback(context.Background(), true))
}

func TestDispose_StopsSessionOnceAndSwallowsErrors(t *testing.T) {
	tr := &mockTransport{offerResult: answer("s1", 60), stopErr: errors.New("unreachable")}
	s := &manualScheduler{}
	ch := newChannel(tr, s)

	_, err := ch.SendOffer(context.Background(), "offer")
	require.NoError(t, err)

	ch.Dispose(context.Background())
	ch.Dispose(context.Background())

	assert.Equal(t, []string{"s1"}, tr.stops)
	assert.True(t, s.last().stopped)
	assert.Empty(t, ch.SessionID())
	assert.False(t, ch.ConfigureTalkback(context.Background(), true))
}

func TestDispose_WithoutSessionDoesNotCallRemote(t *testing.T) {
	tr := &mockTransport{}
	ch := newChannel(tr, &manualScheduler{})
	ch.Dispose(context.Background())
	assert.Empty(t, tr.stops)
}
