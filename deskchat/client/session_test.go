package client

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deskchat/deskchat/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeHistory serves scripted loads. When release is set, Load waits for it
// and ignores ctx, standing in for a response that lands late.
type fakeHistory struct {
	mu      sync.Mutex
	loads   []History
	err     error
	calls   int
	release chan struct{}
}

func (f *fakeHistory) Load(ctx context.Context, chatID string) (History, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return History{}, f.err
	}
	h := f.loads[0]
	if len(f.loads) > 1 {
		f.loads = f.loads[1:]
	}
	return h, nil
}

type fakeChannel struct {
	openErr error
	inbound *unboundedQueue[ChannelEvent]

	mu         sync.Mutex
	state      ConnState
	sent       []string
	closeChats int
	closes     int32
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound: newUnboundedQueue[ChannelEvent](),
		state:   ConnConnecting,
	}
}

func (f *fakeChannel) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		f.state = ConnDisconnected
		return f.openErr
	}
	f.state = ConnJoined
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeChannel) CloseChat(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeChats++
	return nil
}

func (f *fakeChannel) Inbound() <-chan ChannelEvent { return f.inbound.output() }

func (f *fakeChannel) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Err() error {
	if f.State() == ConnDisconnected {
		return ErrDisconnected
	}
	return nil
}

func (f *fakeChannel) Close() error {
	atomic.AddInt32(&f.closes, 1)
	f.mu.Lock()
	f.state = ConnClosed
	f.mu.Unlock()
	f.inbound.stop()
	return nil
}

func (f *fakeChannel) deliver(msgs ...types.Message) {
	for _, m := range msgs {
		f.inbound.push(ChannelEvent{Kind: ChannelMessage, ChatID: m.ChatID, Message: m})
	}
}

func (f *fakeChannel) event(ev ChannelEvent) {
	f.inbound.push(ev)
}

// drop simulates the server going away.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.state = ConnDisconnected
	f.mu.Unlock()
	f.inbound.closeInput()
}

func (f *fakeChannel) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func msg(seq int64, content string) types.Message {
	return types.Message{
		ID:         "m" + content,
		ChatID:     "c1",
		Seq:        seq,
		SenderType: types.SenderCustomer,
		SenderID:   "c1",
		Content:    content,
	}
}

func contents(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

var customer = types.Participant{Type: types.SenderCustomer, ID: "c1"}

func newTestSession(h HistorySource, channels ...*fakeChannel) *ChatSession {
	var i int32 = -1
	factory := func() Channel {
		n := atomic.AddInt32(&i, 1)
		return channels[n]
	}
	return NewChatSession("c1", customer, h, factory, WithLogger(zap.NewNop()))
}

func waitTimeline(t *testing.T, s *ChatSession, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Join(contents(s.Timeline()), ",") == strings.Join(want, ",")
	}, 2*time.Second, 5*time.Millisecond, "timeline %v", contents(s.Timeline()))
}

func TestSession_HistoryThenLiveInOrder(t *testing.T) {
	h := &fakeHistory{loads: []History{{
		Chat:     types.Chat{ID: "c1", Status: types.StatusActive},
		Messages: []types.Message{msg(1, "a"), msg(2, "b")},
	}}}
	ch := newFakeChannel()
	// queued before the session starts consuming
	ch.deliver(msg(3, "c"))

	s := newTestSession(h, ch)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, SessionActive, s.State())
	require.Equal(t, ConnJoined, s.Connection())

	ch.deliver(msg(2, "b-dup"), msg(4, "d"))
	waitTimeline(t, s, "a", "b", "c", "d")
	require.Equal(t, int64(4), s.LastSeq())
	require.Equal(t, types.StatusActive, s.Chat().Status)
}

func TestSession_OpenFailureCloses(t *testing.T) {
	t.Run("channel", func(t *testing.T) {
		h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1"}}}}
		ch := newFakeChannel()
		ch.openErr = errors.Wrap(ErrUnauthorized, "join")
		s := newTestSession(h, ch)

		err := s.Open(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Equal(t, SessionClosed, s.State())
		require.Empty(t, s.Timeline())
		require.EqualValues(t, 1, atomic.LoadInt32(&ch.closes))
		require.ErrorIs(t, s.Send(context.Background(), "hi"), ErrSessionClosed)
	})
	t.Run("history", func(t *testing.T) {
		h := &fakeHistory{err: errors.Wrap(ErrNotFound, "get chat")}
		ch := newFakeChannel()
		s := newTestSession(h, ch)

		err := s.Open(context.Background())
		require.ErrorIs(t, err, ErrNotFound)
		require.Equal(t, SessionClosed, s.State())
		require.EqualValues(t, 1, atomic.LoadInt32(&ch.closes))
	})
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1"}}}}
	ch := newFakeChannel()
	s := newTestSession(h, ch)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, SessionClosed, s.State())
	require.Equal(t, ConnClosed, s.Connection())
	require.EqualValues(t, 1, atomic.LoadInt32(&ch.closes))

	// events stream ends with session_closed
	var last SessionEvent
	for ev := range s.Events() {
		last = ev
	}
	require.Equal(t, EventSessionClosed, last.Kind)

	require.ErrorIs(t, s.Open(context.Background()), ErrSessionClosed)
}

func TestSession_LateResultsAfterCloseAreDiscarded(t *testing.T) {
	h := &fakeHistory{
		loads:   []History{{Chat: types.Chat{ID: "c1"}, Messages: []types.Message{msg(1, "late")}}},
		release: make(chan struct{}),
	}
	ch := newFakeChannel()
	s := newTestSession(h, ch)

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background()) }()

	require.Eventually(t, func() bool { return ch.State() == ConnJoined }, time.Second, time.Millisecond)
	require.NoError(t, s.Close())
	// the joining channel is torn down by Close itself, not by Open resuming
	require.EqualValues(t, 1, atomic.LoadInt32(&ch.closes))
	require.Equal(t, ConnClosed, ch.State())
	close(h.release)

	err := <-done
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Empty(t, s.Timeline())
	require.Equal(t, SessionClosed, s.State())
	require.EqualValues(t, 1, atomic.LoadInt32(&ch.closes))

	ch.deliver(msg(2, "after"))
	require.Empty(t, s.Timeline())
}

func TestSession_EmptySendNeverReachesChannel(t *testing.T) {
	h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1"}}}}
	ch := newFakeChannel()
	s := newTestSession(h, ch)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))

	for _, content := range []string{"", "   ", "\n\t"} {
		require.ErrorIs(t, s.Send(context.Background(), content), ErrValidation)
	}
	require.Empty(t, ch.sentMessages())

	require.NoError(t, s.Send(context.Background(), "hi"))
	require.Equal(t, []string{"hi"}, ch.sentMessages())
	// sending does not append; only the echo does
	require.Empty(t, s.Timeline())
}

func TestSession_SendBeforeOpen(t *testing.T) {
	s := newTestSession(&fakeHistory{}, newFakeChannel())
	defer s.Close()
	require.ErrorIs(t, s.Send(context.Background(), "hi"), errNotOpen)
}

func TestSession_ChatClosedEventClosesSession(t *testing.T) {
	h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1", Status: types.StatusActive}}}}
	ch := newFakeChannel()
	s := newTestSession(h, ch)
	require.NoError(t, s.Open(context.Background()))

	ch.event(ChannelEvent{Kind: ChannelChatClosed, ChatID: "c1", CloserID: "a1"})
	require.Eventually(t, func() bool { return s.State() == SessionClosed }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, types.StatusClosed, s.Chat().Status)
	require.NotNil(t, s.Chat().ClosedAt)

	var kinds []SessionEventKind
	for ev := range s.Events() {
		kinds = append(kinds, ev.Kind)
	}
	require.Contains(t, kinds, EventChatClosed)
}

func TestSession_MessageBeforeChatClosedIsKept(t *testing.T) {
	for i := 0; i < 200; i++ {
		h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1", Status: types.StatusActive}}}}
		ch := newFakeChannel()
		ch.deliver(msg(1, "last words"))
		ch.event(ChannelEvent{Kind: ChannelChatClosed, ChatID: "c1", CloserID: "a1"})

		s := newTestSession(h, ch)
		require.NoError(t, s.Open(context.Background()))
		require.Eventually(t, func() bool { return s.State() == SessionClosed }, 2*time.Second, time.Millisecond)
		require.Equal(t, []string{"last words"}, contents(s.Timeline()), "run %d", i)

		var kinds []SessionEventKind
		for ev := range s.Events() {
			kinds = append(kinds, ev.Kind)
		}
		require.Equal(t, []SessionEventKind{
			EventConnectionChanged, EventMessageAppended, EventChatClosed, EventSessionClosed,
		}, kinds)
	}
}

func TestSession_FramesApplyInDeliveryOrder(t *testing.T) {
	h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1"}}}}
	ch := newFakeChannel()
	ch.deliver(msg(1, "a"))
	ch.event(ChannelEvent{Kind: ChannelUserJoined, ChatID: "c1", Participant: types.Participant{Type: types.SenderAgent, ID: "a1"}})
	ch.deliver(msg(2, "b"))

	s := newTestSession(h, ch)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))
	waitTimeline(t, s, "a", "b")

	var kinds []SessionEventKind
	for len(kinds) < 4 {
		ev := <-s.Events()
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []SessionEventKind{
		EventConnectionChanged, EventMessageAppended, EventParticipantJoined, EventMessageAppended,
	}, kinds)
}

func TestSession_DisconnectWithoutPolicyDegrades(t *testing.T) {
	h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1"}, Messages: []types.Message{msg(1, "a")}}}}
	ch := newFakeChannel()
	s := newTestSession(h, ch)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))

	ch.drop()
	require.Eventually(t, func() bool { return s.Connection() == ConnDisconnected }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, SessionActive, s.State())
	require.ErrorIs(t, s.Send(context.Background(), "hi"), ErrDisconnected)
	require.Equal(t, []string{"a"}, contents(s.Timeline()))
}

func TestSession_ReconnectResyncsBySeq(t *testing.T) {
	h := &fakeHistory{loads: []History{
		{Chat: types.Chat{ID: "c1"}, Messages: []types.Message{msg(1, "a")}},
		{Chat: types.Chat{ID: "c1"}, Messages: []types.Message{msg(1, "a"), msg(2, "b"), msg(3, "c")}},
	}}
	first, second := newFakeChannel(), newFakeChannel()
	// the new channel already carries a message also present in history
	second.deliver(msg(3, "c"), msg(4, "d"))

	s := NewChatSession("c1", customer, h, sequence(first, second),
		WithLogger(zap.NewNop()),
		WithReconnect(ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxRetries: 3}),
	)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))

	first.drop()
	waitTimeline(t, s, "a", "b", "c", "d")
	require.Equal(t, ConnJoined, s.Connection())
	require.EqualValues(t, 1, atomic.LoadInt32(&first.closes))

	require.NoError(t, s.Send(context.Background(), "again"))
	require.Equal(t, []string{"again"}, second.sentMessages())
}

func TestSession_ReconnectGivesUpOnUnauthorized(t *testing.T) {
	h := &fakeHistory{loads: []History{{Chat: types.Chat{ID: "c1"}}}}
	first, second := newFakeChannel(), newFakeChannel()
	second.openErr = errors.Wrap(ErrUnauthorized, "join")

	s := NewChatSession("c1", customer, h, sequence(first, second),
		WithLogger(zap.NewNop()),
		WithReconnect(ReconnectPolicy{InitialInterval: time.Millisecond, MaxRetries: 5}),
	)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))

	first.drop()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&second.closes) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, ConnDisconnected, s.Connection())
	require.Equal(t, SessionActive, s.State())
}

func TestSession_GapTriggersCatchUp(t *testing.T) {
	h := &fakeHistory{loads: []History{
		{Chat: types.Chat{ID: "c1"}, Messages: []types.Message{msg(1, "a")}},
		{Chat: types.Chat{ID: "c1"}, Messages: []types.Message{msg(1, "a"), msg(2, "b"), msg(3, "c")}},
	}}
	ch := newFakeChannel()
	s := newTestSession(h, ch)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))

	ch.deliver(msg(3, "c"))
	waitTimeline(t, s, "a", "b", "c")
}

func sequence(channels ...*fakeChannel) ChannelFactory {
	var i int32 = -1
	return func() Channel {
		return channels[atomic.AddInt32(&i, 1)]
	}
}
