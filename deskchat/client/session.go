package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"deskchat/deskchat/types"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SessionState int

const (
	SessionInitializing SessionState = iota
	SessionActive
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionInitializing:
		return "initializing"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

type SessionEventKind string

const (
	EventMessageAppended   SessionEventKind = "message_appended"
	EventConnectionChanged SessionEventKind = "connection_changed"
	EventParticipantJoined SessionEventKind = "participant_joined"
	EventChatClosed        SessionEventKind = "chat_closed"
	EventServerError       SessionEventKind = "server_error"
	EventSessionClosed     SessionEventKind = "session_closed"
)

type SessionEvent struct {
	Kind        SessionEventKind
	Message     *types.Message
	Participant *types.Participant
	State       ConnState
	Err         error
}

// ChannelFactory returns a fresh, unopened channel for every (re)join.
type ChannelFactory func() Channel

// ChatSession merges a history fetch and a live channel into one ordered
// timeline: history first, then live messages in delivery order, deduplicated
// by seq. A session is opened once; Close is terminal.
type ChatSession struct {
	chatID      string
	participant types.Participant
	history     HistorySource
	newChannel  ChannelFactory
	reconnect   *ReconnectPolicy
	logger      *zap.Logger

	life context.Context
	stop context.CancelFunc

	mu           sync.Mutex
	state        SessionState
	opened       bool
	chat         types.Chat
	timeline     []types.Message
	lastSeq      int64
	channel      Channel
	pending      Channel
	conn         ConnState
	events       chan SessionEvent
	eventsClosed bool

	closeOnce sync.Once
}

func NewChatSession(chatID string, participant types.Participant, history HistorySource, newChannel ChannelFactory, opts ...Option) *ChatSession {
	o := buildOptions(opts)
	life, stop := context.WithCancel(context.Background())
	return &ChatSession{
		chatID:      chatID,
		participant: participant,
		history:     history,
		newChannel:  newChannel,
		reconnect:   o.reconnect,
		logger:      o.logger.With(zap.String("chat_id", chatID), zap.String("participant", participant.ID)),
		life:        life,
		stop:        stop,
		state:       SessionInitializing,
		conn:        ConnConnecting,
		events:      make(chan SessionEvent, o.eventBuffer),
	}
}

// Open loads history and joins the live channel concurrently. The session is
// Active only when both succeed; any failure closes it. Results that land
// after Close are discarded.
func (s *ChatSession) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return errors.Wrap(ErrSessionClosed, "open")
	}
	if s.opened {
		s.mu.Unlock()
		return errors.New("session already opened")
	}
	s.opened = true
	// Close tears down the channel while it is still joining.
	ch := s.newChannel()
	s.pending = ch
	s.mu.Unlock()

	initCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(s.life, cancel)
	defer unhook()

	var hist History
	g, gctx := errgroup.WithContext(initCtx)
	g.Go(func() error {
		h, err := s.history.Load(gctx, s.chatID)
		if err != nil {
			return errors.Wrap(err, "load history")
		}
		hist = h
		return nil
	})
	g.Go(func() error {
		return errors.Wrap(ch.Open(gctx), "open live channel")
	})
	err := g.Wait()

	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return errors.Wrap(ErrSessionClosed, "open")
	}
	if err != nil {
		s.mu.Unlock()
		s.Close()
		s.logger.Warn("session open failed", zap.Error(err))
		return err
	}
	s.pending = nil
	s.chat = hist.Chat
	s.timeline = append([]types.Message(nil), hist.Messages...)
	for _, m := range hist.Messages {
		if m.Seq > s.lastSeq {
			s.lastSeq = m.Seq
		}
	}
	s.channel = ch
	s.state = SessionActive
	s.conn = ConnJoined
	s.emitLocked(SessionEvent{Kind: EventConnectionChanged, State: ConnJoined})
	s.mu.Unlock()

	// started only after seeding so no live message precedes history
	go s.run(ch)
	return nil
}

// run applies ch's frames one at a time in delivery order, so a message
// sent before chat_closed is on the timeline before the session closes.
func (s *ChatSession) run(ch Channel) {
	for {
		if !s.consume(ch) {
			return
		}
		next, ok := s.onDisconnect(ch)
		if !ok {
			return
		}
		ch = next
	}
}

// consume reports true when ch's stream ended while the session is alive.
func (s *ChatSession) consume(ch Channel) bool {
	inbound := ch.Inbound()
	for {
		select {
		case <-s.life.Done():
			return false
		case ev, ok := <-inbound:
			if !ok {
				return s.life.Err() == nil
			}
			s.handleEvent(ev)
		}
	}
}

func (s *ChatSession) deliver(msg types.Message) {
	s.mu.Lock()
	gap := s.state == SessionActive && msg.Seq > s.lastSeq+1
	s.mu.Unlock()
	if gap {
		// history was fetched before some earlier message reached the room
		if err := s.catchUp(s.life); err != nil {
			s.logger.Warn("catch up failed", zap.Error(err))
		}
	}
	s.apply(msg)
}

// apply appends one live message. Only an Active session mutates its
// timeline, and a seq at or below the last applied one is a duplicate.
func (s *ChatSession) apply(msg types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive || msg.ChatID != s.chatID {
		return false
	}
	if msg.Seq > 0 && msg.Seq <= s.lastSeq {
		return false
	}
	s.appendLocked(msg)
	return true
}

func (s *ChatSession) appendLocked(msg types.Message) {
	s.timeline = append(s.timeline, msg)
	if msg.Seq > s.lastSeq {
		s.lastSeq = msg.Seq
	}
	m := msg
	s.emitLocked(SessionEvent{Kind: EventMessageAppended, Message: &m})
}

// catchUp re-fetches history and appends what the timeline is missing.
func (s *ChatSession) catchUp(ctx context.Context) error {
	h, err := s.history.Load(ctx, s.chatID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return errors.Wrap(ErrSessionClosed, "catch up")
	}
	s.chat = h.Chat
	for _, m := range h.Messages {
		if m.Seq > s.lastSeq {
			s.appendLocked(m)
		}
	}
	return nil
}

func (s *ChatSession) handleEvent(ev ChannelEvent) {
	switch ev.Kind {
	case ChannelMessage:
		s.deliver(ev.Message)
	case ChannelUserJoined:
		s.mu.Lock()
		p := ev.Participant
		s.emitLocked(SessionEvent{Kind: EventParticipantJoined, Participant: &p})
		s.mu.Unlock()
	case ChannelChatClosed:
		s.mu.Lock()
		s.chat.Status = types.StatusClosed
		if s.chat.ClosedAt == nil {
			now := time.Now().UTC()
			s.chat.ClosedAt = &now
		}
		s.emitLocked(SessionEvent{Kind: EventChatClosed})
		s.mu.Unlock()
		s.Close()
	case ChannelError:
		s.mu.Lock()
		s.emitLocked(SessionEvent{Kind: EventServerError, Err: ev.Err})
		s.mu.Unlock()
	}
}

// onDisconnect runs when ch's streams end while the session is alive. It
// reconnects when a policy is set; otherwise the session stays Active but
// degraded.
func (s *ChatSession) onDisconnect(ch Channel) (Channel, bool) {
	s.mu.Lock()
	if s.state != SessionActive || s.channel != ch {
		s.mu.Unlock()
		return nil, false
	}
	s.conn = ConnDisconnected
	s.emitLocked(SessionEvent{Kind: EventConnectionChanged, State: ConnDisconnected, Err: ch.Err()})
	policy := s.reconnect
	s.mu.Unlock()

	if policy == nil {
		s.logger.Warn("live channel lost; session degraded")
		return nil, false
	}
	next, err := s.reconnectWith(*policy)
	if err != nil {
		s.logger.Warn("reconnect gave up", zap.Error(err))
		s.mu.Lock()
		s.emitLocked(SessionEvent{Kind: EventConnectionChanged, State: ConnDisconnected, Err: err})
		s.mu.Unlock()
		return nil, false
	}
	return next, true
}

func (s *ChatSession) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	state, conn, ch := s.state, s.conn, s.channel
	s.mu.Unlock()
	switch state {
	case SessionClosed:
		return errors.Wrap(ErrSessionClosed, "send")
	case SessionInitializing:
		return errors.Wrap(errNotOpen, "send")
	}
	if strings.TrimSpace(content) == "" {
		return errors.Wrap(ErrValidation, "empty message")
	}
	if conn == ConnDisconnected {
		return errors.Wrap(ErrDisconnected, "send")
	}
	return ch.Send(ctx, content)
}

// CloseChat asks the server to close the chat; the session closes when the
// chat_closed event comes back.
func (s *ChatSession) CloseChat(ctx context.Context) error {
	s.mu.Lock()
	state, conn, ch := s.state, s.conn, s.channel
	s.mu.Unlock()
	if state != SessionActive {
		return errors.Wrap(ErrSessionClosed, "close chat")
	}
	if conn == ConnDisconnected {
		return errors.Wrap(ErrDisconnected, "close chat")
	}
	return ch.CloseChat(ctx)
}

// Close is idempotent. Any live channel, including one still joining, is
// closed before Close returns.
func (s *ChatSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = SessionClosed
		s.conn = ConnClosed
		ch, pending := s.channel, s.pending
		s.pending = nil
		s.mu.Unlock()

		s.stop()
		if pending != nil {
			pending.Close()
		}
		if ch != nil {
			ch.Close()
		}

		s.mu.Lock()
		s.channel = nil
		s.emitLocked(SessionEvent{Kind: EventSessionClosed, State: ConnClosed})
		s.eventsClosed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}

func (s *ChatSession) emitLocked(ev SessionEvent) {
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("session event dropped", zap.String("kind", string(ev.Kind)))
	}
}

// Timeline returns a copy of the messages applied so far.
func (s *ChatSession) Timeline() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.timeline...)
}

func (s *ChatSession) Chat() types.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

func (s *ChatSession) ChatID() string {
	return s.chatID
}

func (s *ChatSession) Participant() types.Participant {
	return s.participant
}

func (s *ChatSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ChatSession) Connection() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *ChatSession) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Events is closed after the session closes.
func (s *ChatSession) Events() <-chan SessionEvent {
	return s.events
}

// track records ch as the channel being joined so Close can tear it down. It
// reports false once the session is closed.
func (s *ChatSession) track(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed {
		return false
	}
	s.pending = ch
	return true
}

// untrack reports whether ch was still pending, in which case the caller
// owns closing it.
func (s *ChatSession) untrack(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != ch {
		return false
	}
	s.pending = nil
	return true
}
