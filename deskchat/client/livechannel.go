package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"deskchat/deskchat/types"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnJoined       ConnState = "joined"
	ConnClosed       ConnState = "closed"
	ConnDisconnected ConnState = "disconnected"
)

type ChannelEventKind string

const (
	ChannelMessage    ChannelEventKind = "receive_message"
	ChannelUserJoined ChannelEventKind = "user_joined"
	ChannelChatClosed ChannelEventKind = "chat_closed"
	ChannelError      ChannelEventKind = "error"
)

// ChannelEvent is one inbound frame from the room. Message is set only for
// ChannelMessage.
type ChannelEvent struct {
	Kind        ChannelEventKind
	ChatID      string
	Message     types.Message
	Participant types.Participant
	CloserID    string
	Err         error
}

// Channel is the live half of a session. LiveChannel is the websocket
// implementation. Inbound carries messages and room events in the order the
// server sent them and closes when the connection ends.
type Channel interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, content string) error
	CloseChat(ctx context.Context) error
	Inbound() <-chan ChannelEvent
	State() ConnState
	Err() error
	Close() error
}

const leaveTimeout = time.Second

// LiveChannel is one websocket joined to one chat room. It is opened at most
// once and never reused.
type LiveChannel struct {
	url         string
	chatID      string
	participant types.Participant
	auth        *AuthContext
	http        *http.Client
	logger      *zap.Logger

	inbound *unboundedQueue[ChannelEvent]

	mu     sync.Mutex
	state  ConnState
	err    error
	opened bool
	conn   *websocket.Conn
	cancel context.CancelFunc

	closeOnce sync.Once
}

var _ Channel = (*LiveChannel)(nil)

// NewLiveChannel prepares a channel; nothing is dialed until Open. Close must
// be called to release it.
func NewLiveChannel(url, chatID string, participant types.Participant, auth *AuthContext, opts ...Option) *LiveChannel {
	o := buildOptions(opts)
	return &LiveChannel{
		url:         url,
		chatID:      chatID,
		participant: participant,
		auth:        auth,
		http:        o.httpClient,
		logger:      o.logger.With(zap.String("chat_id", chatID)),
		inbound:     newUnboundedQueue[ChannelEvent](),
		state:       ConnConnecting,
	}
}

// Open dials, sends join and waits for the server's ack. Messages that
// arrive between the ack and the first read of Inbound are queued.
func (lc *LiveChannel) Open(ctx context.Context) error {
	lc.mu.Lock()
	if lc.state == ConnClosed {
		lc.mu.Unlock()
		return errors.Wrap(ErrChannelClosed, "open")
	}
	if lc.opened {
		lc.mu.Unlock()
		return errors.New("live channel already opened")
	}
	lc.opened = true
	lc.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, lc.url, &websocket.DialOptions{HTTPClient: lc.http})
	if err != nil {
		lc.fail()
		return errors.Wrapf(ErrDisconnected, "dial %s: %v", lc.url, err)
	}
	conn.SetReadLimit(1 << 20)

	pending, err := lc.join(ctx, conn)
	if err != nil {
		conn.CloseNow()
		lc.fail()
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	lc.mu.Lock()
	if lc.state == ConnClosed {
		lc.mu.Unlock()
		cancel()
		conn.CloseNow()
		return errors.Wrap(ErrChannelClosed, "open")
	}
	lc.conn = conn
	lc.cancel = cancel
	lc.state = ConnJoined
	lc.mu.Unlock()

	for _, m := range pending {
		lc.inbound.push(ChannelEvent{Kind: ChannelMessage, ChatID: m.ChatID, Message: m})
	}
	lc.logger.Debug("live channel joined")
	go lc.readLoop(readCtx, conn)
	return nil
}

func (lc *LiveChannel) join(ctx context.Context, conn *websocket.Conn) ([]types.Message, error) {
	frame, err := types.NewEnvelope(types.EventJoin, types.JoinPayload{
		ChatID:   lc.chatID,
		UserID:   lc.participant.ID,
		UserType: lc.participant.Type,
		Token:    lc.auth.Token(),
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, errors.Wrapf(ErrDisconnected, "send join: %v", err)
	}
	var pending []types.Message
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, errors.Wrapf(ErrDisconnected, "await join ack: %v", err)
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Event {
		case types.EventJoined:
			var p types.JoinedPayload
			if json.Unmarshal(env.Data, &p) == nil && p.ChatID == lc.chatID {
				return pending, nil
			}
		case types.EventError:
			var p types.ErrorPayload
			_ = json.Unmarshal(env.Data, &p)
			return nil, errors.Wrap(codeError(p.Code), "join: "+p.Message)
		case types.EventReceiveMessage:
			var m types.Message
			if json.Unmarshal(env.Data, &m) == nil && m.ChatID == lc.chatID {
				pending = append(pending, m)
			}
		}
	}
}

func (lc *LiveChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer lc.inbound.closeInput()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			lc.mu.Lock()
			if lc.state != ConnClosed {
				lc.state = ConnDisconnected
				lc.err = ErrDisconnected
				lc.logger.Warn("live channel dropped", zap.Error(err))
			}
			lc.mu.Unlock()
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			lc.logger.Warn("bad frame on live channel", zap.Error(err))
			continue
		}
		switch env.Event {
		case types.EventReceiveMessage:
			var m types.Message
			if err := json.Unmarshal(env.Data, &m); err != nil || m.ChatID != lc.chatID {
				continue
			}
			if !lc.inbound.push(ChannelEvent{Kind: ChannelMessage, ChatID: m.ChatID, Message: m}) {
				return
			}
		case types.EventUserJoined:
			var p types.UserJoinedPayload
			if json.Unmarshal(env.Data, &p) != nil {
				continue
			}
			lc.inbound.push(ChannelEvent{
				Kind:        ChannelUserJoined,
				ChatID:      p.ChatID,
				Participant: types.Participant{Type: p.UserType, ID: p.UserID},
			})
		case types.EventChatClosed:
			var p types.ChatClosedPayload
			if json.Unmarshal(env.Data, &p) != nil || p.ChatID != lc.chatID {
				continue
			}
			lc.inbound.push(ChannelEvent{Kind: ChannelChatClosed, ChatID: p.ChatID, CloserID: p.CloserID})
		case types.EventError:
			var p types.ErrorPayload
			_ = json.Unmarshal(env.Data, &p)
			lc.inbound.push(ChannelEvent{
				Kind:   ChannelError,
				ChatID: p.ChatID,
				Err:    errors.Wrap(codeError(p.Code), p.Message),
			})
		}
	}
}

// Send emits send_message. The message shows up on Inbound once the server
// has stored it; that echo is the only confirmation.
func (lc *LiveChannel) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.Wrap(ErrValidation, "empty message")
	}
	return lc.write(ctx, types.EventSendMessage, types.SendMessagePayload{
		ChatID:     lc.chatID,
		SenderID:   lc.participant.ID,
		SenderType: lc.participant.Type,
		Content:    content,
	})
}

// CloseChat asks the server to close the chat for everyone in the room.
func (lc *LiveChannel) CloseChat(ctx context.Context) error {
	return lc.write(ctx, types.EventCloseChat, types.CloseChatPayload{
		ChatID:   lc.chatID,
		CloserID: lc.participant.ID,
	})
}

func (lc *LiveChannel) write(ctx context.Context, event string, payload any) error {
	lc.mu.Lock()
	state, conn := lc.state, lc.conn
	lc.mu.Unlock()
	switch state {
	case ConnJoined:
	case ConnClosed:
		return errors.Wrap(ErrChannelClosed, event)
	case ConnDisconnected:
		return errors.Wrap(ErrDisconnected, event)
	default:
		return errors.Wrap(ErrDisconnected, event+": not joined")
	}
	frame, err := types.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return errors.Wrapf(ErrDisconnected, "%s: %v", event, err)
	}
	return nil
}

func (lc *LiveChannel) Inbound() <-chan ChannelEvent {
	return lc.inbound.output()
}

func (lc *LiveChannel) State() ConnState {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state
}

// Err is ErrDisconnected after the connection dropped, nil otherwise.
func (lc *LiveChannel) Err() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.err
}

// Close leaves the room and releases the connection. Only the first call
// does anything.
func (lc *LiveChannel) Close() error {
	lc.closeOnce.Do(func() {
		lc.mu.Lock()
		prev := lc.state
		conn, cancel := lc.conn, lc.cancel
		lc.state = ConnClosed
		lc.mu.Unlock()

		if conn != nil {
			if prev == ConnJoined {
				if frame, err := types.NewEnvelope(types.EventLeave, types.LeavePayload{ChatID: lc.chatID}); err == nil {
					ctx, done := context.WithTimeout(context.Background(), leaveTimeout)
					_ = conn.Write(ctx, websocket.MessageText, frame)
					done()
				}
			}
			conn.Close(websocket.StatusNormalClosure, "")
		}
		if cancel != nil {
			cancel()
		}
		lc.inbound.stop()
	})
	return nil
}

func (lc *LiveChannel) fail() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.state != ConnClosed {
		lc.state = ConnDisconnected
		lc.err = ErrDisconnected
	}
}

func codeError(code string) error {
	switch code {
	case types.CodeNotFound:
		return ErrNotFound
	case types.CodeUnauthorized:
		return ErrUnauthorized
	case types.CodeChatClosed:
		return ErrChatClosed
	case types.CodeNotJoined:
		return ErrDisconnected
	case types.CodeValidation:
		return ErrValidation
	default:
		return ErrServer
	}
}
