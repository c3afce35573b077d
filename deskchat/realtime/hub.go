package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"deskchat/deskchat/controllers"
	"deskchat/deskchat/sources/psql/dao"
	"deskchat/deskchat/types"
	"deskchat/deskchat/utils/logging"
	"deskchat/deskchat/utils/telemetry"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Keepalive ping period.
	pingPeriod = 30 * time.Second

	// Maximum frame size allowed from peer.
	maxMessageSize = 64 << 10

	// Frames queued per peer before it is dropped as a slow consumer.
	sendBuffer = 64

	errShuttingDown = "server shutting down"
)

// ChatStore is the persistence the hub needs; *controllers.ChatController
// implements it.
type ChatStore interface {
	GetChat(ctx context.Context, chatID string) (types.Chat, error)
	SendMessage(ctx context.Context, chatID, senderID string, senderType types.SenderType, content string) (types.Message, error)
	CloseChat(ctx context.Context, chatID, closerID string) (types.Chat, error)
}

// TokenVerifier returns the agent id carried by a bearer token.
type TokenVerifier func(token string) (string, error)

type room struct {
	members map[*Peer]types.Participant
	// publish serializes persist+broadcast so frames leave in seq order.
	publish sync.Mutex
}

// Hub keeps one room per chat id and fans events out to the room's peers.
type Hub struct {
	store   ChatStore
	verify  TokenVerifier
	metrics *telemetry.Metrics
	accept  *websocket.AcceptOptions

	mu      sync.RWMutex
	rooms   map[string]*room
	peers   map[*Peer]struct{}
	closing bool
}

// NewHub builds a hub. An origin list containing "*" disables the origin
// check.
func NewHub(store ChatStore, verify TokenVerifier, metrics *telemetry.Metrics, origins []string) *Hub {
	accept := &websocket.AcceptOptions{}
	for _, o := range origins {
		if o == "*" {
			accept.InsecureSkipVerify = true
			break
		}
	}
	if !accept.InsecureSkipVerify {
		accept.OriginPatterns = origins
	}
	return &Hub{
		store:   store,
		verify:  verify,
		metrics: metrics,
		accept:  accept,
		rooms:   make(map[string]*room),
		peers:   make(map[*Peer]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isClosing() {
		http.Error(w, errShuttingDown, http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		logging.ErrorLogger.Error("websocket accept failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := newPeer(h, conn)
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, errShuttingDown)
		return
	}
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.metrics.LiveConnection(ctx, 1)
	logging.RequestLogger.Info("live channel connected", zap.String("remote", r.RemoteAddr))

	go p.writePump(ctx)
	p.readPump(ctx)

	h.unregister(p)
	h.metrics.LiveConnection(context.Background(), -1)
	p.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID := range p.rooms {
		h.leaveLocked(p, chatID)
	}
	delete(h.peers, p)
}

func (h *Hub) leaveLocked(p *Peer, chatID string) {
	delete(p.rooms, chatID)
	r, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(r.members, p)
	if len(r.members) == 0 {
		delete(h.rooms, chatID)
	}
}

// RoomSize reports how many peers have joined chatID.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[chatID]; ok {
		return len(r.members)
	}
	return 0
}

// ChatClosed tells the room a chat was closed outside the live channel.
func (h *Hub) ChatClosed(chatID, closerID string) {
	frame, err := types.NewEnvelope(types.EventChatClosed, types.ChatClosedPayload{ChatID: chatID, CloserID: closerID})
	if err != nil {
		return
	}
	if r := h.room(chatID); r != nil {
		r.publish.Lock()
		defer r.publish.Unlock()
	}
	h.broadcast(chatID, frame)
}

// Shutdown closes every live connection and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closing = true
	peers := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *Peer) {
			defer wg.Done()
			p.conn.Close(websocket.StatusGoingAway, errShuttingDown)
		}(p)
	}
	wg.Wait()
}

func (h *Hub) isClosing() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closing
}

func (h *Hub) room(chatID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[chatID]
}

func (h *Hub) membership(p *Peer, chatID string) (types.Participant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	part, ok := p.rooms[chatID]
	return part, ok
}

func (h *Hub) broadcast(chatID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[chatID]
	if !ok {
		return
	}
	for p := range r.members {
		p.enqueue(frame)
	}
}

func (h *Hub) dispatch(ctx context.Context, p *Peer, env types.Envelope) {
	switch env.Event {
	case types.EventJoin:
		h.handleJoin(ctx, p, env.Data)
	case types.EventSendMessage:
		h.handleSend(ctx, p, env.Data)
	case types.EventCloseChat:
		h.handleClose(ctx, p, env.Data)
	case types.EventLeave:
		h.handleLeave(p, env.Data)
	default:
		p.sendError("", types.CodeValidation, "unknown event "+env.Event)
	}
}

func (h *Hub) handleJoin(ctx context.Context, p *Peer, data json.RawMessage) {
	var in types.JoinPayload
	if err := json.Unmarshal(data, &in); err != nil {
		p.sendError("", types.CodeValidation, "invalid join payload")
		return
	}
	if in.ChatID == "" || in.UserID == "" || !in.UserType.Valid() {
		p.sendError(in.ChatID, types.CodeValidation, "chat_id, user_id and user_type are required")
		return
	}
	chat, err := h.store.GetChat(ctx, in.ChatID)
	if err != nil {
		p.sendStoreError(in.ChatID, err)
		return
	}
	if in.UserType == types.SenderAgent {
		agentID, err := h.verify(in.Token)
		if err != nil || agentID != in.UserID || chat.AssignedAgentID == nil || *chat.AssignedAgentID != agentID {
			p.sendError(in.ChatID, types.CodeUnauthorized, "unauthorized")
			return
		}
	}
	ack, err := types.NewEnvelope(types.EventJoined, types.JoinedPayload{ChatID: in.ChatID})
	if err != nil {
		return
	}
	part := types.Participant{Type: in.UserType, ID: in.UserID}

	// The ack is queued under the lock so it precedes any room traffic.
	h.mu.Lock()
	r, ok := h.rooms[in.ChatID]
	if !ok {
		r = &room{members: make(map[*Peer]types.Participant)}
		h.rooms[in.ChatID] = r
	}
	r.members[p] = part
	p.rooms[in.ChatID] = part
	p.enqueue(ack)
	h.mu.Unlock()

	logging.AppLogger.Info("participant joined",
		zap.String("chat_id", in.ChatID),
		zap.String("user_id", in.UserID),
		zap.String("user_type", string(in.UserType)),
	)
	frame, err := types.NewEnvelope(types.EventUserJoined, types.UserJoinedPayload{
		ChatID:   in.ChatID,
		UserID:   in.UserID,
		UserType: in.UserType,
	})
	if err == nil {
		h.broadcast(in.ChatID, frame)
	}
}

func (h *Hub) handleSend(ctx context.Context, p *Peer, data json.RawMessage) {
	var in types.SendMessagePayload
	if err := json.Unmarshal(data, &in); err != nil {
		p.sendError("", types.CodeValidation, "invalid send_message payload")
		return
	}
	part, ok := h.membership(p, in.ChatID)
	if !ok {
		p.sendError(in.ChatID, types.CodeNotJoined, "join the chat before sending")
		return
	}
	if (in.SenderID != "" && in.SenderID != part.ID) || (in.SenderType != "" && in.SenderType != part.Type) {
		p.sendError(in.ChatID, types.CodeValidation, "sender does not match joined participant")
		return
	}
	r := h.room(in.ChatID)
	if r == nil {
		p.sendError(in.ChatID, types.CodeNotJoined, "join the chat before sending")
		return
	}
	defer logging.LogDuration(ctx, "Hub.handleSend")()

	r.publish.Lock()
	defer r.publish.Unlock()
	msg, err := h.store.SendMessage(ctx, in.ChatID, part.ID, part.Type, in.Content)
	if err != nil {
		p.sendStoreError(in.ChatID, err)
		return
	}
	frame, err := types.NewEnvelope(types.EventReceiveMessage, msg)
	if err != nil {
		return
	}
	h.broadcast(in.ChatID, frame)
}

func (h *Hub) handleClose(ctx context.Context, p *Peer, data json.RawMessage) {
	var in types.CloseChatPayload
	if err := json.Unmarshal(data, &in); err != nil {
		p.sendError("", types.CodeValidation, "invalid close_chat payload")
		return
	}
	part, ok := h.membership(p, in.ChatID)
	if !ok {
		p.sendError(in.ChatID, types.CodeNotJoined, "join the chat before closing it")
		return
	}
	r := h.room(in.ChatID)
	if r == nil {
		return
	}
	r.publish.Lock()
	defer r.publish.Unlock()
	if _, err := h.store.CloseChat(ctx, in.ChatID, part.ID); err != nil {
		p.sendStoreError(in.ChatID, err)
		return
	}
	frame, err := types.NewEnvelope(types.EventChatClosed, types.ChatClosedPayload{ChatID: in.ChatID, CloserID: part.ID})
	if err != nil {
		return
	}
	h.broadcast(in.ChatID, frame)
}

func (h *Hub) handleLeave(p *Peer, data json.RawMessage) {
	var in types.LeavePayload
	if err := json.Unmarshal(data, &in); err != nil {
		p.sendError("", types.CodeValidation, "invalid leave payload")
		return
	}
	h.mu.Lock()
	h.leaveLocked(p, in.ChatID)
	h.mu.Unlock()
}

// errorCode maps store errors onto error event codes.
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, dao.ErrNotFound):
		return types.CodeNotFound, "chat not found"
	case errors.Is(err, dao.ErrChatClosed):
		return types.CodeChatClosed, "chat is closed"
	case errors.Is(err, controllers.ErrValidation):
		return types.CodeValidation, err.Error()
	case errors.Is(err, controllers.ErrForbidden):
		return types.CodeUnauthorized, "unauthorized"
	default:
		return types.CodeInternal, "internal error"
	}
}
