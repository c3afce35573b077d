package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"deskchat/deskchat/types"
	"deskchat/deskchat/utils/logging"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Peer is one live channel connection. rooms is guarded by the hub's mutex.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	dropped  chan struct{}
	dropOnce sync.Once

	rooms map[string]types.Participant
}

func newPeer(h *Hub, conn *websocket.Conn) *Peer {
	return &Peer{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		dropped: make(chan struct{}),
		rooms:   make(map[string]types.Participant),
	}
}

// enqueue never blocks; a full buffer drops the peer.
func (p *Peer) enqueue(frame []byte) bool {
	select {
	case <-p.dropped:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.drop()
		return false
	}
}

func (p *Peer) drop() {
	p.dropOnce.Do(func() {
		close(p.dropped)
	})
}

func (p *Peer) readPump(ctx context.Context) {
	p.conn.SetReadLimit(maxMessageSize)
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				logging.RequestLogger.Info("live channel read ended", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			p.sendError("", types.CodeValidation, "unsupported data")
			continue
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.sendError("", types.CodeValidation, "invalid json")
			continue
		}
		p.hub.dispatch(ctx, p, env)
	}
}

func (p *Peer) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := p.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				p.drop()
				return
			}
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := p.conn.Ping(wctx)
			cancel()
			if err != nil {
				p.drop()
				return
			}
		case <-p.dropped:
			logging.RequestLogger.Info("dropping live channel peer")
			p.conn.Close(websocket.StatusPolicyViolation, "slow consumer")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Peer) sendError(chatID, code, message string) {
	frame, err := types.NewEnvelope(types.EventError, types.ErrorPayload{Code: code, Message: message, ChatID: chatID})
	if err != nil {
		return
	}
	p.enqueue(frame)
}

func (p *Peer) sendStoreError(chatID string, err error) {
	code, message := errorCode(err)
	if code == types.CodeInternal {
		logging.ErrorLogger.Error("live channel request failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	p.sendError(chatID, code, message)
}
