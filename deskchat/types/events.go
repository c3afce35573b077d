package types

import "encoding/json"

// Live channel event names.
const (
	EventJoin        = "join"
	EventSendMessage = "send_message"
	EventCloseChat   = "close_chat"
	EventLeave       = "leave"

	EventJoined         = "joined"
	EventUserJoined     = "user_joined"
	EventReceiveMessage = "receive_message"
	EventChatClosed     = "chat_closed"
	EventError          = "error"
)

// Envelope is the frame exchanged over the live channel websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type JoinPayload struct {
	ChatID   string     `json:"chat_id"`
	UserID   string     `json:"user_id"`
	UserType SenderType `json:"user_type"`
	Token    string     `json:"token,omitempty"`
}

type SendMessagePayload struct {
	ChatID     string     `json:"chat_id"`
	SenderID   string     `json:"sender_id"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`
}

type CloseChatPayload struct {
	ChatID   string `json:"chat_id"`
	CloserID string `json:"closer_id"`
}

type LeavePayload struct {
	ChatID string `json:"chat_id"`
}

type JoinedPayload struct {
	ChatID string `json:"chat_id"`
}

type UserJoinedPayload struct {
	ChatID   string     `json:"chat_id"`
	UserID   string     `json:"user_id"`
	UserType SenderType `json:"user_type"`
}

type ChatClosedPayload struct {
	ChatID   string `json:"chat_id"`
	CloserID string `json:"closer_id"`
}

// Error codes carried by the error event.
const (
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeChatClosed   = "chat_closed"
	CodeNotJoined    = "not_joined"
	CodeInternal     = "internal"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ChatID  string `json:"chat_id,omitempty"`
}
