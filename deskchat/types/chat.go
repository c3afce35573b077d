package types

import "time"

type ChatStatus string

const (
	StatusUnassigned ChatStatus = "unassigned"
	StatusActive     ChatStatus = "active"
	StatusClosed     ChatStatus = "closed"
)

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
)

func (s SenderType) Valid() bool {
	return s == SenderCustomer || s == SenderAgent
}

// Chat is the metadata of one support conversation.
type Chat struct {
	ID              string     `json:"id"`
	CustomerName    string     `json:"customer_name"`
	Status          ChatStatus `json:"status"`
	AssignedAgentID *string    `json:"assigned_agent_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// Message is immutable once the server assigns ID and Seq.
// Seq starts at 1 and increases by one per chat.
type Message struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chat_id"`
	Seq        int64      `json:"seq"`
	SenderType SenderType `json:"sender_type"`
	SenderID   string     `json:"sender_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Participant identifies one side of a chat session.
type Participant struct {
	Type SenderType `json:"user_type"`
	ID   string     `json:"user_id"`
}
