package models

import (
	"time"

	"deskchat/deskchat/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Message struct {
	ID         string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ChatID     string    `json:"chat_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_messages_chat_seq,priority:1"`
	Chat       *Chat     `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnDelete:CASCADE"`
	Seq        int64     `json:"seq" gorm:"not null;uniqueIndex:idx_messages_chat_seq,priority:2"`
	SenderID   string    `json:"sender_id" gorm:"type:varchar(255);not null"`
	SenderType string    `json:"sender_type" gorm:"type:varchar(20);not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func (m *Message) ToType() types.Message {
	return types.Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		Seq:        m.Seq,
		SenderType: types.SenderType(m.SenderType),
		SenderID:   m.SenderID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
