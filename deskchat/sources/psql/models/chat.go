// deskchat/sources/psql/models/chat.go
package models

import (
	"time"

	"deskchat/deskchat/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Chat struct {
	ID           string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	CustomerName string     `json:"customer_name" gorm:"type:varchar(255);not null"`
	Status       string     `json:"status" gorm:"type:varchar(20);not null;index"`
	AgentID      *string    `json:"agent_id,omitempty" gorm:"type:varchar(36);index"`
	Agent        *Agent     `json:"-" gorm:"foreignKey:AgentID;references:ID"`
	LastSeq      int64      `json:"-" gorm:"not null;default:0"`
	Transcript   string     `json:"-" gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

func (Chat) TableName() string {
	return "chats"
}

func (c *Chat) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c *Chat) ToType() types.Chat {
	return types.Chat{
		ID:              c.ID,
		CustomerName:    c.CustomerName,
		Status:          types.ChatStatus(c.Status),
		AssignedAgentID: c.AgentID,
		CreatedAt:       c.CreatedAt,
		ClosedAt:        c.ClosedAt,
	}
}
