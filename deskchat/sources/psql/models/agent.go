package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Agent struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Email        string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName  string    `json:"display_name" gorm:"type:varchar(255);not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Agent) TableName() string {
	return "agents"
}

func (a *Agent) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
