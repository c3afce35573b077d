package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskchat/deskchat/sources/psql/models"
	"deskchat/deskchat/types"

	"gorm.io/gorm"
)

type MessageDAO struct {
	DB *gorm.DB
}

func NewMessageDAO(db *gorm.DB) *MessageDAO {
	return &MessageDAO{DB: db}
}

// SaveMessage appends a message to an open chat. The chat's seq counter and
// transcript are bumped in the same transaction as the insert.
func (dao *MessageDAO) SaveMessage(ctx context.Context, chatID, senderID string, senderType types.SenderType, content string) (*models.Message, error) {
	var msg *models.Message
	err := dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		err := tx.First(&chat, "id = ?", chatID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if chat.Status == string(types.StatusClosed) {
			return fmt.Errorf("chat %s: %w", chatID, ErrChatClosed)
		}
		line := fmt.Sprintf("%s - %s: %s\n", time.Now().UTC().Format(time.RFC3339), capitalize(string(senderType)), content)
		msg, err = appendMessage(tx, &chat, senderID, senderType, content, line)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListByChat returns the chat's messages in seq order.
func (dao *MessageDAO) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := dao.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// appendMessage must run inside a transaction. Incrementing last_seq first
// takes the row lock that serializes concurrent writers on the same chat.
func appendMessage(tx *gorm.DB, chat *models.Chat, senderID string, senderType types.SenderType, content, transcriptLine string) (*models.Message, error) {
	err := tx.Model(&models.Chat{}).
		Where("id = ?", chat.ID).
		Updates(map[string]any{
			"last_seq":   gorm.Expr("last_seq + 1"),
			"transcript": gorm.Expr("transcript || ?", transcriptLine),
		}).Error
	if err != nil {
		return nil, err
	}
	var seqs []int64
	if err := tx.Model(&models.Chat{}).Where("id = ?", chat.ID).Pluck("last_seq", &seqs).Error; err != nil {
		return nil, err
	}
	if len(seqs) != 1 {
		return nil, fmt.Errorf("chat %s: %w", chat.ID, ErrNotFound)
	}
	seq := seqs[0]
	chat.LastSeq = seq

	msg := models.Message{
		ChatID:     chat.ID,
		Seq:        seq,
		SenderID:   senderID,
		SenderType: string(senderType),
		Content:    content,
	}
	if err := tx.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
