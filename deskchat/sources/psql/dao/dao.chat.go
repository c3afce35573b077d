package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskchat/deskchat/sources/psql/models"
	"deskchat/deskchat/types"
	"deskchat/deskchat/utils/logging"

	"gorm.io/gorm"
)

type ChatDAO struct {
	DB *gorm.DB
}

func NewChatDAO(db *gorm.DB) *ChatDAO {
	return &ChatDAO{DB: db}
}

// CreateChat stores a new unassigned chat. A non-empty initialMessage becomes
// the first message (seq 1) sent by the customer, whose sender id is the chat id.
func (dao *ChatDAO) CreateChat(ctx context.Context, customerName, initialMessage string) (*models.Chat, error) {
	chat := models.Chat{
		CustomerName: customerName,
		Status:       string(types.StatusUnassigned),
	}
	err := dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		if strings.TrimSpace(initialMessage) == "" {
			return nil
		}
		_, err := appendMessage(tx, &chat, chat.ID, types.SenderCustomer, initialMessage,
			fmt.Sprintf("Initial Message: %s\n", initialMessage))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (dao *ChatDAO) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	err := dao.DB.WithContext(ctx).First(&chat, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListAvailable returns unassigned chats, oldest first.
func (dao *ChatDAO) ListAvailable(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := dao.DB.WithContext(ctx).
		Where("status = ? AND agent_id IS NULL", string(types.StatusUnassigned)).
		Order("created_at ASC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

// ListByAgent returns the chats assigned to agentID. An empty status or "all"
// disables the status filter.
func (dao *ChatDAO) ListByAgent(ctx context.Context, agentID, status string) ([]models.Chat, error) {
	q := dao.DB.WithContext(ctx).Where("agent_id = ?", agentID)
	if status != "" && status != "all" {
		q = q.Where("status = ?", status)
	}
	var chats []models.Chat
	if err := q.Order("created_at ASC").Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// Assign moves an unassigned chat to active under agentID. The conditional
// update is the only arbiter: whoever changes the row wins, everybody else
// gets ErrAlreadyAssigned.
func (dao *ChatDAO) Assign(ctx context.Context, chatID, agentID string) (*models.Chat, error) {
	defer logging.LogDuration(ctx, "ChatDAO.Assign")()

	var chat models.Chat
	err := dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Chat{}).
			Where("id = ? AND status = ? AND agent_id IS NULL", chatID, string(types.StatusUnassigned)).
			Updates(map[string]any{
				"agent_id":   agentID,
				"status":     string(types.StatusActive),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		err := tx.First(&chat, "id = ?", chatID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("chat %s: %w", chatID, ErrAlreadyAssigned)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// Close marks the chat closed. Closing twice returns ErrChatClosed.
func (dao *ChatDAO) Close(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	now := time.Now()
	err := dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Chat{}).
			Where("id = ? AND status <> ?", chatID, string(types.StatusClosed)).
			Updates(map[string]any{
				"status":     string(types.StatusClosed),
				"closed_at":  now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		err := tx.First(&chat, "id = ?", chatID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("chat %s: %w", chatID, ErrChatClosed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}
