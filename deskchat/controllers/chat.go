// deskchat/controllers/chat.go
package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskchat/deskchat/sources/psql/dao"
	"deskchat/deskchat/sources/psql/models"
	"deskchat/deskchat/sources/storage"
	"deskchat/deskchat/types"
	"deskchat/deskchat/utils/logging"
	"deskchat/deskchat/utils/telemetry"
	utiltypes "deskchat/deskchat/utils/types"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ChatController struct {
	chatDAO    *dao.ChatDAO
	messageDAO *dao.MessageDAO
	archive    storage.TranscriptArchive
	metrics    *telemetry.Metrics
}

// NewChatController wires the chat store. archive and metrics may be nil.
func NewChatController(chatDAO *dao.ChatDAO, messageDAO *dao.MessageDAO, archive storage.TranscriptArchive, metrics *telemetry.Metrics) *ChatController {
	return &ChatController{
		chatDAO:    chatDAO,
		messageDAO: messageDAO,
		archive:    archive,
		metrics:    metrics,
	}
}

func (c *ChatController) CreateChat(ctx context.Context, req utiltypes.CreateChatRequest) (*utiltypes.CreateChatResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrValidation)
	}
	ctx, end := c.metrics.Start(ctx, "ChatController.CreateChat")
	chat, err := c.chatDAO.CreateChat(ctx, name, req.InitialMessage)
	end(err)
	if err != nil {
		return nil, err
	}
	c.metrics.ChatCreated(ctx)
	logging.AppLogger.Info("chat created", zap.String("chat_id", chat.ID))
	return &utiltypes.CreateChatResponse{
		ID:           chat.ID,
		Status:       chat.Status,
		CustomerName: chat.CustomerName,
	}, nil
}

func (c *ChatController) GetChat(ctx context.Context, chatID string) (types.Chat, error) {
	chat, err := c.chatDAO.GetChat(ctx, chatID)
	if err != nil {
		return types.Chat{}, err
	}
	return chat.ToType(), nil
}

func (c *ChatController) ListMessages(ctx context.Context, chatID string) ([]types.Message, error) {
	if _, err := c.chatDAO.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	msgs, err := c.messageDAO.ListByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].ToType())
	}
	return out, nil
}

func (c *ChatController) ListAvailable(ctx context.Context) ([]types.Chat, error) {
	chats, err := c.chatDAO.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return toChats(chats), nil
}

// ListAssigned lists agentID's chats. status defaults to active; "all"
// drops the filter.
func (c *ChatController) ListAssigned(ctx context.Context, agentID, status string) ([]types.Chat, error) {
	switch status {
	case "":
		status = string(types.StatusActive)
	case "all", string(types.StatusActive), string(types.StatusClosed):
	default:
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrValidation)
	}
	chats, err := c.chatDAO.ListByAgent(ctx, agentID, status)
	if err != nil {
		return nil, err
	}
	return toChats(chats), nil
}

// Assign claims an unassigned chat for agentID. Losing a race returns
// dao.ErrAlreadyAssigned.
func (c *ChatController) Assign(ctx context.Context, chatID, agentID string) (types.Chat, error) {
	ctx, end := c.metrics.Start(ctx, "ChatController.Assign",
		attribute.String("chat_id", chatID), attribute.String("agent_id", agentID))
	chat, err := c.chatDAO.Assign(ctx, chatID, agentID)
	end(err)
	switch {
	case err == nil:
		c.metrics.Claim(ctx, "won")
	case errors.Is(err, dao.ErrAlreadyAssigned):
		c.metrics.Claim(ctx, "lost")
		return types.Chat{}, err
	default:
		c.metrics.Claim(ctx, "error")
		return types.Chat{}, err
	}
	logging.AppLogger.Info("chat assigned", zap.String("chat_id", chatID), zap.String("agent_id", agentID))
	return chat.ToType(), nil
}

// AuthorizeAgent returns ErrForbidden unless agentID owns the chat.
func (c *ChatController) AuthorizeAgent(ctx context.Context, chatID, agentID string) (types.Chat, error) {
	chat, err := c.chatDAO.GetChat(ctx, chatID)
	if err != nil {
		return types.Chat{}, err
	}
	if chat.AgentID == nil || *chat.AgentID != agentID {
		return types.Chat{}, fmt.Errorf("chat %s: %w", chatID, ErrForbidden)
	}
	return chat.ToType(), nil
}

// SendMessage validates and persists one message, returning it with its seq.
func (c *ChatController) SendMessage(ctx context.Context, chatID, senderID string, senderType types.SenderType, content string) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, fmt.Errorf("empty message: %w", ErrValidation)
	}
	if !senderType.Valid() || senderID == "" {
		return types.Message{}, fmt.Errorf("invalid sender: %w", ErrValidation)
	}
	msg, err := c.messageDAO.SaveMessage(ctx, chatID, senderID, senderType, content)
	if err != nil {
		return types.Message{}, err
	}
	c.metrics.MessageSent(ctx, string(senderType))
	return msg.ToType(), nil
}

// CloseChat closes the chat and archives its transcript when an archive is
// configured. Archive failures are logged; the chat stays closed.
func (c *ChatController) CloseChat(ctx context.Context, chatID, closerID string) (types.Chat, error) {
	chat, err := c.chatDAO.Close(ctx, chatID)
	if err != nil {
		return types.Chat{}, err
	}
	c.metrics.ChatClosed(ctx)
	logging.AppLogger.Info("chat closed", zap.String("chat_id", chatID), zap.String("closer_id", closerID))
	c.archiveTranscript(ctx, chat)
	return chat.ToType(), nil
}

func (c *ChatController) archiveTranscript(ctx context.Context, chat *models.Chat) {
	if c.archive == nil {
		return
	}
	t := storage.Transcript{
		ChatID:       chat.ID,
		CustomerName: chat.CustomerName,
		Text:         chat.Transcript,
		ClosedAt:     time.Now().UTC(),
	}
	if chat.AgentID != nil {
		t.AgentID = *chat.AgentID
	}
	if chat.ClosedAt != nil {
		t.ClosedAt = chat.ClosedAt.UTC()
	}
	key, err := c.archive.ArchiveTranscript(ctx, t)
	if err != nil {
		logging.ErrorLogger.Error("transcript archive failed", zap.String("chat_id", chat.ID), zap.Error(err))
		return
	}
	logging.AppLogger.Info("transcript archived", zap.String("chat_id", chat.ID), zap.String("key", key))
}

func toChats(chats []models.Chat) []types.Chat {
	out := make([]types.Chat, 0, len(chats))
	for i := range chats {
		out = append(out, chats[i].ToType())
	}
	return out
}
