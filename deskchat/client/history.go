package client

import (
	"context"

	"deskchat/deskchat/types"
)

// History is the chat as of one fetch: metadata plus messages oldest first.
type History struct {
	Chat     types.Chat
	Messages []types.Message
}

type HistorySource interface {
	Load(ctx context.Context, chatID string) (History, error)
}

// HistoryLoader fetches history over REST: one request for the chat, one for
// its messages. No retries.
type HistoryLoader struct {
	api *APIClient
}

func NewHistoryLoader(api *APIClient) *HistoryLoader {
	return &HistoryLoader{api: api}
}

func (h *HistoryLoader) Load(ctx context.Context, chatID string) (History, error) {
	chat, err := h.api.GetChat(ctx, chatID)
	if err != nil {
		return History{}, err
	}
	msgs, err := h.api.ListMessages(ctx, chatID)
	if err != nil {
		return History{}, err
	}
	return History{Chat: chat, Messages: msgs}, nil
}
