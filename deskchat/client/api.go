package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"deskchat/deskchat/types"
	httputils "deskchat/deskchat/utils/http"
	utiltypes "deskchat/deskchat/utils/types"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// APIClient speaks the REST contracts. Agent calls carry the AuthContext's
// bearer token; customer calls go out anonymously.
type APIClient struct {
	baseURL string
	http    *http.Client
	auth    *AuthContext
	logger  *zap.Logger
}

func NewAPIClient(baseURL string, auth *AuthContext, opts ...Option) *APIClient {
	o := buildOptions(opts)
	if auth == nil {
		auth = Anonymous()
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    o.httpClient,
		auth:    auth,
		logger:  o.logger,
	}
}

func (c *APIClient) Auth() *AuthContext {
	return c.auth
}

// LiveURL is the websocket endpoint of the live channel.
func (c *APIClient) LiveURL() string {
	u := c.baseURL + "/api/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func (c *APIClient) chatURL(chatID string, suffix ...string) string {
	parts := append([]string{c.baseURL, "api", "chat", url.PathEscape(chatID)}, suffix...)
	return strings.Join(parts, "/")
}

func (c *APIClient) CreateChat(ctx context.Context, customerName, initialMessage string) (types.Chat, error) {
	if strings.TrimSpace(customerName) == "" {
		return types.Chat{}, errors.Wrap(ErrValidation, "create chat: name is required")
	}
	var resp utiltypes.CreateChatResponse
	err := httputils.PostJSON(ctx, c.http, c.baseURL+"/api/chat", "",
		utiltypes.CreateChatRequest{Name: customerName, InitialMessage: initialMessage}, &resp)
	if err != nil {
		return types.Chat{}, mapHTTPError(err, "create chat", nil)
	}
	return types.Chat{
		ID:           resp.ID,
		CustomerName: resp.CustomerName,
		Status:       types.ChatStatus(resp.Status),
	}, nil
}

func (c *APIClient) GetChat(ctx context.Context, chatID string) (types.Chat, error) {
	var chat types.Chat
	if err := httputils.GetJSON(ctx, c.http, c.chatURL(chatID), c.auth.Token(), &chat); err != nil {
		return types.Chat{}, mapHTTPError(err, "get chat "+chatID, nil)
	}
	return chat, nil
}

func (c *APIClient) ListMessages(ctx context.Context, chatID string) ([]types.Message, error) {
	var msgs []types.Message
	if err := httputils.GetJSON(ctx, c.http, c.chatURL(chatID, "messages"), c.auth.Token(), &msgs); err != nil {
		return nil, mapHTTPError(err, "list messages "+chatID, nil)
	}
	return msgs, nil
}

func (c *APIClient) ListAvailable(ctx context.Context) ([]types.Chat, error) {
	var chats []types.Chat
	if err := httputils.GetJSON(ctx, c.http, c.baseURL+"/api/chats/available", c.auth.Token(), &chats); err != nil {
		return nil, mapHTTPError(err, "list available chats", nil)
	}
	return chats, nil
}

// ListAssigned lists agentID's chats with the given status (active, closed
// or all). The server only answers for the caller's own agent.
func (c *APIClient) ListAssigned(ctx context.Context, agentID, status string) ([]types.Chat, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	u := c.baseURL + "/api/chats"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var chats []types.Chat
	if err := httputils.GetJSON(ctx, c.http, u, c.auth.Token(), &chats); err != nil {
		return nil, mapHTTPError(err, "list assigned chats", nil)
	}
	return chats, nil
}

func (c *APIClient) Assign(ctx context.Context, chatID string) (types.Chat, error) {
	var chat types.Chat
	if err := httputils.PostJSON(ctx, c.http, c.chatURL(chatID, "assign"), c.auth.Token(), nil, &chat); err != nil {
		return types.Chat{}, mapHTTPError(err, "assign chat "+chatID, ErrAlreadyAssigned)
	}
	return chat, nil
}

func (c *APIClient) CloseChat(ctx context.Context, chatID string) (types.Chat, error) {
	var chat types.Chat
	if err := httputils.PostJSON(ctx, c.http, c.chatURL(chatID, "close"), c.auth.Token(), nil, &chat); err != nil {
		return types.Chat{}, mapHTTPError(err, "close chat "+chatID, ErrChatClosed)
	}
	return chat, nil
}

// NewSession wires a ChatSession to this client's history endpoint and live
// channel.
func (c *APIClient) NewSession(chatID string, participant types.Participant, opts ...Option) *ChatSession {
	all := append([]Option{WithHTTPClient(c.http), WithLogger(c.logger)}, opts...)
	loader := NewHistoryLoader(c)
	factory := func() Channel {
		return NewLiveChannel(c.LiveURL(), chatID, participant, c.auth, all...)
	}
	return NewChatSession(chatID, participant, loader, factory, all...)
}
