package client

import (
	"context"
	"net/http"
	"strings"
	"sync"

	httputils "deskchat/deskchat/utils/http"
	utiltypes "deskchat/deskchat/utils/types"

	"github.com/pkg/errors"
)

// AuthContext holds an agent's credentials. The zero value (see Anonymous)
// is the customer context and carries no token.
type AuthContext struct {
	baseURL string
	http    *http.Client

	mu          sync.RWMutex
	token       string
	agentID     string
	displayName string
}

func NewAuthContext(baseURL string, opts ...Option) *AuthContext {
	o := buildOptions(opts)
	return &AuthContext{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    o.httpClient,
	}
}

func Anonymous() *AuthContext {
	return &AuthContext{}
}

// Login exchanges email and password for a token and the agent identity.
func (a *AuthContext) Login(ctx context.Context, email, password string) error {
	if a.baseURL == "" {
		return errors.Wrap(ErrUnauthorized, "login: anonymous context")
	}
	var resp utiltypes.LoginResponse
	err := httputils.PostJSON(ctx, a.http, a.baseURL+"/api/auth/login", "",
		utiltypes.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return mapHTTPError(err, "login", nil)
	}
	if resp.AccessToken == "" || resp.AgentID == "" {
		return errors.Wrap(ErrUnauthorized, "login: empty credentials in response")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = resp.AccessToken
	a.agentID = resp.AgentID
	a.displayName = resp.DisplayName
	return nil
}

func (a *AuthContext) Logout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token, a.agentID, a.displayName = "", "", ""
}

func (a *AuthContext) Token() string {
	if a == nil {
		return ""
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *AuthContext) AgentID() string {
	if a == nil {
		return ""
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.agentID
}

func (a *AuthContext) DisplayName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.displayName
}

func (a *AuthContext) LoggedIn() bool {
	return a.Token() != ""
}
