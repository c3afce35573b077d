// deskchat/controllers/auth.go
package controllers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskchat/deskchat/config"
	"deskchat/deskchat/sources/psql/dao"
	"deskchat/deskchat/sources/psql/models"
	"deskchat/deskchat/utils/logging"
	"deskchat/deskchat/utils/types"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AuthController struct {
	agentDAO *dao.AgentDAO
	cfg      config.Config
}

func NewAuthController(agentDAO *dao.AgentDAO, cfg config.Config) *AuthController {
	return &AuthController{
		agentDAO: agentDAO,
		cfg:      cfg,
	}
}

func (c *AuthController) Login(ctx context.Context, req types.LoginRequest) (*types.LoginResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return nil, fmt.Errorf("email and password are required: %w", ErrValidation)
	}
	agent, err := c.agentDAO.GetAgentByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	token, err := c.IssueToken(agent.ID)
	if err != nil {
		return nil, err
	}
	logging.AppLogger.Info("agent logged in", zap.String("agent_id", agent.ID))
	return &types.LoginResponse{
		AccessToken: token,
		AgentID:     agent.ID,
		DisplayName: agent.DisplayName,
	}, nil
}

// IssueToken signs an HS256 token carrying agent_id and exp.
func (c *AuthController) IssueToken(agentID string) (string, error) {
	ttl := c.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := jwt.MapClaims{
		"agent_id": agentID,
		"exp":      time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.cfg.JWTSecret))
}

// CreateAgent registers an agent account; used by the create-agent command.
func (c *AuthController) CreateAgent(ctx context.Context, email, password, displayName string) (*models.Agent, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" || strings.TrimSpace(displayName) == "" {
		return nil, fmt.Errorf("email, password and display name are required: %w", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return c.agentDAO.CreateAgent(ctx, email, strings.TrimSpace(displayName), string(hash))
}
