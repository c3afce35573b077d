// deskchat/middlewares/auth.go
package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"deskchat/deskchat/config"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const AgentIDKey contextKey = "agent_id"

var ErrInvalidToken = errors.New("invalid token")

// ParseAgentToken validates an HS256 token and returns its agent_id claim.
func ParseAgentToken(secret, tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrInvalidToken
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	agentID, ok := claims["agent_id"].(string)
	if !ok || agentID == "" {
		return "", ErrInvalidToken
	}
	return agentID, nil
}

func AuthMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeUnauthorized(w)
				return
			}
			parts := strings.Split(auth, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthorized(w)
				return
			}
			agentID, err := ParseAgentToken(cfg.JWTSecret, parts[1])
			if err != nil {
				writeUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), AgentIDKey, agentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentID returns the authenticated agent set by AuthMiddleware.
func AgentID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(AgentIDKey).(string)
	return id, ok && id != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
