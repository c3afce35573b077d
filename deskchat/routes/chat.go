package routes

import (
	"errors"
	"net/http"

	"deskchat/deskchat/config"
	"deskchat/deskchat/controllers"
	"deskchat/deskchat/middlewares"
	"deskchat/deskchat/utils/types"

	"github.com/go-chi/chi/v5"
)

var errNoAgent = errors.New("unauthorized")

// ChatEvents is told about state changes made over REST so live rooms hear
// them too.
type ChatEvents interface {
	ChatClosed(chatID, closerID string)
}

// ChatRoutes serves /api/chat: customers create and read chats anonymously,
// agents claim and close them.
func ChatRoutes(ctrl *controllers.ChatController, events ChatEvents, cfg config.Config) chi.Router {
	r := chi.NewRouter()

	r.Post("/", handleJSON(func(r *http.Request) (any, int, error) {
		var req types.CreateChatRequest
		if err := decode(r, &req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		resp, err := ctrl.CreateChat(r.Context(), req)
		if err != nil {
			return nil, statusFor(err), err
		}
		return resp, http.StatusCreated, nil
	}))

	r.Get("/{chat_id}", handleJSON(func(r *http.Request) (any, int, error) {
		chat, err := ctrl.GetChat(r.Context(), chi.URLParam(r, "chat_id"))
		if err != nil {
			return nil, statusFor(err), err
		}
		return chat, http.StatusOK, nil
	}))

	r.Get("/{chat_id}/messages", handleJSON(func(r *http.Request) (any, int, error) {
		msgs, err := ctrl.ListMessages(r.Context(), chi.URLParam(r, "chat_id"))
		if err != nil {
			return nil, statusFor(err), err
		}
		return msgs, http.StatusOK, nil
	}))

	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.AuthMiddleware(cfg))

		gr.Post("/{chat_id}/assign", handleJSON(func(r *http.Request) (any, int, error) {
			agentID, ok := middlewares.AgentID(r.Context())
			if !ok {
				return nil, http.StatusUnauthorized, errNoAgent
			}
			chat, err := ctrl.Assign(r.Context(), chi.URLParam(r, "chat_id"), agentID)
			if err != nil {
				return nil, statusFor(err), err
			}
			return chat, http.StatusOK, nil
		}))

		gr.Post("/{chat_id}/close", handleJSON(func(r *http.Request) (any, int, error) {
			agentID, ok := middlewares.AgentID(r.Context())
			if !ok {
				return nil, http.StatusUnauthorized, errNoAgent
			}
			chatID := chi.URLParam(r, "chat_id")
			if _, err := ctrl.AuthorizeAgent(r.Context(), chatID, agentID); err != nil {
				return nil, statusFor(err), err
			}
			chat, err := ctrl.CloseChat(r.Context(), chatID, agentID)
			if err != nil {
				return nil, statusFor(err), err
			}
			if events != nil {
				events.ChatClosed(chatID, agentID)
			}
			return chat, http.StatusOK, nil
		}))
	})
	return r
}

// ChatsRoutes serves the agent listings under /api/chats.
func ChatsRoutes(ctrl *controllers.ChatController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares.AuthMiddleware(cfg))

	r.Get("/available", handleJSON(func(r *http.Request) (any, int, error) {
		chats, err := ctrl.ListAvailable(r.Context())
		if err != nil {
			return nil, statusFor(err), err
		}
		return chats, http.StatusOK, nil
	}))

	// GET /api/chats?status=active|closed|all[&agent_id=...]
	r.Get("/", handleJSON(func(r *http.Request) (any, int, error) {
		agentID, ok := middlewares.AgentID(r.Context())
		if !ok {
			return nil, http.StatusUnauthorized, errNoAgent
		}
		if requested := r.URL.Query().Get("agent_id"); requested != "" && requested != agentID {
			return nil, http.StatusForbidden, controllers.ErrForbidden
		}
		chats, err := ctrl.ListAssigned(r.Context(), agentID, r.URL.Query().Get("status"))
		if err != nil {
			return nil, statusFor(err), err
		}
		return chats, http.StatusOK, nil
	}))
	return r
}
