// deskchat/utils/types/chat.go
package types

// request/response bodies of the REST API

type CreateChatRequest struct {
	Name           string `json:"name"`
	InitialMessage string `json:"initial_message,omitempty"`
}

type CreateChatResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CustomerName string `json:"customer_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
