package httputils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError is returned for any non-2xx response. Message holds the
// server's {"error": ...} text when there is one.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: bad status %d: %s", e.Method, e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: bad status %d", e.Method, e.URL, e.Code)
}

// Do sends body as JSON (when non-nil) and decodes a 2xx response into resp
// (when non-nil). token, when set, is sent as a Bearer credential.
func Do(ctx context.Context, client *http.Client, method, url, token string, body, resp any) error {
	if client == nil {
		client = http.DefaultClient
	}
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r, err := client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return &StatusError{Method: method, URL: url, Code: r.StatusCode, Message: readErrorMessage(r.Body)}
	}
	if resp != nil {
		return json.NewDecoder(r.Body).Decode(resp)
	}
	return nil
}

func GetJSON(ctx context.Context, client *http.Client, url, token string, resp any) error {
	return Do(ctx, client, http.MethodGet, url, token, nil, resp)
}

func PostJSON(ctx context.Context, client *http.Client, url, token string, body, resp any) error {
	return Do(ctx, client, http.MethodPost, url, token, body, resp)
}

// WriteJSON is the server half: it encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
