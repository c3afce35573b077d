package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"deskchat/deskchat/controllers"
	"deskchat/deskchat/sources/psql/dao"
	"deskchat/deskchat/utils/logging"
	httputils "deskchat/deskchat/utils/http"
	"deskchat/deskchat/utils/types"

	"go.uber.org/zap"
)

// generic wrapper to reduce boilerplate
func handleJSON(handler func(r *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, status, err := handler(r)
		if err != nil {
			writeError(w, r, status, err)
			return
		}
		httputils.WriteJSON(w, status, res)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.ErrorLogger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	httputils.WriteJSON(w, status, types.ErrorResponse{Error: msg})
}

// statusFor maps controller and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dao.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dao.ErrAlreadyAssigned),
		errors.Is(err, dao.ErrChatClosed),
		errors.Is(err, dao.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, controllers.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, controllers.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, controllers.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", controllers.ErrValidation, err)
	}
	return nil
}
