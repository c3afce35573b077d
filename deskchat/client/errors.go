package client

import (
	"net/http"

	httputils "deskchat/deskchat/utils/http"

	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrAlreadyAssigned = errors.New("chat already assigned")
	ErrChatClosed      = errors.New("chat already closed")
	ErrDisconnected    = errors.New("live channel disconnected")
	ErrValidation      = errors.New("validation failed")
	ErrSessionClosed   = errors.New("session closed")
	ErrChannelClosed   = errors.New("live channel closed")
	ErrServer          = errors.New("server error")

	errNotOpen = errors.New("session is not open")
)

// mapHTTPError turns a transport error into one of the sentinels. conflict is
// what a 409 means for the calling operation.
func mapHTTPError(err error, op string, conflict error) error {
	var se *httputils.StatusError
	if !errors.As(err, &se) {
		return errors.Wrap(err, op)
	}
	switch se.Code {
	case http.StatusNotFound:
		return errors.Wrapf(ErrNotFound, "%s: %s", op, se.Message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Wrapf(ErrUnauthorized, "%s: %s", op, se.Message)
	case http.StatusConflict:
		if conflict != nil {
			return errors.Wrapf(conflict, "%s: %s", op, se.Message)
		}
	case http.StatusBadRequest:
		return errors.Wrapf(ErrValidation, "%s: %s", op, se.Message)
	}
	return errors.Wrap(err, op)
}
