package dao

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyAssigned = errors.New("chat is already assigned or not unassigned")
	ErrChatClosed      = errors.New("chat is closed")
	ErrEmailTaken      = errors.New("email already registered")
)
