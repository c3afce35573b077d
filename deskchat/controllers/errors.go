package controllers

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrValidation         = errors.New("invalid request")
	ErrForbidden          = errors.New("chat is not assigned to this agent")
)
