package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidParticipants = errors.New("conversation needs exactly two distinct participants")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrPersistence         = errors.New("persistence failure")
)
