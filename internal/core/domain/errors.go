package domain

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrChannelNotFound     = errors.New("channel not found")
	ErrChannelConflict     = errors.New("channel already bound")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSessionFull         = errors.New("session full")
	ErrSessionExists       = errors.New("session already exists")
	ErrInvalidRole         = errors.New("invalid role")
)
