package domain

import (
	"time"
)

type SessionID string
type ParticipantID string
type ChannelID string

// Session is a logical room/call. Mutable per-session state (participants,
// channels) is owned by the registries; this struct carries session metadata.
type Session struct {
	ID              SessionID
	CreatorID       ParticipantID
	DefaultRole     Role
	MaxParticipants int
	CreatedAt       time.Time
	// EmptySince is the moment the last participant left, zero while the
	// session has at least one participant. Used by the presence sweep to
	// reap long-empty sessions.
	EmptySince time.Time
}
