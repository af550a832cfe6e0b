package ports

import (
	"context"
	"time"

	"voicemesh/internal/core/domain"
)

// SessionRepository is the single source of truth for sessions and their
// participant directories. Implementations must serialize mutations per
// session while letting operations on different sessions proceed in
// parallel. Authorization is NOT enforced here; services consult the role
// gate before calling into the repository.
type SessionRepository interface {
	// Create allocates a session seeded with its creator as Host. A non-empty
	// requestedID is used verbatim and fails with domain.ErrSessionExists on
	// collision; otherwise an ID is generated.
	Create(ctx context.Context, requestedID domain.SessionID, creatorName string, defaultRole domain.Role, maxParticipants int) (*domain.Session, *domain.Participant, error)
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Remove(ctx context.Context, id domain.SessionID) error
	Sessions(ctx context.Context) ([]*domain.Session, error)

	// Join adds a participant with the session's default role, or the given
	// role override when non-empty. Fails with domain.ErrSessionFull at the
	// configured capacity limit.
	Join(ctx context.Context, id domain.SessionID, displayName string, roleOverride domain.Role) (*domain.Participant, error)
	// Leave is idempotent: removing an absent participant returns (nil, nil).
	Leave(ctx context.Context, id domain.SessionID, participantID domain.ParticipantID) (*domain.Participant, error)

	Participant(ctx context.Context, id domain.SessionID, participantID domain.ParticipantID) (*domain.Participant, error)
	Participants(ctx context.Context, id domain.SessionID) ([]*domain.Participant, error)

	SetRole(ctx context.Context, id domain.SessionID, target domain.ParticipantID, role domain.Role) (*domain.Participant, error)
	SetMute(ctx context.Context, id domain.SessionID, target domain.ParticipantID, muted bool) (*domain.Participant, error)

	// TouchAudio records audio activity for a sender and reports whether the
	// participant transitioned from silent to speaking.
	TouchAudio(ctx context.Context, id domain.SessionID, sender domain.ParticipantID, now time.Time) (bool, error)
	// SweepSpeaking clears the speaking flag of participants without audio
	// activity since the hold window and returns those that transitioned.
	SweepSpeaking(ctx context.Context, id domain.SessionID, hold time.Duration, now time.Time) ([]domain.ParticipantID, error)

	// EmptySessions returns sessions that have had no participants since
	// before the given deadline.
	EmptySessions(ctx context.Context, emptyBefore time.Time) ([]domain.SessionID, error)
}

// ConnectionRegistry binds transport channel identifiers to participant
// identities. A channel maps to at most one (session, participant) pair and
// a participant holds at most one channel per session.
type ConnectionRegistry interface {
	Bind(ctx context.Context, ch domain.ChannelID, session domain.SessionID, participant domain.ParticipantID) error
	// Unbind removes the mapping and returns the freed pair. This is the
	// single teardown entry used by explicit leave, session close and the
	// stale-connection sweep.
	Unbind(ctx context.Context, ch domain.ChannelID) (domain.SessionID, domain.ParticipantID, error)
	Lookup(ctx context.Context, ch domain.ChannelID) (domain.SessionID, domain.ParticipantID, error)
	ChannelsInSession(ctx context.Context, session domain.SessionID) ([]domain.ChannelID, error)

	Heartbeat(ctx context.Context, ch domain.ChannelID, now time.Time) error
	// StaleChannels returns channels whose last heartbeat is older than the
	// given deadline.
	StaleChannels(ctx context.Context, olderThan time.Time) ([]domain.ChannelID, error)
}

// PresenceMirror is an optional write-through mirror of participant presence
// in an external store, for cross-instance visibility. Failures must never
// affect the in-process registries.
type PresenceMirror interface {
	RegisterParticipant(ctx context.Context, session domain.SessionID, p *domain.Participant) error
	UnregisterParticipant(ctx context.Context, session domain.SessionID, participant domain.ParticipantID) error
	UnregisterSession(ctx context.Context, session domain.SessionID) error
}
