package memory

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/utils"
)

// sessionState is the per-session isolation unit: all mutations of one
// session serialize on its mutex while different sessions proceed in
// parallel. The registry-level lock only guards the session map itself.
type sessionState struct {
	mu           sync.Mutex
	meta         domain.Session
	participants map[domain.ParticipantID]*domain.Participant
}

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionState
}

func NewSessionRepository() ports.SessionRepository {
	return &SessionRepository{
		sessions: make(map[domain.SessionID]*sessionState),
	}
}

func (r *SessionRepository) Create(ctx context.Context, requestedID domain.SessionID, creatorName string, defaultRole domain.Role, maxParticipants int) (*domain.Session, *domain.Participant, error) {
	if !domain.ValidRole(defaultRole) {
		return nil, nil, domain.ErrInvalidRole
	}

	id := requestedID
	if id == "" {
		id = domain.SessionID(utils.GenerateSessionID())
	}

	now := time.Now()
	creator := &domain.Participant{
		ID:          domain.ParticipantID(utils.GenerateParticipantID()),
		DisplayName: creatorName,
		Role:        domain.RoleHost,
		SSRC:        utils.GenerateSSRC(),
		JoinedAt:    now,
	}

	state := &sessionState{
		meta: domain.Session{
			ID:              id,
			CreatorID:       creator.ID,
			DefaultRole:     defaultRole,
			MaxParticipants: maxParticipants,
			CreatedAt:       now,
		},
		participants: map[domain.ParticipantID]*domain.Participant{
			creator.ID: creator,
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, nil, domain.ErrSessionExists
	}
	r.sessions[id] = state

	meta := state.meta
	return &meta, copyParticipant(creator), nil
}

func (r *SessionRepository) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	meta := state.meta
	return &meta, nil
}

func (r *SessionRepository) Remove(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *SessionRepository) Sessions(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	states := make([]*sessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		states = append(states, s)
	}
	r.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		meta := s.meta
		s.mu.Unlock()
		sessions = append(sessions, &meta)
	}
	return sessions, nil
}

func (r *SessionRepository) Join(ctx context.Context, id domain.SessionID, displayName string, roleOverride domain.Role) (*domain.Participant, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.meta.MaxParticipants > 0 && len(state.participants) >= state.meta.MaxParticipants {
		return nil, domain.ErrSessionFull
	}

	role := state.meta.DefaultRole
	if roleOverride != "" {
		if !domain.ValidRole(roleOverride) {
			return nil, domain.ErrInvalidRole
		}
		role = roleOverride
	}

	p := &domain.Participant{
		ID:          domain.ParticipantID(utils.GenerateParticipantID()),
		DisplayName: displayName,
		Role:        role,
		SSRC:        utils.GenerateSSRC(),
		JoinedAt:    time.Now(),
	}
	state.participants[p.ID] = p
	state.meta.EmptySince = time.Time{}

	return copyParticipant(p), nil
}

// Leave is idempotent: removing an absent participant is a no-op.
func (r *SessionRepository) Leave(ctx context.Context, id domain.SessionID, participantID domain.ParticipantID) (*domain.Participant, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	p, exists := state.participants[participantID]
	if !exists {
		return nil, nil
	}
	delete(state.participants, participantID)
	if len(state.participants) == 0 {
		state.meta.EmptySince = time.Now()
	}
	return copyParticipant(p), nil
}

func (r *SessionRepository) Participant(ctx context.Context, id domain.SessionID, participantID domain.ParticipantID) (*domain.Participant, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	p, exists := state.participants[participantID]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}
	return copyParticipant(p), nil
}

func (r *SessionRepository) Participants(ctx context.Context, id domain.SessionID) ([]*domain.Participant, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	out := make([]*domain.Participant, 0, len(state.participants))
	for _, p := range state.participants {
		out = append(out, copyParticipant(p))
	}
	return out, nil
}

func (r *SessionRepository) SetRole(ctx context.Context, id domain.SessionID, target domain.ParticipantID, role domain.Role) (*domain.Participant, error) {
	if !domain.ValidRole(role) {
		return nil, domain.ErrInvalidRole
	}

	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	p, exists := state.participants[target]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}
	p.Role = role
	return copyParticipant(p), nil
}

func (r *SessionRepository) SetMute(ctx context.Context, id domain.SessionID, target domain.ParticipantID, muted bool) (*domain.Participant, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	p, exists := state.participants[target]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}
	p.Muted = muted
	return copyParticipant(p), nil
}

func (r *SessionRepository) TouchAudio(ctx context.Context, id domain.SessionID, sender domain.ParticipantID, now time.Time) (bool, error) {
	state, err := r.state(id)
	if err != nil {
		return false, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	p, exists := state.participants[sender]
	if !exists {
		return false, domain.ErrParticipantNotFound
	}
	p.LastAudioAt = now
	if !p.Speaking {
		p.Speaking = true
		return true, nil
	}
	return false, nil
}

func (r *SessionRepository) SweepSpeaking(ctx context.Context, id domain.SessionID, hold time.Duration, now time.Time) ([]domain.ParticipantID, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	var silenced []domain.ParticipantID
	for _, p := range state.participants {
		if p.Speaking && now.Sub(p.LastAudioAt) >= hold {
			p.Speaking = false
			silenced = append(silenced, p.ID)
		}
	}
	return silenced, nil
}

func (r *SessionRepository) EmptySessions(ctx context.Context, emptyBefore time.Time) ([]domain.SessionID, error) {
	r.mu.RLock()
	states := make([]*sessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		states = append(states, s)
	}
	r.mu.RUnlock()

	var empty []domain.SessionID
	for _, s := range states {
		s.mu.Lock()
		if len(s.participants) == 0 && !s.meta.EmptySince.IsZero() && s.meta.EmptySince.Before(emptyBefore) {
			empty = append(empty, s.meta.ID)
		}
		s.mu.Unlock()
	}
	return empty, nil
}

func (r *SessionRepository) state(id domain.SessionID) (*sessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return state, nil
}

// copyParticipant returns a snapshot so callers never share the registry's
// mutable state.
func copyParticipant(p *domain.Participant) *domain.Participant {
	cp := *p
	return &cp
}
