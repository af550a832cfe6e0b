package memory

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
)

type binding struct {
	session     domain.SessionID
	participant domain.ParticipantID
	lastBeat    time.Time
}

type memberKey struct {
	session     domain.SessionID
	participant domain.ParticipantID
}

// ConnectionRegistry maps transport channels to (session, participant)
// pairs. Channel lifecycle is short and registry operations are cheap map
// mutations, so a single RWMutex is enough here; per-session isolation
// applies to the participant directory, not to channel bookkeeping.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	channels  map[domain.ChannelID]*binding
	byMember  map[memberKey]domain.ChannelID
	bySession map[domain.SessionID]map[domain.ChannelID]struct{}
}

func NewConnectionRegistry() ports.ConnectionRegistry {
	return &ConnectionRegistry{
		channels:  make(map[domain.ChannelID]*binding),
		byMember:  make(map[memberKey]domain.ChannelID),
		bySession: make(map[domain.SessionID]map[domain.ChannelID]struct{}),
	}
}

func (r *ConnectionRegistry) Bind(ctx context.Context, ch domain.ChannelID, session domain.SessionID, participant domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[ch]; exists {
		return domain.ErrChannelConflict
	}
	key := memberKey{session: session, participant: participant}
	if _, exists := r.byMember[key]; exists {
		return domain.ErrChannelConflict
	}

	r.channels[ch] = &binding{
		session:     session,
		participant: participant,
		lastBeat:    time.Now(),
	}
	r.byMember[key] = ch
	if _, ok := r.bySession[session]; !ok {
		r.bySession[session] = make(map[domain.ChannelID]struct{})
	}
	r.bySession[session][ch] = struct{}{}
	return nil
}

func (r *ConnectionRegistry) Unbind(ctx context.Context, ch domain.ChannelID) (domain.SessionID, domain.ParticipantID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.channels[ch]
	if !exists {
		return "", "", domain.ErrChannelNotFound
	}

	delete(r.channels, ch)
	delete(r.byMember, memberKey{session: b.session, participant: b.participant})
	if chans, ok := r.bySession[b.session]; ok {
		delete(chans, ch)
		if len(chans) == 0 {
			delete(r.bySession, b.session)
		}
	}
	return b.session, b.participant, nil
}

func (r *ConnectionRegistry) Lookup(ctx context.Context, ch domain.ChannelID) (domain.SessionID, domain.ParticipantID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.channels[ch]
	if !exists {
		return "", "", domain.ErrChannelNotFound
	}
	return b.session, b.participant, nil
}

func (r *ConnectionRegistry) ChannelsInSession(ctx context.Context, session domain.SessionID) ([]domain.ChannelID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chans := r.bySession[session]
	out := make([]domain.ChannelID, 0, len(chans))
	for ch := range chans {
		out = append(out, ch)
	}
	return out, nil
}

func (r *ConnectionRegistry) Heartbeat(ctx context.Context, ch domain.ChannelID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.channels[ch]
	if !exists {
		return domain.ErrChannelNotFound
	}
	b.lastBeat = now
	return nil
}

func (r *ConnectionRegistry) StaleChannels(ctx context.Context, olderThan time.Time) ([]domain.ChannelID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []domain.ChannelID
	for ch, b := range r.channels {
		if b.lastBeat.Before(olderThan) {
			stale = append(stale, ch)
		}
	}
	return stale, nil
}
