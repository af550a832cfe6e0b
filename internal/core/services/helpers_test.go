package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/core/services"
	"voicemesh/internal/infrastructure/repositories/memory"
	"voicemesh/pkg/logger"

	"github.com/stretchr/testify/require"
)

// fakeWriter records everything the services push out, standing in for the
// websocket transport.
type fakeWriter struct {
	mu     sync.Mutex
	events map[domain.ChannelID][]domain.Event
	audio  map[domain.ChannelID][]*domain.AudioPacket
	closed []domain.ChannelID
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		events: make(map[domain.ChannelID][]domain.Event),
		audio:  make(map[domain.ChannelID][]*domain.AudioPacket),
	}
}

func (w *fakeWriter) SendEvent(ch domain.ChannelID, ev domain.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events[ch] = append(w.events[ch], ev)
}

func (w *fakeWriter) SendAudio(chs []domain.ChannelID, packet *domain.AudioPacket) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *packet
	for _, ch := range chs {
		w.audio[ch] = append(w.audio[ch], &cp)
	}
}

func (w *fakeWriter) CloseChannel(ch domain.ChannelID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = append(w.closed, ch)
}

func (w *fakeWriter) eventTypes(ch domain.ChannelID) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, ev := range w.events[ch] {
		out = append(out, ev.EventType())
	}
	return out
}

func (w *fakeWriter) lastEvent(ch domain.ChannelID) domain.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	evs := w.events[ch]
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

func (w *fakeWriter) audioCount(ch domain.ChannelID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.audio[ch])
}

func (w *fakeWriter) wasClosed(ch domain.ChannelID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.closed {
		if c == ch {
			return true
		}
	}
	return false
}

// fakeMirror records presence mirror writes.
type fakeMirror struct {
	mu              sync.Mutex
	removedSessions []domain.SessionID
}

func (m *fakeMirror) RegisterParticipant(ctx context.Context, session domain.SessionID, p *domain.Participant) error {
	return nil
}

func (m *fakeMirror) UnregisterParticipant(ctx context.Context, session domain.SessionID, participant domain.ParticipantID) error {
	return nil
}

func (m *fakeMirror) UnregisterSession(ctx context.Context, session domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removedSessions = append(m.removedSessions, session)
	return nil
}

func (m *fakeMirror) sessionRemoved(id domain.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.removedSessions {
		if s == id {
			return true
		}
	}
	return false
}

// fixture wires the services against real in-memory registries.
type fixture struct {
	sessions ports.SessionRepository
	conns    ports.ConnectionRegistry
	writer   *fakeWriter
	svc      ports.SessionService
	router   ports.AudioRouter
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithMirror(t, nil)
}

func newFixtureWithMirror(t *testing.T, mirror ports.PresenceMirror) *fixture {
	t.Helper()

	sessions := memory.NewSessionRepository()
	conns := memory.NewConnectionRegistry()
	writer := newFakeWriter()
	log := logger.NewNop().Sugar()

	svc := services.NewSessionService(sessions, conns, writer, mirror, nil, log,
		services.SessionConfig{
			DefaultRole:     domain.RoleListener,
			MaxParticipants: 16,
		})
	router := services.NewAudioRouter(sessions, conns, writer, nil, log)

	return &fixture{
		sessions: sessions,
		conns:    conns,
		writer:   writer,
		svc:      svc,
		router:   router,
	}
}

// join admits a channel, creating the session when sessionID is empty, and
// returns the session and participant.
func (f *fixture) join(t *testing.T, ch domain.ChannelID, sessionID domain.SessionID, name string) (*domain.Session, *domain.Participant) {
	t.Helper()

	sess, p, err := f.svc.Join(context.Background(), ports.JoinRequest{
		ChannelID:   ch,
		SessionID:   sessionID,
		Create:      sessionID == "",
		DisplayName: name,
	})
	require.NoError(t, err)
	return sess, p
}

func (f *fixture) monitor(cfg services.PresenceConfig) *services.PresenceMonitor {
	return services.NewPresenceMonitor(f.sessions, f.conns, f.svc, f.writer, nil,
		logger.NewNop().Sugar(), cfg)
}

func testPresenceConfig() services.PresenceConfig {
	return services.PresenceConfig{
		SweepInterval: time.Second,
		StaleTimeout:  30 * time.Second,
		SpeakingHold:  500 * time.Millisecond,
		EmptyTTL:      time.Minute,
	}
}
