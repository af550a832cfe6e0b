package services

import (
	"context"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"go.uber.org/zap"
)

// PresenceConfig tunes the periodic sweep.
type PresenceConfig struct {
	SweepInterval time.Duration
	StaleTimeout  time.Duration
	SpeakingHold  time.Duration
	// EmptyTTL is how long a session may stay empty before it is reaped.
	// Zero disables empty-session reaping.
	EmptyTTL time.Duration
}

// PresenceMonitor periodically reaps channels that stopped heartbeating,
// decays speaking flags and closes long-empty sessions. Stale channels go
// through the exact same teardown path as an explicit leave.
type PresenceMonitor struct {
	sessions ports.SessionRepository
	conns    ports.ConnectionRegistry
	svc      ports.SessionService
	writer   ports.ChannelWriter
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
	cfg      PresenceConfig
}

func NewPresenceMonitor(
	sessions ports.SessionRepository,
	conns ports.ConnectionRegistry,
	svc ports.SessionService,
	writer ports.ChannelWriter,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
	cfg PresenceConfig,
) *PresenceMonitor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &PresenceMonitor{
		sessions: sessions,
		conns:    conns,
		svc:      svc,
		writer:   writer,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run sweeps until the context is cancelled.
func (m *PresenceMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOnce(ctx, time.Now())
		}
	}
}

// SweepOnce performs one sweep at the given instant.
func (m *PresenceMonitor) SweepOnce(ctx context.Context, now time.Time) {
	m.reapStale(ctx, now)
	m.decaySpeaking(ctx, now)
	m.reapEmpty(ctx, now)
}

func (m *PresenceMonitor) reapStale(ctx context.Context, now time.Time) {
	stale, err := m.conns.StaleChannels(ctx, now.Add(-m.cfg.StaleTimeout))
	if err != nil {
		m.logger.Errorw("stale channel scan failed", "error", err)
		return
	}
	for _, ch := range stale {
		m.logger.Infow("reaping stale channel", "channel_id", ch)
		if err := m.svc.Teardown(ctx, ch, "heartbeat timeout"); err != nil {
			m.logger.Warnw("stale channel teardown failed", "channel_id", ch, "error", err)
			continue
		}
		m.metrics.IncStaleChannelsReaped()
	}
}

func (m *PresenceMonitor) decaySpeaking(ctx context.Context, now time.Time) {
	sessions, err := m.sessions.Sessions(ctx)
	if err != nil {
		return
	}
	for _, sess := range sessions {
		silenced, err := m.sessions.SweepSpeaking(ctx, sess.ID, m.cfg.SpeakingHold, now)
		if err != nil {
			continue
		}
		for _, id := range silenced {
			m.broadcastSpeaking(ctx, sess.ID, id)
		}
	}
}

func (m *PresenceMonitor) reapEmpty(ctx context.Context, now time.Time) {
	if m.cfg.EmptyTTL <= 0 {
		return
	}
	empty, err := m.sessions.EmptySessions(ctx, now.Add(-m.cfg.EmptyTTL))
	if err != nil {
		return
	}
	// Reaping goes through the service close path so any presence mirror
	// entries are cleared along with the in-process state.
	for _, id := range empty {
		m.svc.ReapSession(ctx, id)
		m.logger.Infow("reaped empty session", "session_id", id)
	}
}

func (m *PresenceMonitor) broadcastSpeaking(ctx context.Context, sessionID domain.SessionID, participant domain.ParticipantID) {
	channels, err := m.conns.ChannelsInSession(ctx, sessionID)
	if err != nil {
		return
	}
	ev := domain.SpeakingChanged{
		SessionID:     sessionID,
		ParticipantID: participant,
		Speaking:      false,
	}
	for _, ch := range channels {
		m.writer.SendEvent(ch, ev)
	}
}

var _ ports.PresenceMonitor = (*PresenceMonitor)(nil)
