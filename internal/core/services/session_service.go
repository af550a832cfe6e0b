package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SessionConfig carries the session-level policy knobs.
type SessionConfig struct {
	DefaultRole     domain.Role
	MaxParticipants int
}

type sessionService struct {
	sessions ports.SessionRepository
	conns    ports.ConnectionRegistry
	writer   ports.ChannelWriter
	mirror   ports.PresenceMirror // may be nil
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
	cfg      SessionConfig
}

func NewSessionService(
	sessions ports.SessionRepository,
	conns ports.ConnectionRegistry,
	writer ports.ChannelWriter,
	mirror ports.PresenceMirror,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
	cfg SessionConfig,
) ports.SessionService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &sessionService{
		sessions: sessions,
		conns:    conns,
		writer:   writer,
		mirror:   mirror,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

func (s *sessionService) Join(ctx context.Context, req ports.JoinRequest) (*domain.Session, *domain.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "session.join")
	defer span.End()
	s.metrics.IncControlMessages("join")

	var (
		sess *domain.Session
		p    *domain.Participant
		err  error
	)

	if req.Create {
		sess, p, err = s.sessions.Create(ctx, req.SessionID, req.DisplayName, s.cfg.DefaultRole, s.cfg.MaxParticipants)
	} else {
		sess, err = s.sessions.Get(ctx, req.SessionID)
		if err == nil {
			// An authenticated returning owner is admitted as Host instead
			// of the session default.
			var override domain.Role
			if req.Owner {
				override = domain.RoleHost
			}
			p, err = s.sessions.Join(ctx, req.SessionID, req.DisplayName, override)
		}
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, nil, err
	}

	if err := s.conns.Bind(ctx, req.ChannelID, sess.ID, p.ID); err != nil {
		// Roll the participant back; the directory must not list members
		// without a live channel.
		s.sessions.Leave(ctx, sess.ID, p.ID)
		tracing.RecordError(ctx, err)
		return nil, nil, fmt.Errorf("failed to bind channel: %w", err)
	}

	tracing.AddSpanAttributes(ctx,
		attribute.String("session_id", string(sess.ID)),
		attribute.String("participant_id", string(p.ID)),
	)

	// State is committed above; notifications follow.
	s.broadcast(ctx, sess.ID, domain.ParticipantJoined{
		SessionID:   sess.ID,
		Participant: participantInfo(p),
	}, req.ChannelID)

	roster, _ := s.sessions.Participants(ctx, sess.ID)
	accepted := domain.JoinAccepted{
		SessionID:     sess.ID,
		ParticipantID: p.ID,
		Role:          p.Role,
		SSRC:          p.SSRC,
		Roster:        make([]domain.ParticipantInfo, 0, len(roster)),
	}
	for _, member := range roster {
		accepted.Roster = append(accepted.Roster, participantInfo(member))
	}
	s.writer.SendEvent(req.ChannelID, accepted)

	if s.mirror != nil {
		mp := *p
		go s.mirror.RegisterParticipant(context.Background(), sess.ID, &mp)
	}

	s.logger.Infow("participant joined",
		"session_id", sess.ID,
		"participant_id", p.ID,
		"role", p.Role,
		"channel_id", req.ChannelID,
		"created", req.Create,
	)
	s.updateGauges(ctx)
	return sess, p, nil
}

func (s *sessionService) Leave(ctx context.Context, ch domain.ChannelID) error {
	s.metrics.IncControlMessages("leave")
	return s.Teardown(ctx, ch, "leave")
}

func (s *sessionService) SetRole(ctx context.Context, ch domain.ChannelID, target domain.ParticipantID, role domain.Role) error {
	ctx, span := tracing.StartSpan(ctx, "session.set_role")
	defer span.End()
	s.metrics.IncControlMessages("set_role")

	sessionID, requester, err := s.conns.Lookup(ctx, ch)
	if err != nil {
		return err
	}
	reqP, err := s.sessions.Participant(ctx, sessionID, requester)
	if err != nil {
		return err
	}
	if !domain.Can(reqP.Role, domain.ActionChangeRole) {
		return domain.ErrUnauthorized
	}

	updated, err := s.sessions.SetRole(ctx, sessionID, target, role)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	s.broadcast(ctx, sessionID, domain.RoleChanged{
		SessionID:     sessionID,
		ParticipantID: updated.ID,
		Role:          updated.Role,
		ChangedBy:     requester,
	}, "")
	s.logger.Infow("role changed",
		"session_id", sessionID, "participant_id", target, "role", role, "changed_by", requester)
	return nil
}

func (s *sessionService) SetMute(ctx context.Context, ch domain.ChannelID, target domain.ParticipantID, muted bool) error {
	ctx, span := tracing.StartSpan(ctx, "session.set_mute")
	defer span.End()
	s.metrics.IncControlMessages("set_mute")

	sessionID, requester, err := s.conns.Lookup(ctx, ch)
	if err != nil {
		return err
	}
	reqP, err := s.sessions.Participant(ctx, sessionID, requester)
	if err != nil {
		return err
	}

	// Self-mute is always allowed; muting someone else needs the gate.
	action := domain.ActionSelfMute
	if requester != target {
		action = domain.ActionMuteOthers
	}
	if !domain.Can(reqP.Role, action) {
		return domain.ErrUnauthorized
	}

	updated, err := s.sessions.SetMute(ctx, sessionID, target, muted)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	s.broadcast(ctx, sessionID, domain.MuteChanged{
		SessionID:     sessionID,
		ParticipantID: updated.ID,
		Muted:         updated.Muted,
		ChangedBy:     requester,
	}, "")
	return nil
}

func (s *sessionService) CloseSession(ctx context.Context, ch domain.ChannelID) error {
	ctx, span := tracing.StartSpan(ctx, "session.close")
	defer span.End()
	s.metrics.IncControlMessages("close_session")

	sessionID, requester, err := s.conns.Lookup(ctx, ch)
	if err != nil {
		return err
	}
	reqP, err := s.sessions.Participant(ctx, sessionID, requester)
	if err != nil {
		return err
	}
	if !domain.Can(reqP.Role, domain.ActionCloseSession) {
		return domain.ErrUnauthorized
	}

	s.closeSession(ctx, sessionID, requester)
	return nil
}

func (s *sessionService) Heartbeat(ctx context.Context, ch domain.ChannelID) error {
	return s.conns.Heartbeat(ctx, ch, time.Now())
}

// Teardown is the single cleanup path. Explicit leave, abrupt transport
// close and the stale-connection sweep all end up here.
func (s *sessionService) Teardown(ctx context.Context, ch domain.ChannelID, reason string) error {
	return s.teardownChannel(ctx, ch, reason, true)
}

func (s *sessionService) ReapSession(ctx context.Context, sessionID domain.SessionID) {
	s.closeSession(ctx, sessionID, "")
}

func (s *sessionService) Shutdown(ctx context.Context) {
	sessions, err := s.sessions.Sessions(ctx)
	if err != nil {
		s.logger.Errorw("failed to list sessions for shutdown", "error", err)
		return
	}
	for _, sess := range sessions {
		s.closeSession(ctx, sess.ID, "")
	}
}

func (s *sessionService) teardownChannel(ctx context.Context, ch domain.ChannelID, reason string, notifyPeers bool) error {
	sessionID, participantID, err := s.conns.Unbind(ctx, ch)
	if errors.Is(err, domain.ErrChannelNotFound) {
		// Already torn down; leave is idempotent.
		return nil
	}
	if err != nil {
		return err
	}

	p, err := s.sessions.Leave(ctx, sessionID, participantID)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.logger.Warnw("failed to remove participant during teardown",
			"session_id", sessionID, "participant_id", participantID, "error", err)
	}

	if notifyPeers && p != nil {
		s.broadcast(ctx, sessionID, domain.ParticipantLeft{
			SessionID:     sessionID,
			ParticipantID: participantID,
		}, "")
	}

	s.writer.CloseChannel(ch)

	if s.mirror != nil {
		go s.mirror.UnregisterParticipant(context.Background(), sessionID, participantID)
	}

	s.logger.Infow("channel torn down",
		"channel_id", ch,
		"session_id", sessionID,
		"participant_id", participantID,
		"reason", reason,
	)
	s.updateGauges(ctx)
	return nil
}

// closeSession tears down every channel, notifies members and removes the
// session. Channel cleanup goes through the same unbind path as leave.
func (s *sessionService) closeSession(ctx context.Context, sessionID domain.SessionID, closedBy domain.ParticipantID) {
	channels, err := s.conns.ChannelsInSession(ctx, sessionID)
	if err != nil {
		s.logger.Warnw("failed to list channels for session close",
			"session_id", sessionID, "error", err)
	}
	for _, ch := range channels {
		s.writer.SendEvent(ch, domain.SessionClosed{SessionID: sessionID})
		s.teardownChannel(ctx, ch, "session closed", false)
	}

	if err := s.sessions.Remove(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.logger.Warnw("failed to remove session", "session_id", sessionID, "error", err)
	}
	if s.mirror != nil {
		go s.mirror.UnregisterSession(context.Background(), sessionID)
	}

	s.logger.Infow("session closed", "session_id", sessionID, "closed_by", closedBy)
	s.updateGauges(ctx)
}

// broadcast fans an event out to every channel in the session except the
// one listed in exclude. The same per-channel queues carry audio and
// events, so ordering between a state change and its notification holds
// per recipient.
func (s *sessionService) broadcast(ctx context.Context, sessionID domain.SessionID, ev domain.Event, exclude domain.ChannelID) {
	channels, err := s.conns.ChannelsInSession(ctx, sessionID)
	if err != nil {
		s.logger.Warnw("failed to list channels for broadcast",
			"session_id", sessionID, "event", ev.EventType(), "error", err)
		return
	}
	for _, ch := range channels {
		if ch == exclude {
			continue
		}
		s.writer.SendEvent(ch, ev)
	}
}

func (s *sessionService) updateGauges(ctx context.Context) {
	sessions, err := s.sessions.Sessions(ctx)
	if err != nil {
		return
	}
	total := 0
	for _, sess := range sessions {
		if ps, err := s.sessions.Participants(ctx, sess.ID); err == nil {
			total += len(ps)
		}
	}
	s.metrics.SetSessionsActive(len(sessions))
	s.metrics.SetParticipantsConnected(total)
}

func participantInfo(p *domain.Participant) domain.ParticipantInfo {
	return domain.ParticipantInfo{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Muted:       p.Muted,
		Speaking:    p.Speaking,
		SSRC:        p.SSRC,
	}
}
