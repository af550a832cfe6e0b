package services

import (
	"context"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"go.uber.org/zap"
)

type audioRouter struct {
	sessions ports.SessionRepository
	conns    ports.ConnectionRegistry
	writer   ports.ChannelWriter
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
}

// NewAudioRouter builds the media-plane router. Routing is best-effort:
// nothing on this path returns a hard error to the sender.
func NewAudioRouter(
	sessions ports.SessionRepository,
	conns ports.ConnectionRegistry,
	writer ports.ChannelWriter,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) ports.AudioRouter {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &audioRouter{
		sessions: sessions,
		conns:    conns,
		writer:   writer,
		metrics:  metrics,
		logger:   logger,
	}
}

func (r *audioRouter) Route(ctx context.Context, ch domain.ChannelID, packet *domain.AudioPacket) error {
	sessionID, senderID, err := r.conns.Lookup(ctx, ch)
	if err != nil {
		// Audio on an unbound channel is dropped, never an error.
		r.logger.Warnw("audio packet on unbound channel", "channel_id", ch)
		r.metrics.IncPacketsDropped("unbound")
		return nil
	}

	sender, err := r.sessions.Participant(ctx, sessionID, senderID)
	if err != nil {
		r.metrics.IncPacketsDropped("no_participant")
		return nil
	}

	// Gate and mute checks happen before any state change. Denials are
	// silent: surfacing errors at media frequency would flood the client.
	if !domain.Can(sender.Role, domain.ActionSendAudio) {
		r.metrics.IncPacketsDropped("denied")
		return nil
	}
	if sender.Muted {
		r.metrics.IncPacketsDropped("muted")
		return nil
	}

	started, err := r.sessions.TouchAudio(ctx, sessionID, senderID, time.Now())
	if err == nil && started {
		// Edge-triggered: one broadcast per silence-to-speaking transition,
		// not per packet. The return to silence is swept by the presence
		// monitor.
		r.broadcastSpeaking(ctx, sessionID, senderID, true)
	}

	channels, err := r.conns.ChannelsInSession(ctx, sessionID)
	if err != nil {
		r.metrics.IncPacketsDropped("no_session")
		return nil
	}

	// Mix-minus: everyone but the sender.
	targets := make([]domain.ChannelID, 0, len(channels))
	for _, target := range channels {
		if target != ch {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	packet.SenderID = senderID
	packet.SSRC = sender.SSRC
	r.writer.SendAudio(targets, packet)

	r.metrics.AddPacketsRouted(len(targets))
	r.metrics.ObserveFanoutSize(len(targets))
	return nil
}

func (r *audioRouter) broadcastSpeaking(ctx context.Context, sessionID domain.SessionID, participant domain.ParticipantID, speaking bool) {
	channels, err := r.conns.ChannelsInSession(ctx, sessionID)
	if err != nil {
		return
	}
	ev := domain.SpeakingChanged{
		SessionID:     sessionID,
		ParticipantID: participant,
		Speaking:      speaking,
	}
	for _, ch := range channels {
		r.writer.SendEvent(ch, ev)
	}
}
