package ports

import (
	"context"

	"voicemesh/internal/core/domain"
)

// JoinRequest carries everything the session service needs to admit one
// channel into a session.
type JoinRequest struct {
	ChannelID   domain.ChannelID
	SessionID   domain.SessionID
	Create      bool
	DisplayName string
	// Owner marks an authenticated returning owner, admitted as Host
	// regardless of the session default role.
	Owner bool
}

// SessionService is the control plane: join/leave, role and mute changes,
// session close, and the single channel teardown path.
type SessionService interface {
	Join(ctx context.Context, req JoinRequest) (*domain.Session, *domain.Participant, error)
	Leave(ctx context.Context, ch domain.ChannelID) error
	SetRole(ctx context.Context, ch domain.ChannelID, target domain.ParticipantID, role domain.Role) error
	SetMute(ctx context.Context, ch domain.ChannelID, target domain.ParticipantID, muted bool) error
	CloseSession(ctx context.Context, ch domain.ChannelID) error
	Heartbeat(ctx context.Context, ch domain.ChannelID) error

	// Teardown unbinds a channel and removes its participant, broadcasting
	// ParticipantLeft to the remaining members. Explicit leave, abrupt
	// transport close and the stale sweep all converge here.
	Teardown(ctx context.Context, ch domain.ChannelID, reason string) error
	// ReapSession removes a session that expired while empty. It goes
	// through the same close path as an explicit close, so presence mirror
	// state and gauges stay consistent.
	ReapSession(ctx context.Context, sessionID domain.SessionID)
	// Shutdown closes every active session through the teardown path.
	Shutdown(ctx context.Context)
}

// AudioRouter is the media plane: mix-minus fan-out of audio packets.
// Delivery is best-effort, at most once per recipient; failures are counted,
// never propagated to the sender.
type AudioRouter interface {
	Route(ctx context.Context, ch domain.ChannelID, packet *domain.AudioPacket) error
}

// PresenceMonitor periodically reaps stale channels, decays speaking flags
// and closes long-empty sessions.
type PresenceMonitor interface {
	Run(ctx context.Context)
}

// ChannelWriter is the outbound half of the host transport. Sends are
// best-effort and non-blocking: a slow or failed channel degrades only
// itself.
type ChannelWriter interface {
	SendEvent(ch domain.ChannelID, ev domain.Event)
	// SendAudio encodes the packet once and enqueues it on every listed
	// channel independently.
	SendAudio(chs []domain.ChannelID, packet *domain.AudioPacket)
	// CloseChannel asks the transport to close the underlying connection
	// after flushing frames already queued for it.
	CloseChannel(ch domain.ChannelID)
}

// Metrics is the sink for operational counters. The prometheus collector in
// internal/infrastructure/monitoring implements it.
type Metrics interface {
	SetSessionsActive(n int)
	SetParticipantsConnected(n int)
	IncControlMessages(kind string)
	AddPacketsRouted(n int)
	IncPacketsDropped(reason string)
	IncStaleChannelsReaped()
	ObserveFanoutSize(n int)
}
