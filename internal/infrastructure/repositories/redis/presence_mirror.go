package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "voicemesh:presence:"

// PresenceMirror write-through mirrors participant presence into Redis so
// operators and sibling instances can see who is in which session. Keys
// carry a TTL, so even a crashed instance's entries age out. All operations
// are best-effort: mirror failures are logged, never propagated.
type PresenceMirror struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
	retryCfg   retry.Config
	logger     *zap.SugaredLogger
}

func NewPresenceMirror(client *redis.Client, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *PresenceMirror {
	return &PresenceMirror{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		retryCfg:   retry.DefaultConfig(),
		logger:     logger,
	}
}

type presenceRecord struct {
	Participant  *domain.Participant `json:"participant"`
	SessionID    domain.SessionID    `json:"session_id"`
	InstanceID   string              `json:"instance_id"`
	RegisteredAt int64               `json:"registered_at"`
}

func (m *PresenceMirror) RegisterParticipant(ctx context.Context, session domain.SessionID, p *domain.Participant) error {
	record := presenceRecord{
		Participant:  p,
		SessionID:    session,
		InstanceID:   m.instanceID,
		RegisteredAt: time.Now().Unix(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	err = retry.Do(ctx, m.retryCfg, func() error {
		pipe := m.client.TxPipeline()
		pipe.Set(ctx, m.participantKey(session, p.ID), data, m.ttl)
		pipe.SAdd(ctx, m.sessionKey(session), string(p.ID))
		pipe.Expire(ctx, m.sessionKey(session), m.ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		m.logger.Warnw("presence mirror register failed",
			"session_id", session, "participant_id", p.ID, "error", err)
	}
	return err
}

func (m *PresenceMirror) UnregisterParticipant(ctx context.Context, session domain.SessionID, participant domain.ParticipantID) error {
	err := retry.Do(ctx, m.retryCfg, func() error {
		pipe := m.client.TxPipeline()
		pipe.Del(ctx, m.participantKey(session, participant))
		pipe.SRem(ctx, m.sessionKey(session), string(participant))
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		m.logger.Warnw("presence mirror unregister failed",
			"session_id", session, "participant_id", participant, "error", err)
	}
	return err
}

func (m *PresenceMirror) UnregisterSession(ctx context.Context, session domain.SessionID) error {
	err := retry.Do(ctx, m.retryCfg, func() error {
		members, err := m.client.SMembers(ctx, m.sessionKey(session)).Result()
		if err != nil {
			return err
		}
		pipe := m.client.TxPipeline()
		for _, member := range members {
			pipe.Del(ctx, m.participantKey(session, domain.ParticipantID(member)))
		}
		pipe.Del(ctx, m.sessionKey(session))
		_, err = pipe.Exec(ctx)
		return err
	})
	if err != nil {
		m.logger.Warnw("presence mirror session cleanup failed",
			"session_id", session, "error", err)
	}
	return err
}

func (m *PresenceMirror) participantKey(session domain.SessionID, participant domain.ParticipantID) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, session, participant)
}

func (m *PresenceMirror) sessionKey(session domain.SessionID) string {
	return fmt.Sprintf("%ssession:%s", keyPrefix, session)
}

var _ ports.PresenceMirror = (*PresenceMirror)(nil)
