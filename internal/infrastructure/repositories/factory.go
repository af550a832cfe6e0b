package repositories

import (
	"context"

	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/repositories/memory"
	redisrepo "voicemesh/internal/infrastructure/repositories/redis"
	"voicemesh/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory wires the in-process registries and, when Redis is enabled and
// reachable, the presence mirror. Registries are always in-memory: session
// state is runtime-only and dies with the process.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	f := &Factory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, presence mirror disabled", "error", err)
			f.useRedis = false
		} else {
			f.redisClient = client
		}
	}

	return f, nil
}

func (f *Factory) CreateSessionRepository() ports.SessionRepository {
	return memory.NewSessionRepository()
}

func (f *Factory) CreateConnectionRegistry() ports.ConnectionRegistry {
	return memory.NewConnectionRegistry()
}

// CreatePresenceMirror returns the Redis-backed mirror, or nil when Redis is
// disabled or unreachable.
func (f *Factory) CreatePresenceMirror(instanceID string) ports.PresenceMirror {
	if !f.useRedis || f.redisClient == nil {
		return nil
	}
	return redisrepo.NewPresenceMirror(f.redisClient, instanceID, f.cfg.Redis.PresenceTTL, f.logger)
}

// Close closes the Redis connection if used.
func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
