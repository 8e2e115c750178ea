package repositories

import (
	"context"

	"rendezvous/internal/core/ports"
	"rendezvous/internal/infrastructure/repositories/memory"
	redisrepo "rendezvous/internal/infrastructure/repositories/redis"
	"rendezvous/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds the session stores. Live state is always kept in
// memory; Redis, when reachable, only receives a presence mirror.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, presence mirror disabled",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

func (f *RepositoryFactory) CreateConnectionRepository() ports.ConnectionRepository {
	return memory.NewMemoryConnectionRepository()
}

func (f *RepositoryFactory) CreateIdentityRegistry() ports.IdentityRegistry {
	return memory.NewMemoryIdentityRegistry()
}

// CreatePresenceMirror returns the Redis mirror when Redis is in use, with
// any snapshot from a previous run removed.
func (f *RepositoryFactory) CreatePresenceMirror(ctx context.Context) ports.PresenceMirror {
	if !f.UsingRedis() {
		f.logger.Info("using in-memory presence mirror")
		return memory.NewMemoryPresenceMirror()
	}

	mirror := redisrepo.NewRedisPresenceMirror(f.redisClient, redisrepo.MirrorConfig{
		KeyPrefix:   f.cfg.Redis.KeyPrefix,
		SnapshotTTL: f.cfg.Redis.SnapshotTTL,
	}, f.logger)
	if err := mirror.Clear(ctx); err != nil {
		f.logger.Warnw("failed to clear stale presence snapshot", "error", err)
	}
	f.logger.Infow("mirroring presence to Redis",
		"snapshot_key", mirror.SnapshotKey(),
		"channel", mirror.EventsChannel(),
	)
	return mirror
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient is nil unless Redis is in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.UsingRedis() {
		return nil
	}
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
