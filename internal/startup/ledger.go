package startup

import (
	"context"
	"time"

	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/storage"
	"github.com/supportchat/internal/storage/memory"
)

const redisMaxWait = 30 * time.Second

// OpenLedgerStore returns the redis snapshot store when REDIS_URL is set and the
// in-memory one otherwise.
func OpenLedgerStore(ctx context.Context, cfg *config.Config, logPrefix string) (storage.LedgerStore, error) {
	if cfg.RedisURL == "" {
		logger.Infof("%sledger snapshots in memory", logPrefix)
		return memory.New(), nil
	}
	client, err := ConnectRedisWithRetry(ctx, cfg.RedisURL, redisMaxWait, logPrefix)
	if err != nil {
		return nil, err
	}
	logger.Infof("%sredis connected", logPrefix)
	return client, nil
}
