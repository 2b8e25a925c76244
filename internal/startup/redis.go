package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/supportchat/internal/logger"
	redisstorage "github.com/supportchat/internal/storage/redis"
)

// ConnectRedisWithRetry connects to Redis, retrying with backoff until maxWait has passed
// or ctx is done. logPrefix is prepended to log lines (for example "console: ").
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(attemptCtx, redisURL)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%sredis (gave up after %v): %w", logPrefix, maxWait, err)
		}
		logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
