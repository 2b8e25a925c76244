package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/supportchat/internal/storage"
)

const ledgerPrefix = "ledger:"

type Client struct {
	cli *redis.Client
}

var _ storage.LedgerStore = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SaveLedger stores the snapshot as JSON under ledger:{userID} and refreshes its TTL.
func (c *Client) SaveLedger(ctx context.Context, userID string, l storage.Ledger) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis marshal ledger: %w", err)
	}
	return c.cli.Set(ctx, ledgerPrefix+userID, data, storage.LedgerTTL).Err()
}

func (c *Client) LoadLedger(ctx context.Context, userID string) (storage.Ledger, bool, error) {
	val, err := c.cli.Get(ctx, ledgerPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.Ledger{}, false, nil
	}
	if err != nil {
		return storage.Ledger{}, false, err
	}
	var l storage.Ledger
	if err := json.Unmarshal(val, &l); err != nil {
		return storage.Ledger{}, false, fmt.Errorf("redis unmarshal ledger: %w", err)
	}
	return l, true, nil
}

func (c *Client) DeleteLedger(ctx context.Context, userID string) error {
	return c.cli.Del(ctx, ledgerPrefix+userID).Err()
}
