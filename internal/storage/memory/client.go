package memory

import (
	"context"
	"sync"
	"time"

	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

type item struct {
	val storage.Ledger
	exp time.Time
}

type Client struct {
	mu      sync.RWMutex
	ttl     time.Duration
	ledgers map[string]item
}

var _ storage.LedgerStore = (*Client)(nil)

func New() *Client {
	return &Client{ttl: storage.LedgerTTL, ledgers: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SaveLedger(ctx context.Context, userID string, l storage.Ledger) error {
	l.Notifications = append([]model.Notification(nil), l.Notifications...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledgers[userID] = item{val: l, exp: time.Now().Add(c.ttl)}
	return nil
}

func (c *Client) LoadLedger(ctx context.Context, userID string) (storage.Ledger, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.ledgers[userID]
	if !ok || time.Now().After(v.exp) {
		return storage.Ledger{}, false, nil
	}
	l := v.val
	l.Notifications = append([]model.Notification(nil), l.Notifications...)
	return l, true, nil
}

func (c *Client) DeleteLedger(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ledgers, userID)
	return nil
}
