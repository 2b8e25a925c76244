package storage

import (
	"context"
	"time"

	"github.com/supportchat/internal/model"
)

// LedgerTTL is how long an untouched ledger snapshot is kept.
const LedgerTTL = 7 * 24 * time.Hour

// Ledger is the persisted state of one user's notification ledger.
type Ledger struct {
	Count         int                  `json:"count"`
	Notifications []model.Notification `json:"notifications"`
	SavedAt       time.Time            `json:"savedAt"`
}

// LedgerStore keeps ledger snapshots between views and restarts.
// Implementations: redis.Client (shared between processes), memory.Client (single process).
// Load reports ok=false when nothing is stored for userID.
type LedgerStore interface {
	SaveLedger(ctx context.Context, userID string, l Ledger) error
	LoadLedger(ctx context.Context, userID string) (l Ledger, ok bool, err error)
	DeleteLedger(ctx context.Context, userID string) error
	Close() error
}
