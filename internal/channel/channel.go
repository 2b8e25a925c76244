// Package channel defines the push channel the messaging core talks through
// and the Manager that owns the single live handle of a process.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/supportchat/internal/logger"
)

// ErrClosed is returned when emitting on a channel that was shut down.
var ErrClosed = errors.New("channel closed")

// Handler receives the raw data of one event.
type Handler func(data json.RawMessage)

// Channel is a persistent bidirectional event channel.
// Emit is at-most-once: a nil error means the event was accepted by the transport, not delivered.
type Channel interface {
	Emit(event string, payload any) error
	On(event string, fn Handler) (off func())
	OnState(fn func(connected bool)) (off func())
	Connected() bool
	Close() error
}

// Dialer creates a channel. It should return quickly and connect in the background;
// an error means the channel cannot exist at all (bad URL, bad config).
type Dialer func(ctx context.Context) (Channel, error)

// Manager owns at most one channel per process.
// Lifecycle: NewManager -> Connect/GetChannel (memoised) -> Disconnect -> Connect (fresh handle).
type Manager struct {
	dial Dialer

	mu sync.Mutex
	ch Channel
}

func NewManager(dial Dialer) *Manager {
	return &Manager{dial: dial}
}

// Connect returns the live channel, dialing it on first use.
func (m *Manager) Connect(ctx context.Context) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch != nil {
		return m.ch, nil
	}
	ch, err := m.dial(ctx)
	if err != nil {
		logger.Errorf("channel: dial: %v", err)
		return nil, err
	}
	m.ch = ch
	logger.Info("channel: created")
	return ch, nil
}

// GetChannel is Connect under the name views use when they only need the handle.
func (m *Manager) GetChannel(ctx context.Context) (Channel, error) {
	return m.Connect(ctx)
}

// Disconnect tears the channel down. A later Connect creates a new one.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	ch := m.ch
	m.ch = nil
	m.mu.Unlock()
	if ch == nil {
		return nil
	}
	logger.Info("channel: disconnected")
	return ch.Close()
}

// Connected reports whether a channel exists and is currently online.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	return ch != nil && ch.Connected()
}
