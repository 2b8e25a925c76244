package typing

import (
	"sync"
	"time"

	"github.com/supportchat/internal/model"
)

// DefaultExpiry clears a remote typing flag whose typing:false never arrived.
const DefaultExpiry = 6 * time.Second

// Indicator holds the latest remote typing state per room. The latest event always
// replaces the previous one.
type Indicator struct {
	expiry time.Duration
	now    func() time.Time

	mu     sync.Mutex
	states map[string]model.TypingState
}

func NewIndicator(expiry time.Duration, now func() time.Time) *Indicator {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &Indicator{expiry: expiry, now: now, states: make(map[string]model.TypingState)}
}

func (i *Indicator) Observe(room string, isTyping bool) {
	i.mu.Lock()
	i.states[room] = model.TypingState{Room: room, IsTyping: isTyping, At: i.now()}
	i.mu.Unlock()
}

// IsTyping reports the remote flag of room, treating stale flags as false.
func (i *Indicator) IsTyping(room string) bool {
	st, ok := i.State(room)
	return ok && st.IsTyping
}

// State returns the live state of room. Expired entries are dropped.
func (i *Indicator) State(room string) (model.TypingState, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.states[room]
	if !ok {
		return model.TypingState{}, false
	}
	if i.now().Sub(st.At) > i.expiry {
		delete(i.states, room)
		return model.TypingState{}, false
	}
	return st, true
}

func (i *Indicator) Forget(room string) {
	i.mu.Lock()
	delete(i.states, room)
	i.mu.Unlock()
}
