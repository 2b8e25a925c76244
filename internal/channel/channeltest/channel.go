// Package channeltest provides an in-memory channel.Channel for tests.
package channeltest

import (
	"encoding/json"
	"sync"

	"github.com/supportchat/internal/channel"
)

// Emitted is one recorded Emit call.
type Emitted struct {
	Event   string
	Payload any
}

// Channel records emits and lets tests deliver server events synchronously.
type Channel struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	nextID    int
	handlers  map[string]map[int]channel.Handler
	states    map[int]func(bool)
	emitted   []Emitted
}

var _ channel.Channel = (*Channel)(nil)

// New returns a connected channel.
func New() *Channel {
	return &Channel{
		connected: true,
		handlers:  make(map[string]map[int]channel.Handler),
		states:    make(map[int]func(bool)),
	}
}

func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channel.ErrClosed
	}
	c.emitted = append(c.emitted, Emitted{Event: event, Payload: payload})
	return nil
}

func (c *Channel) On(event string, fn channel.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]channel.Handler)
	}
	c.handlers[event][id] = fn
	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}
}

func (c *Channel) OnState(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.states[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.states, id)
		c.mu.Unlock()
	}
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetConnected flips the online flag and notifies state listeners.
func (c *Channel) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	fns := make([]func(bool), 0, len(c.states))
	for _, fn := range c.states {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Deliver marshals payload and hands it to every handler of event, as the server would.
func (c *Channel) Deliver(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	fns := make([]channel.Handler, 0, len(c.handlers[event]))
	for _, fn := range c.handlers[event] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(raw)
	}
}

// Handlers returns how many listeners are registered for event.
func (c *Channel) Handlers(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Emitted returns a copy of the recorded emits.
func (c *Channel) Emitted() []Emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Emitted, len(c.emitted))
	copy(out, c.emitted)
	return out
}

// EmittedFor returns the payloads emitted for event, in order.
func (c *Channel) EmittedFor(event string) []any {
	var out []any
	for _, e := range c.Emitted() {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Reset forgets recorded emits.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.emitted = nil
	c.mu.Unlock()
}
