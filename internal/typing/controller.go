// Package typing turns local keystrokes into rate-limited typing signals and
// tracks the typing state of the remote party.
package typing

import (
	"sync"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/metrics"
	"github.com/supportchat/internal/ws"
)

// DefaultIdle is how long a burst lasts after the last keystroke.
const DefaultIdle = 3 * time.Second

// Emitter is the slice of channel.Channel the controller needs.
type Emitter interface {
	Emit(event string, payload any) error
	Connected() bool
}

type Timer interface {
	Stop() bool
}

// Clock schedules the idle timer.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock uses time.AfterFunc.
var SystemClock Clock = systemClock{}

// Controller emits one typing:true per burst and one typing:false when the burst ends,
// either after idle silence or on send.
type Controller struct {
	ch    Emitter
	room  string
	user  string
	idle  time.Duration
	clock Clock

	mu     sync.Mutex
	typing bool
	timer  Timer
	gen    uint64
}

func NewController(ch Emitter, room, user string, idle time.Duration, clock Clock) *Controller {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Controller{ch: ch, room: room, user: user, idle: idle, clock: clock}
}

// Keystroke starts a burst or extends the current one.
func (c *Controller) Keystroke() {
	c.mu.Lock()
	start := !c.typing
	c.typing = true
	c.rearm()
	c.mu.Unlock()
	if start {
		c.emit(true)
	}
}

// Sent ends the burst immediately because the message went out.
func (c *Controller) Sent() {
	c.mu.Lock()
	was := c.typing
	c.typing = false
	c.cancel()
	c.mu.Unlock()
	if was {
		c.emit(false)
	}
}

// Stop drops the pending timer without emitting. Used on teardown.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.typing = false
	c.cancel()
	c.mu.Unlock()
}

// Typing reports whether a burst is in progress.
func (c *Controller) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// rearm must be called with mu held.
func (c *Controller) rearm() {
	c.cancel()
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.idle, func() { c.expire(gen) })
}

// cancel must be called with mu held. Bumping gen disarms a timer that already fired
// but has not taken the lock yet.
func (c *Controller) cancel() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.typing {
		c.mu.Unlock()
		return
	}
	c.typing = false
	c.timer = nil
	c.mu.Unlock()
	c.emit(false)
}

func (c *Controller) emit(isTyping bool) {
	if !c.ch.Connected() {
		logger.Debugf("typing: offline, skipping signal for room %s", c.room)
		return
	}
	if err := c.ch.Emit(ws.EventTyping, ws.TypingPayload{Room: c.room, User: c.user, IsTyping: isTyping}); err != nil {
		logger.Errorf("typing: emit room=%s: %v", c.room, err)
		return
	}
	state := "stop"
	if isTyping {
		state = "start"
	}
	metrics.TypingEmitted.WithLabelValues(state).Inc()
}
