package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/supportchat/internal/channel"
	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/metrics"
	"github.com/supportchat/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufSize    = 256
)

// ErrBufferFull is returned by Emit when the send buffer cannot take more events.
var ErrBufferFull = errors.New("ws: send buffer full")

// Policy bounds reconnection. Attempts == 0 retries forever.
// The delay doubles after each failed dial, capped at MaxDelay.
type Policy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

func (p Policy) next(d time.Duration) time.Duration {
	if p.MaxDelay <= p.Delay {
		return p.Delay
	}
	d *= 2
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type Options struct {
	URL        string
	Identity   model.Identity
	Policy     Policy
	SendBuffer int
	Dialer     *websocket.Dialer
}

// OptionsFromConfig maps the client config onto transport options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:      cfg.ServerURL,
		Identity: cfg.Identity(),
		Policy: Policy{
			Attempts: cfg.ReconnectAttempts,
			Delay:    cfg.ReconnectDelay,
			MaxDelay: cfg.ReconnectMaxDelay,
		},
		SendBuffer: cfg.SendBuffer,
	}
}

// Conn is a self-reconnecting websocket channel.
// Lifecycle: Dial -> run [dial -> readPump + writePump -> backoff]* -> Close.
// Events of one connection are dispatched in arrival order from the read goroutine.
type Conn struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	policy Policy
	send   chan []byte

	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]channel.Handler
	states   map[uint64]func(bool)

	connected atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	wg        sync.WaitGroup
}

var _ channel.Channel = (*Conn)(nil)

// Dial validates opts and starts connecting in the background. It does not wait for the socket.
func Dial(_ context.Context, opts Options) (*Conn, error) {
	u, err := endpoint(opts.URL, opts.Identity)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if opts.Identity.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Identity.Token)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: writeWait}
	}
	buf := opts.SendBuffer
	if buf <= 0 {
		buf = sendBufSize
	}
	policy := opts.Policy
	if policy.Delay <= 0 {
		policy.Delay = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		url:      u,
		header:   header,
		dialer:   dialer,
		policy:   policy,
		send:     make(chan []byte, buf),
		handlers: make(map[string]map[uint64]channel.Handler),
		states:   make(map[uint64]func(bool)),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.wg.Add(1)
	go c.run(ctx)
	return c, nil
}

// Dialer adapts Dial to channel.Dialer.
func Dialer(opts Options) channel.Dialer {
	return func(ctx context.Context) (channel.Channel, error) {
		c, err := Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func endpoint(raw string, id model.Identity) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("ws: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("ws: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	if id.UserID != "" {
		q.Set("userId", id.UserID)
	}
	q.Set("isAdmin", strconv.FormatBool(id.IsAgent))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Emit queues an event for the write pump. Events queued while offline are sent after reconnect.
func (c *Conn) Emit(event string, payload any) error {
	if c.ctx.Err() != nil {
		return channel.ErrClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("ws: marshal envelope: %w", err)
	}
	select {
	case c.send <- frame:
		return nil
	default:
		metrics.EmitsDropped.Inc()
		logger.Errorf("ws: send buffer full, dropping %s", event)
		return ErrBufferFull
	}
}

func (c *Conn) On(event string, fn channel.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]channel.Handler)
	}
	c.handlers[event][id] = fn
	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}
}

func (c *Conn) OnState(fn func(bool)) func() {
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

func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// Close stops reconnecting and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.setConnected(false)
	})
	return nil
}

func (c *Conn) setConnected(v bool) {
	if c.connected.Swap(v) == v {
		return
	}
	if v {
		metrics.ChannelConnected.Set(1)
	} else {
		metrics.ChannelConnected.Set(0)
	}
	c.mu.Lock()
	fns := make([]func(bool), 0, len(c.states))
	for _, fn := range c.states {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()
	delay := c.policy.Delay
	failures := 0
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if c.policy.Attempts > 0 && failures > c.policy.Attempts {
				logger.Errorf("ws: giving up after %d attempts: %v", c.policy.Attempts, err)
				return
			}
			logger.Errorf("ws: dial failed, retry in %v: %v", delay, err)
			if !sleep(ctx, delay) {
				return
			}
			metrics.ChannelReconnects.Inc()
			delay = c.policy.next(delay)
			continue
		}

		failures = 0
		delay = c.policy.Delay
		logger.Infof("ws: connected to %s", c.url)
		c.setConnected(true)
		c.serve(ctx, conn)
		c.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("ws: connection lost, reconnecting in %v", delay)
		if !sleep(ctx, delay) {
			return
		}
		metrics.ChannelReconnects.Inc()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// serve runs both pumps for one socket and returns once the socket is gone.
func (c *Conn) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(connCtx, conn)
	}()
	c.readPump(connCtx, conn)
	cancel()
	conn.Close()
	wg.Wait()
}

// readPump exits on read error, which conn.Close from writePump also triggers.
func (c *Conn) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws: set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws: read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("ws: unmarshal error: %v", err)
			continue
		}
		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env Envelope) {
	c.mu.Lock()
	fns := make([]channel.Handler, 0, len(c.handlers[env.Event]))
	for _, fn := range c.handlers[env.Event] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		c.call(env.Event, fn, env.Data)
	}
}

// call keeps a panicking handler from taking the read loop down.
func (c *Conn) call(event string, fn channel.Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws: handler for %s panicked: %v", event, r)
		}
	}()
	fn(data)
}

// writePump drains the send buffer. A frame taken from the buffer when the socket
// fails is lost; delivery is at-most-once.
func (c *Conn) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client close"))
			return
		case frame := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws: set write deadline: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Errorf("ws: write error: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws: set write deadline: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
