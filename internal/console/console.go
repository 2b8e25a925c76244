// Package console is the agent side of the support chat: a directory of customer
// rooms fed by every inbound message and one active room the agent is typing into.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/supportchat/internal/api"
	"github.com/supportchat/internal/channel"
	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/metrics"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/notify"
	"github.com/supportchat/internal/room"
	"github.com/supportchat/internal/typing"
	"github.com/supportchat/internal/ws"
)

var (
	ErrNoActiveRoom = errors.New("console: no active room")
	ErrNotMounted   = errors.New("console: not mounted")
)

type Options struct {
	Room          room.Options
	TypingIdle    time.Duration
	DirectoryPoll time.Duration // 0 refreshes only on events
	Clock         typing.Clock
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Room:          room.OptionsFromConfig(cfg),
		TypingIdle:    cfg.TypingIdle,
		DirectoryPoll: cfg.DirectoryPoll,
	}
}

// Console multiplexes every customer room over the one channel of the process.
// Lifecycle: New -> Mount -> (Select | Send | Keystroke)* -> Unmount.
type Console struct {
	id      model.Identity
	mgr     *channel.Manager
	backend api.Backend
	ledger  *notify.Ledger
	opts    Options
	refresh chan struct{}

	mu        sync.Mutex
	ch        channel.Channel
	mounted   bool
	rooms     map[string]model.ChatRoom
	active    *room.Session
	typist    *typing.Controller
	offs      []func()
	stop      context.CancelFunc
	wg        sync.WaitGroup
	nextID    int
	listeners map[int]func()
}

func New(id model.Identity, mgr *channel.Manager, backend api.Backend, ledger *notify.Ledger, opts Options) *Console {
	if opts.Clock == nil {
		opts.Clock = typing.SystemClock
	}
	if opts.Room.Clock == nil {
		opts.Room.Clock = opts.Clock
	}
	return &Console{
		id:        id,
		mgr:       mgr,
		backend:   backend,
		ledger:    ledger,
		opts:      opts,
		refresh:   make(chan struct{}, 1),
		rooms:     make(map[string]model.ChatRoom),
		listeners: make(map[int]func()),
	}
}

// Mount subscribes to inbound messages of all rooms and loads the directory and the
// unread count. Fetch failures leave the directory empty.
func (c *Console) Mount(ctx context.Context) error {
	ch, err := c.mgr.GetChannel(ctx)
	if err != nil {
		return fmt.Errorf("console: channel: %w", err)
	}

	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.ch = ch
	c.mounted = true
	c.offs = []func(){
		ch.On(ws.EventReceiveMessage, func(data json.RawMessage) { c.onInbound(data, false) }),
		ch.On(ws.EventBotMessage, func(data json.RawMessage) { c.onInbound(data, true) }),
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.refreshLoop(loopCtx)

	c.RefreshRooms(ctx)
	c.ledger.FetchUnreadCount(ctx)
	logger.Infof("console: mounted for agent %s", c.id.UserID)
	return nil
}

// Unmount drops subscriptions, leaves the active room and stops background refreshes.
// Fetches already in flight finish but their results are discarded.
func (c *Console) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	offs, active, typist, stop := c.offs, c.active, c.typist, c.stop
	c.offs, c.active, c.typist, c.stop = nil, nil, nil, nil
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if typist != nil {
		typist.Stop()
	}
	if active != nil {
		active.Leave()
	}
	stop()
	c.wg.Wait()
	logger.Infof("console: unmounted")
}

// Select makes room the active one: it loads the history, joins, and marks the room
// read in the ledger, the store and on the channel.
func (c *Console) Select(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrNotMounted
	}
	prev, prevTypist := c.active, c.typist
	s := room.New(roomID, c.id, c.ch, c.backend, c.opts.Room)
	c.active = s
	c.typist = typing.NewController(c.ch, roomID, c.id.UserID, c.opts.TypingIdle, c.opts.Clock)
	entry := c.entry(roomID)
	entry.UnreadCount = 0
	c.rooms[roomID] = entry
	ch := c.ch
	c.mu.Unlock()

	if prev != nil {
		prevTypist.Sent()
		prev.Leave()
	}
	s.OnChange(c.changed)
	s.Subscribe()

	// History errors are already logged by the session; the view shows what it has.
	_, _ = s.LoadHistory(ctx)
	if err := s.Join(ctx); err != nil {
		return err
	}

	c.ledger.MarkRoomRead(ctx, roomID)
	if err := ch.Emit(ws.EventMarkRead, roomID); err != nil {
		logger.Errorf("console: mark %s read: %v", roomID, err)
	}
	c.requestRefresh()
	c.changed()
	return nil
}

// Send posts text to the active room and ends the typing burst.
func (c *Console) Send(ctx context.Context, text string) error {
	s, typist := c.current()
	if s == nil {
		return ErrNoActiveRoom
	}
	err := s.Send(ctx, text)
	typist.Sent()
	return err
}

// Keystroke feeds the typing controller of the active room.
func (c *Console) Keystroke() {
	if _, typist := c.current(); typist != nil {
		typist.Keystroke()
	}
}

// ActiveRoom returns the id of the active room, or "" before the first Select.
func (c *Console) ActiveRoom() string {
	if s, _ := c.current(); s != nil {
		return s.Room()
	}
	return ""
}

// ActiveTyping reports whether the customer of the active room is typing.
// Typing in other rooms is never surfaced.
func (c *Console) ActiveTyping() bool {
	s, _ := c.current()
	return s != nil && s.RemoteTyping()
}

// Messages returns the log of the active room.
func (c *Console) Messages() []model.ChatMessage {
	if s, _ := c.current(); s != nil {
		return s.Messages()
	}
	return nil
}

func (c *Console) Online() bool {
	return c.mgr.Connected()
}

// Rooms returns the directory, most recent activity first.
func (c *Console) Rooms() []model.ChatRoom {
	c.mu.Lock()
	rooms := lo.Values(c.rooms)
	c.mu.Unlock()
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].LastTimestamp.Equal(rooms[j].LastTimestamp) {
			return rooms[i].LastTimestamp.After(rooms[j].LastTimestamp)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// Room returns one directory entry.
func (c *Console) Room(id string) (model.ChatRoom, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[id]
	return r, ok
}

// RefreshRooms merges the store's directory into the local one. Fetched entries win;
// entries the store did not return are kept.
func (c *Console) RefreshRooms(ctx context.Context) {
	fetched, err := c.backend.Rooms(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("rooms").Inc()
		logger.Errorf("console: fetch rooms: %v", err)
		return
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	for _, r := range lo.UniqBy(fetched, func(r model.ChatRoom) string { return r.ID }) {
		if r.ID == "" {
			continue
		}
		c.rooms[r.ID] = r
	}
	c.mu.Unlock()
	c.changed()
}

// OnChange registers fn to run after the directory or the active room changes.
func (c *Console) OnChange(fn func()) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Console) onInbound(data json.RawMessage, bot bool) {
	var m model.ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Errorf("console: bad message payload: %v", err)
		return
	}
	if m.Room == "" {
		return
	}
	if bot {
		m.IsBot = true
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	unseen := m.FromCustomer() && (c.active == nil || c.active.Room() != m.Room)
	c.rooms[m.Room] = c.entry(m.Room).Touch(m, unseen)
	c.mu.Unlock()

	if unseen {
		c.ledger.AddNotification(model.NotificationFor(m))
	}
	c.changed()
	c.requestRefresh()
}

// entry must be called with mu held.
func (c *Console) entry(id string) model.ChatRoom {
	if r, ok := c.rooms[id]; ok {
		return r
	}
	return model.ChatRoom{ID: id}
}

func (c *Console) current() (*room.Session, *typing.Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.typist
}

// requestRefresh coalesces refresh requests; at most one is queued.
func (c *Console) requestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

func (c *Console) refreshLoop(ctx context.Context) {
	defer c.wg.Done()
	var tick <-chan time.Time
	if c.opts.DirectoryPoll > 0 {
		t := time.NewTicker(c.opts.DirectoryPoll)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.refresh:
		case <-tick:
		}
		c.RefreshRooms(ctx)
	}
}

func (c *Console) changed() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
