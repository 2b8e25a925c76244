// Package widget is the shopper side of the support chat: one room, keyed by the
// shopper's own user id, shown in a panel that can be opened and closed.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/supportchat/internal/api"
	"github.com/supportchat/internal/channel"
	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/notify"
	"github.com/supportchat/internal/room"
	"github.com/supportchat/internal/typing"
	"github.com/supportchat/internal/ws"
)

var ErrNotMounted = errors.New("widget: not mounted")

type Options struct {
	Room       room.Options
	TypingIdle time.Duration
	Clock      typing.Clock
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Room:       room.OptionsFromConfig(cfg),
		TypingIdle: cfg.TypingIdle,
	}
}

// Widget owns the shopper's room session. Replies that arrive while the panel is
// closed go to the ledger; opening the panel marks them read.
type Widget struct {
	id      model.Identity
	mgr     *channel.Manager
	backend api.Backend
	ledger  *notify.Ledger
	opts    Options

	mu      sync.Mutex
	ch      channel.Channel
	mounted bool
	open    bool
	session *room.Session
	typist  *typing.Controller
	offs    []func()
}

func New(id model.Identity, mgr *channel.Manager, backend api.Backend, ledger *notify.Ledger, opts Options) *Widget {
	if opts.Clock == nil {
		opts.Clock = typing.SystemClock
	}
	if opts.Room.Clock == nil {
		opts.Room.Clock = opts.Clock
	}
	return &Widget{id: id, mgr: mgr, backend: backend, ledger: ledger, opts: opts}
}

func (w *Widget) Room() string { return w.id.UserID }

// Mount joins the shopper's room, loads its history and the unread count.
func (w *Widget) Mount(ctx context.Context) error {
	if w.id.IsAgent {
		return fmt.Errorf("widget: %s is an agent", w.id.UserID)
	}
	ch, err := w.mgr.GetChannel(ctx)
	if err != nil {
		return fmt.Errorf("widget: channel: %w", err)
	}

	w.mu.Lock()
	if w.mounted {
		w.mu.Unlock()
		return nil
	}
	roomID := w.Room()
	s := room.New(roomID, w.id, ch, w.backend, w.opts.Room)
	w.ch = ch
	w.session = s
	w.typist = typing.NewController(ch, roomID, w.id.UserID, w.opts.TypingIdle, w.opts.Clock)
	w.mounted = true
	w.offs = []func(){
		ch.On(ws.EventReceiveMessage, func(data json.RawMessage) { w.onInbound(data, false) }),
		ch.On(ws.EventBotMessage, func(data json.RawMessage) { w.onInbound(data, true) }),
	}
	w.mu.Unlock()

	if err := s.Join(ctx); err != nil {
		logger.Errorf("widget: join: %v", err)
	}
	_, _ = s.LoadHistory(ctx)
	w.ledger.FetchUnreadCount(ctx)
	logger.Infof("widget: mounted for %s", roomID)
	return nil
}

// Unmount drops every subscription and timer.
func (w *Widget) Unmount() {
	w.mu.Lock()
	if !w.mounted {
		w.mu.Unlock()
		return
	}
	w.mounted = false
	w.open = false
	offs, s, typist := w.offs, w.session, w.typist
	w.offs = nil
	w.mu.Unlock()

	for _, off := range offs {
		off()
	}
	typist.Stop()
	s.Leave()
}

// Open shows the panel and marks the room read.
func (w *Widget) Open(ctx context.Context) error {
	w.mu.Lock()
	if !w.mounted {
		w.mu.Unlock()
		return ErrNotMounted
	}
	w.open = true
	ch := w.ch
	w.mu.Unlock()

	w.ledger.MarkRoomRead(ctx, w.Room())
	if err := ch.Emit(ws.EventMarkRead, w.Room()); err != nil {
		logger.Errorf("widget: mark read: %v", err)
	}
	return nil
}

// Close hides the panel. The session stays joined.
func (w *Widget) Close() {
	w.mu.Lock()
	w.open = false
	w.mu.Unlock()
}

func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

func (w *Widget) Send(ctx context.Context, text string) error {
	s, typist := w.parts()
	if s == nil {
		return ErrNotMounted
	}
	err := s.Send(ctx, text)
	typist.Sent()
	return err
}

func (w *Widget) Keystroke() {
	if _, typist := w.parts(); typist != nil {
		typist.Keystroke()
	}
}

// AgentTyping reports whether an agent is typing in the shopper's room.
func (w *Widget) AgentTyping() bool {
	s, _ := w.parts()
	return s != nil && s.RemoteTyping()
}

func (w *Widget) Messages() []model.ChatMessage {
	if s, _ := w.parts(); s != nil {
		return s.Messages()
	}
	return nil
}

// OnChange forwards to the session; it is a no-op before Mount.
func (w *Widget) OnChange(fn func()) (off func()) {
	if s, _ := w.parts(); s != nil {
		return s.OnChange(fn)
	}
	return func() {}
}

func (w *Widget) Online() bool {
	return w.mgr.Connected()
}

func (w *Widget) Unread() int {
	return w.ledger.Count()
}

func (w *Widget) onInbound(data json.RawMessage, bot bool) {
	var m model.ChatMessage
	if err := json.Unmarshal(data, &m); err != nil || m.Room != w.Room() {
		return
	}
	if bot {
		m.IsBot = true
	}
	if m.FromCustomer() {
		return
	}
	w.mu.Lock()
	unseen := w.mounted && !w.open
	w.mu.Unlock()
	if unseen {
		w.ledger.AddNotification(model.NotificationFor(m))
	}
}

func (w *Widget) parts() (*room.Session, *typing.Controller) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.mounted {
		return nil, nil
	}
	return w.session, w.typist
}
