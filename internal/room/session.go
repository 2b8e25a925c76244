package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supportchat/internal/channel"
	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/metrics"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/typing"
	"github.com/supportchat/internal/ws"
)

var (
	// ErrNotJoined is returned by Send before the room has been joined.
	ErrNotJoined = errors.New("room: not joined")
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("room: empty message")
)

// HistoryFetcher is the part of the store a session reads from.
type HistoryFetcher interface {
	History(ctx context.Context, room string) ([]model.ChatMessage, error)
}

type State int

const (
	Unjoined State = iota
	Joining
	Joined
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	default:
		return "unjoined"
	}
}

type Options struct {
	Proximity      time.Duration
	AckTimeout     time.Duration // 0 disables ack tracking
	SendRetries    int
	RequireJoinAck bool
	Optimistic     bool
	TypingExpiry   time.Duration
	Clock          typing.Clock
	Now            func() time.Time
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Proximity:      model.DefaultProximity,
		AckTimeout:     cfg.AckTimeout,
		SendRetries:    cfg.SendRetries,
		RequireJoinAck: cfg.RequireJoinAck,
		Optimistic:     cfg.Optimistic,
		TypingExpiry:   cfg.TypingExpiry,
	}
}

type pendingSend struct {
	payload  ws.SendMessagePayload
	attempts int
	timer    typing.Timer
}

// Session is one room as seen by one participant: its log, its join state and
// the typing state of the other party.
// Lifecycle: New -> Join -> (LoadHistory | Append | Send)* -> Leave.
type Session struct {
	room   string
	id     model.Identity
	ch     channel.Channel
	store  HistoryFetcher
	opts   Options
	remote *typing.Indicator

	mu        sync.Mutex
	state     State
	log       Log
	offs      []func()
	pending   map[string]*pendingSend
	nextID    int
	listeners map[int]func()
}

func New(room string, id model.Identity, ch channel.Channel, store HistoryFetcher, opts Options) *Session {
	if opts.Proximity <= 0 {
		opts.Proximity = model.DefaultProximity
	}
	if opts.Clock == nil {
		opts.Clock = typing.SystemClock
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		room:      room,
		id:        id,
		ch:        ch,
		store:     store,
		opts:      opts,
		remote:    typing.NewIndicator(opts.TypingExpiry, opts.Now),
		pending:   make(map[string]*pendingSend),
		listeners: make(map[int]func()),
	}
}

func (s *Session) Room() string { return s.room }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns the log, oldest first.
func (s *Session) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Messages()
}

// RemoteTyping reports whether the other party of the room is typing.
func (s *Session) RemoteTyping() bool {
	return s.remote.IsTyping(s.room)
}

// Pending returns the number of sends still waiting for their echo.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// OnChange registers fn to run after the log or the remote typing state changes.
func (s *Session) OnChange(fn func()) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Subscribe starts merging the room's live events into the log without joining.
// Callers that fetch history before joining subscribe first so pushes that land
// during the fetch are kept. Calling it again is a no-op.
func (s *Session) Subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeLocked()
}

func (s *Session) subscribeLocked() {
	if s.offs != nil {
		return
	}
	s.offs = []func(){
		s.ch.On(ws.EventReceiveMessage, func(data json.RawMessage) { s.onMessage(data, false) }),
		s.ch.On(ws.EventBotMessage, func(data json.RawMessage) { s.onMessage(data, true) }),
		s.ch.On(ws.EventUserTyping, s.onTyping),
		s.ch.On(ws.EventRoomJoined, s.onJoined),
		s.ch.OnState(s.onState),
	}
}

// Join subscribes to the room's events and asks the server to add us to it.
// Calling it again re-emits join_room without subscribing twice.
func (s *Session) Join(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.subscribeLocked()
	if s.state != Joined || s.opts.RequireJoinAck {
		s.state = Joining
	}
	s.mu.Unlock()
	return s.emitJoin()
}

func (s *Session) emitJoin() error {
	if err := s.ch.Emit(ws.EventJoinRoom, s.room); err != nil {
		logger.Errorf("room %s: join: %v", s.room, err)
		return fmt.Errorf("room %s: join: %w", s.room, err)
	}
	if !s.opts.RequireJoinAck {
		s.mu.Lock()
		if s.state == Joining {
			s.state = Joined
		}
		s.mu.Unlock()
	}
	return nil
}

// LoadHistory backfills the log from the store. Messages already received live
// are not duplicated. On error the current log is returned with the error.
func (s *Session) LoadHistory(ctx context.Context) ([]model.ChatMessage, error) {
	msgs, err := s.store.History(ctx, s.room)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("history").Inc()
		logger.Errorf("room %s: history: %v", s.room, err)
		return s.Messages(), err
	}

	s.mu.Lock()
	changed := false
	for _, m := range msgs {
		var ok bool
		if s.log, ok = Merge(s.log, m, s.opts.Proximity); ok {
			changed = true
		} else {
			metrics.DuplicatesDropped.Inc()
		}
	}
	out := s.log.Messages()
	fns := s.snapshotListeners()
	s.mu.Unlock()

	if changed {
		notify(fns)
	}
	return out, nil
}

// Append merges one message into the log and reports whether it was new.
func (s *Session) Append(m model.ChatMessage) bool {
	s.mu.Lock()
	next, changed := Merge(s.log, m, s.opts.Proximity)
	s.log = next
	fns := s.snapshotListeners()
	s.mu.Unlock()

	if !changed {
		metrics.DuplicatesDropped.Inc()
		return false
	}
	notify(fns)
	return true
}

// Send emits text to the room. The log gains the message when the server echoes it,
// or right away as a pending copy when Optimistic is set.
func (s *Session) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	st := s.State()
	if st == Unjoined || (s.opts.RequireJoinAck && st != Joined) {
		return ErrNotJoined
	}

	p := ws.SendMessagePayload{
		Room:       s.room,
		Sender:     s.id.UserID,
		SenderName: s.id.Name,
		Message:    text,
		IsAdmin:    s.id.IsAgent,
		ClientID:   uuid.NewString(),
	}
	if err := s.ch.Emit(ws.EventSendMessage, p); err != nil {
		return fmt.Errorf("room %s: send: %w", s.room, err)
	}
	s.track(p)

	if s.opts.Optimistic {
		// No ID until the server assigns one, so an echo without clientId still
		// matches by room, sender and text.
		s.Append(model.ChatMessage{
			ClientID:   p.ClientID,
			Room:       s.room,
			Sender:     p.Sender,
			SenderName: p.SenderName,
			Text:       text,
			IsAgent:    p.IsAdmin,
			CreatedAt:  s.opts.Now().UTC(),
			Pending:    true,
		})
	}
	return nil
}

// Leave drops every subscription. The server is not told; it forgets the
// membership when the socket goes away.
func (s *Session) Leave() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.state = Unjoined
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	s.remote.Forget(s.room)
}

func (s *Session) onMessage(data json.RawMessage, bot bool) {
	var m model.ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Errorf("room %s: bad message payload: %v", s.room, err)
		return
	}
	if m.Room != s.room {
		return
	}
	if bot {
		m.IsBot = true
	}
	s.confirm(m.ClientID)
	s.Append(m)
}

func (s *Session) onTyping(data json.RawMessage) {
	var p ws.UserTypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Errorf("room %s: bad typing payload: %v", s.room, err)
		return
	}
	if p.Room != s.room || !s.id.Remote(p.IsAdmin) {
		return
	}
	s.remote.Observe(s.room, p.IsTyping)

	s.mu.Lock()
	fns := s.snapshotListeners()
	s.mu.Unlock()
	notify(fns)
}

func (s *Session) onJoined(data json.RawMessage) {
	room, err := ws.RoomID(data)
	if err != nil || room != s.room {
		return
	}
	s.mu.Lock()
	if s.state == Joining {
		s.state = Joined
	}
	s.mu.Unlock()
	logger.Debugf("room %s: join confirmed", s.room)
}

// onState rejoins after a reconnect; the server forgets memberships with the old socket.
func (s *Session) onState(connected bool) {
	if !connected {
		return
	}
	s.mu.Lock()
	if s.state == Unjoined {
		s.mu.Unlock()
		return
	}
	if s.opts.RequireJoinAck {
		s.state = Joining
	}
	s.mu.Unlock()
	logger.Infof("room %s: rejoining after reconnect", s.room)
	_ = s.emitJoin()
}

func (s *Session) track(p ws.SendMessagePayload) {
	if s.opts.AckTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := &pendingSend{payload: p}
	ps.timer = s.opts.Clock.AfterFunc(s.opts.AckTimeout, func() { s.expire(p.ClientID) })
	s.pending[p.ClientID] = ps
}

func (s *Session) confirm(clientID string) {
	if clientID == "" {
		return
	}
	s.mu.Lock()
	if ps, ok := s.pending[clientID]; ok {
		ps.timer.Stop()
		delete(s.pending, clientID)
	}
	s.mu.Unlock()
}

func (s *Session) expire(clientID string) {
	s.mu.Lock()
	ps, ok := s.pending[clientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ps.attempts < s.opts.SendRetries && s.state != Unjoined {
		ps.attempts++
		attempt := ps.attempts
		ps.timer = s.opts.Clock.AfterFunc(s.opts.AckTimeout, func() { s.expire(clientID) })
		payload := ps.payload
		s.mu.Unlock()

		logger.Warnf("room %s: no echo for %s, resending (%d/%d)", s.room, clientID, attempt, s.opts.SendRetries)
		if err := s.ch.Emit(ws.EventSendMessage, payload); err != nil {
			logger.Errorf("room %s: resend: %v", s.room, err)
		}
		return
	}
	delete(s.pending, clientID)
	s.mu.Unlock()

	metrics.UnconfirmedSends.Inc()
	logger.Warnf("room %s: send %s not confirmed after %v", s.room, clientID, s.opts.AckTimeout)
}

// snapshotListeners must be called with mu held.
func (s *Session) snapshotListeners() []func() {
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
