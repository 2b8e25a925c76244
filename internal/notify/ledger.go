package notify

import (
	"context"
	"sync"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/metrics"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

const saveTimeout = 2 * time.Second

// Backend is the part of the store the ledger reconciles against.
type Backend interface {
	UnreadCount(ctx context.Context) (int, error)
	MarkRoomRead(ctx context.Context, room string) error
}

// Ledger is the process-wide notification state of one user. Store errors are
// logged and swallowed; the ledger keeps its last known state.
//
// Snapshots are written by one background goroutine that always saves the newest
// state, so mutations never wait on the store and an older state never
// overwrites a newer one.
type Ledger struct {
	backend Backend
	store   storage.LedgerStore
	userID  string

	mu        sync.Mutex
	state     State
	version   uint64 // bumped by every dispatch
	saved     uint64 // last version handed to the store
	nextID    int
	listeners map[int]func(State)

	kick      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLedger creates an empty ledger. store may be nil to skip snapshots.
// Call Close to flush the last snapshot when store is set.
func NewLedger(backend Backend, store storage.LedgerStore, userID string) *Ledger {
	l := &Ledger{
		backend:   backend,
		store:     store,
		userID:    userID,
		listeners: make(map[int]func(State)),
		kick:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if store == nil {
		close(l.done)
		return l
	}
	go l.writeLoop()
	return l
}

// Close writes the newest pending snapshot and stops the writer. Safe to call more than once.
func (l *Ledger) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		<-l.done
	})
}

// Restore loads the last snapshot saved for the user, if any.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	snap, ok, err := l.store.LoadLedger(ctx, l.userID)
	if err != nil {
		logger.Errorf("notify: restore ledger for %s: %v", l.userID, err)
		return err
	}
	if !ok {
		return nil
	}
	l.mu.Lock()
	l.state = State{Count: snap.Count, Notifications: snap.Notifications}
	st := l.state
	fns := l.snapshotListeners()
	l.mu.Unlock()

	metrics.UnreadCount.Set(float64(st.Count))
	logger.Infof("notify: restored %d notifications, count %d", len(st.Notifications), st.Count)
	for _, fn := range fns {
		fn(st)
	}
	return nil
}

// FetchUnreadCount overwrites the counter with the store's value.
func (l *Ledger) FetchUnreadCount(ctx context.Context) {
	n, err := l.backend.UnreadCount(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("unread_count").Inc()
		logger.Errorf("notify: fetch unread count: %v", err)
		return
	}
	l.dispatch(CountFetched{Count: n})
}

// AddNotification records an unseen message.
func (l *Ledger) AddNotification(n model.Notification) {
	l.dispatch(Added{Notification: n})
}

// MarkRoomRead clears the room locally, tells the store and then takes the store's count.
func (l *Ledger) MarkRoomRead(ctx context.Context, room string) {
	l.dispatch(RoomRead{Room: room})
	if err := l.backend.MarkRoomRead(ctx, room); err != nil {
		metrics.FetchErrors.WithLabelValues("mark_read").Inc()
		logger.Errorf("notify: mark room %s read: %v", room, err)
	}
	l.FetchUnreadCount(ctx)
}

// ClearAll empties the notification list. The counter is left alone.
func (l *Ledger) ClearAll() {
	l.dispatch(Cleared{})
}

func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{Count: l.state.Count, Notifications: append([]model.Notification(nil), l.state.Notifications...)}
}

func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Count
}

// Subscribe calls fn with the new state after every change.
func (l *Ledger) Subscribe(fn func(State)) (off func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *Ledger) dispatch(a Action) {
	l.mu.Lock()
	l.state = Reduce(l.state, a)
	l.version++
	st := l.state
	fns := l.snapshotListeners()
	l.mu.Unlock()

	metrics.UnreadCount.Set(float64(st.Count))
	if l.store != nil {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
	for _, fn := range fns {
		fn(st)
	}
}

func (l *Ledger) writeLoop() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			l.writeLatest()
			return
		case <-l.kick:
			l.writeLatest()
		}
	}
}

// writeLatest saves the current state unless that version was already written.
// Only writeLoop calls it, so saves reach the store in version order.
func (l *Ledger) writeLatest() {
	l.mu.Lock()
	v := l.version
	if v <= l.saved {
		l.mu.Unlock()
		return
	}
	st := State{Count: l.state.Count, Notifications: append([]model.Notification(nil), l.state.Notifications...)}
	l.mu.Unlock()

	l.save(st)

	l.mu.Lock()
	l.saved = v
	l.mu.Unlock()
}

func (l *Ledger) save(st State) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	snap := storage.Ledger{Count: st.Count, Notifications: st.Notifications, SavedAt: time.Now().UTC()}
	if err := l.store.SaveLedger(ctx, l.userID, snap); err != nil {
		logger.Errorf("notify: save ledger for %s: %v", l.userID, err)
	}
}

// snapshotListeners must be called with mu held.
func (l *Ledger) snapshotListeners() []func(State) {
	fns := make([]func(State), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	return fns
}
