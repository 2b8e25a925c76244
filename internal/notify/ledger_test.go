package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/supportchat/internal/mocks"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/notify"
	"github.com/supportchat/internal/storage"
	"github.com/supportchat/internal/storage/memory"
)

func TestLedger_UpsertCountsTwice(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().UnreadCount(gomock.Any()).Return(3, nil)

	l := notify.NewLedger(backend, nil, "A1")
	l.FetchUnreadCount(context.Background())
	l.AddNotification(model.Notification{Room: "U1", Message: "one"})
	l.AddNotification(model.Notification{Room: "U1", Message: "two"})

	st := l.Snapshot()
	req.Equal(5, st.Count)
	req.Len(st.Notifications, 1)
	req.Equal("two", st.Notifications[0].Message)
}

func TestLedger_MarkRoomReadReconciles(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	gomock.InOrder(
		backend.EXPECT().MarkRoomRead(gomock.Any(), "U1").Return(nil),
		backend.EXPECT().UnreadCount(gomock.Any()).Return(1, nil),
	)

	l := notify.NewLedger(backend, nil, "A1")
	l.AddNotification(model.Notification{Room: "U1"})
	l.AddNotification(model.Notification{Room: "U1"})
	l.AddNotification(model.Notification{Room: "U2"})
	req.Equal(3, l.Count())

	l.MarkRoomRead(context.Background(), "U1")
	st := l.Snapshot()
	req.Equal(1, st.Count)
	req.False(st.Has("U1"))
	req.True(st.Has("U2"))
}

func TestLedger_FetchErrorKeepsLastValue(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	gomock.InOrder(
		backend.EXPECT().UnreadCount(gomock.Any()).Return(4, nil),
		backend.EXPECT().UnreadCount(gomock.Any()).Return(0, errors.New("store down")),
	)

	l := notify.NewLedger(backend, nil, "A1")
	l.FetchUnreadCount(context.Background())
	l.FetchUnreadCount(context.Background())
	req.Equal(4, l.Count())
}

func TestLedger_MarkReadFailureStillRefetches(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().MarkRoomRead(gomock.Any(), "U1").Return(errors.New("boom"))
	backend.EXPECT().UnreadCount(gomock.Any()).Return(2, nil)

	l := notify.NewLedger(backend, nil, "A1")
	l.AddNotification(model.Notification{Room: "U1"})
	l.MarkRoomRead(context.Background(), "U1")
	require.Equal(t, 2, l.Count())
	require.Empty(t, l.Snapshot().Notifications)
}

func TestLedger_ClearAllKeepsCounter(t *testing.T) {
	l := notify.NewLedger(mocks.NewMockBackend(gomock.NewController(t)), nil, "A1")
	l.AddNotification(model.Notification{Room: "U1"})
	l.ClearAll()
	require.Empty(t, l.Snapshot().Notifications)
	require.Equal(t, 1, l.Count())
}

func TestLedger_SubscribeAndUnsubscribe(t *testing.T) {
	req := require.New(t)
	l := notify.NewLedger(mocks.NewMockBackend(gomock.NewController(t)), nil, "A1")

	var seen []int
	off := l.Subscribe(func(st notify.State) { seen = append(seen, st.Count) })
	l.AddNotification(model.Notification{Room: "U1"})
	off()
	l.AddNotification(model.Notification{Room: "U2"})
	req.Equal([]int{1}, seen)
}

func TestLedger_SnapshotSurvivesRestart(t *testing.T) {
	req := require.New(t)
	store := memory.New()
	backend := mocks.NewMockBackend(gomock.NewController(t))

	first := notify.NewLedger(backend, store, "A1")
	first.AddNotification(model.Notification{Room: "U1", Message: "hello"})
	first.AddNotification(model.Notification{Room: "U2", Message: "hi"})
	first.Close()

	second := notify.NewLedger(backend, store, "A1")
	req.NoError(second.Restore(context.Background()))
	st := second.Snapshot()
	req.Equal(2, st.Count)
	req.Len(st.Notifications, 2)
	req.Equal("U2", st.Notifications[0].Room)

	other := notify.NewLedger(backend, store, "A2")
	req.NoError(other.Restore(context.Background()))
	req.Zero(other.Count())
}

// gatedStore records saves and holds the first one until gate is closed.
type gatedStore struct {
	storage.LedgerStore

	gate    chan struct{}
	started chan struct{}

	mu    sync.Mutex
	saves []storage.Ledger
}

func newGatedStore() *gatedStore {
	return &gatedStore{LedgerStore: memory.New(), gate: make(chan struct{}), started: make(chan struct{})}
}

func (s *gatedStore) SaveLedger(ctx context.Context, userID string, l storage.Ledger) error {
	s.mu.Lock()
	s.saves = append(s.saves, l)
	first := len(s.saves) == 1
	s.mu.Unlock()
	if first {
		close(s.started)
		<-s.gate
	}
	return s.LedgerStore.SaveLedger(ctx, userID, l)
}

func (s *gatedStore) recorded() []storage.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Ledger(nil), s.saves...)
}

func TestLedger_SavesNewestStateLastWithoutBlocking(t *testing.T) {
	req := require.New(t)
	store := newGatedStore()
	l := notify.NewLedger(mocks.NewMockBackend(gomock.NewController(t)), store, "A1")

	l.AddNotification(model.Notification{Room: "U1"})
	select {
	case <-store.started:
	case <-time.After(time.Second):
		req.Fail("first save never started")
	}

	// The store is stuck on the first save; mutations still return.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.AddNotification(model.Notification{Room: "U2"})
	}()
	go func() {
		defer wg.Done()
		l.AddNotification(model.Notification{Room: "U3"})
	}()
	wg.Wait()
	l.ClearAll()

	close(store.gate)
	l.Close()
	l.Close()

	saves := store.recorded()
	req.Len(saves, 2)
	req.Equal(1, saves[0].Count)
	last := saves[len(saves)-1]
	req.Equal(3, last.Count)
	req.Empty(last.Notifications)

	snap, ok, err := store.LoadLedger(context.Background(), "A1")
	req.NoError(err)
	req.True(ok)
	req.Equal(l.Snapshot().Count, snap.Count)
	req.Empty(snap.Notifications)
}
