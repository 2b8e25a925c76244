package console_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/supportchat/internal/channel"
	"github.com/supportchat/internal/channel/channeltest"
	"github.com/supportchat/internal/console"
	"github.com/supportchat/internal/mocks"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/notify"
	"github.com/supportchat/internal/typing/typingtest"
	"github.com/supportchat/internal/ws"
)

var (
	t0    = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agent = model.Identity{UserID: "A1", Name: "Sam", IsAgent: true}
)

type fixture struct {
	console *console.Console
	ch      *channeltest.Channel
	backend *mocks.MockBackend
	ledger  *notify.Ledger
	clock   *typingtest.Clock

	mu    sync.Mutex
	rooms []model.ChatRoom
}

func (f *fixture) setRooms(rooms ...model.ChatRoom) {
	f.mu.Lock()
	f.rooms = rooms
	f.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		ch:      channeltest.New(),
		backend: mocks.NewMockBackend(ctrl),
		clock:   typingtest.New(),
	}
	f.backend.EXPECT().Rooms(gomock.Any()).DoAndReturn(func(context.Context) ([]model.ChatRoom, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return append([]model.ChatRoom(nil), f.rooms...), nil
	}).AnyTimes()
	f.backend.EXPECT().UnreadCount(gomock.Any()).Return(0, nil).AnyTimes()

	mgr := channel.NewManager(func(context.Context) (channel.Channel, error) { return f.ch, nil })
	f.ledger = notify.NewLedger(f.backend, nil, agent.UserID)
	f.console = console.New(agent, mgr, f.backend, f.ledger, console.Options{TypingIdle: 3 * time.Second, Clock: f.clock})
	require.NoError(t, f.console.Mount(context.Background()))
	t.Cleanup(f.console.Unmount)
	return f
}

func customerMessage(id, room, text string, at time.Duration) model.ChatMessage {
	return model.ChatMessage{ID: id, Room: room, Sender: room, Text: text, CreatedAt: t0.Add(at)}
}

func TestConsole_CustomerQuestionScenario(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	question := customerMessage("m1", "U1", "Where is my order?", 0)
	f.ch.Deliver(ws.EventReceiveMessage, question)

	entry, ok := f.console.Room("U1")
	req.True(ok)
	req.Equal("Where is my order?", entry.LastMessage)
	req.Positive(entry.UnreadCount)
	req.Equal(1, f.ledger.Count())
	req.True(f.ledger.Snapshot().Has("U1"))

	f.backend.EXPECT().History(gomock.Any(), "U1").Return([]model.ChatMessage{question}, nil)
	f.backend.EXPECT().MarkRoomRead(gomock.Any(), "U1").Return(nil)
	req.NoError(f.console.Select(context.Background(), "U1"))

	req.Equal("U1", f.console.ActiveRoom())
	req.Len(f.console.Messages(), 1)
	entry, _ = f.console.Room("U1")
	req.Zero(entry.UnreadCount)
	req.Zero(f.ledger.Count())
	req.False(f.ledger.Snapshot().Has("U1"))
	req.Equal([]any{"U1"}, f.ch.EmittedFor(ws.EventJoinRoom))
	req.Equal([]any{"U1"}, f.ch.EmittedFor(ws.EventMarkRead))
}

func TestConsole_SelectKeepsPushDuringHistoryFetch(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	first := customerMessage("m1", "U1", "hello", 0)
	live := customerMessage("m2", "U1", "anyone there?", time.Second)
	f.backend.EXPECT().History(gomock.Any(), "U1").DoAndReturn(func(context.Context, string) ([]model.ChatMessage, error) {
		f.ch.Deliver(ws.EventReceiveMessage, live)
		return []model.ChatMessage{first}, nil
	})
	f.backend.EXPECT().MarkRoomRead(gomock.Any(), "U1").Return(nil)
	req.NoError(f.console.Select(context.Background(), "U1"))

	msgs := f.console.Messages()
	req.Len(msgs, 2)
	req.Equal("m1", msgs[0].ID)
	req.Equal("m2", msgs[1].ID)
	req.Equal(2, f.ch.Handlers(ws.EventReceiveMessage))
}

func TestConsole_TwoCustomersAtOnce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.backend.EXPECT().History(gomock.Any(), "U1").Return(nil, nil)
	f.backend.EXPECT().MarkRoomRead(gomock.Any(), "U1").Return(nil)
	req.NoError(f.console.Select(context.Background(), "U1"))

	f.ch.Deliver(ws.EventUserTyping, ws.UserTypingPayload{Room: "U2", IsTyping: true})
	req.False(f.console.ActiveTyping())
	f.ch.Deliver(ws.EventUserTyping, ws.UserTypingPayload{Room: "U1", IsTyping: true})
	req.True(f.console.ActiveTyping())

	f.ch.Deliver(ws.EventReceiveMessage, customerMessage("m2", "U2", "Is anyone there?", time.Minute))
	f.ch.Deliver(ws.EventReceiveMessage, customerMessage("m1", "U1", "Thanks", 2*time.Minute))

	u2, _ := f.console.Room("U2")
	req.Equal(1, u2.UnreadCount)
	u1, _ := f.console.Room("U1")
	req.Zero(u1.UnreadCount)

	st := f.ledger.Snapshot()
	req.True(st.Has("U2"))
	req.False(st.Has("U1"))
	req.Equal(1, st.Count)

	msgs := f.console.Messages()
	req.Len(msgs, 1)
	req.Equal("Thanks", msgs[0].Text)

	rooms := f.console.Rooms()
	req.Equal("U1", rooms[0].ID)
	req.Equal("U2", rooms[1].ID)
}

func TestConsole_AgentMessagesDoNotNotify(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	reply := model.ChatMessage{ID: "m9", Room: "U3", Sender: "A2", Text: "On it", IsAgent: true, CreatedAt: t0}
	f.ch.Deliver(ws.EventReceiveMessage, reply)
	f.ch.Deliver(ws.EventBotMessage, model.ChatMessage{ID: "b1", Room: "U3", Sender: "bot", Text: "Hi!", CreatedAt: t0.Add(time.Second)})

	entry, ok := f.console.Room("U3")
	req.True(ok)
	req.Equal("Hi!", entry.LastMessage)
	req.Zero(entry.UnreadCount)
	req.Zero(f.ledger.Count())
}

func TestConsole_DirectoryMergeKeepsLocalEntries(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.ch.Deliver(ws.EventReceiveMessage, customerMessage("m1", "U3", "hello", 0))
	f.setRooms(
		model.ChatRoom{ID: "U1", LastMessage: "older", LastTimestamp: t0.Add(-time.Hour), UnreadCount: 2},
		model.ChatRoom{ID: "U2", LastMessage: "newest", LastTimestamp: t0.Add(time.Hour), UserName: "Ann"},
	)
	f.console.RefreshRooms(context.Background())

	rooms := f.console.Rooms()
	req.Len(rooms, 3)
	req.Equal([]string{"U2", "U3", "U1"}, []string{rooms[0].ID, rooms[1].ID, rooms[2].ID})
	req.Equal("Ann", rooms[0].UserName)
}

func TestConsole_RefreshesAfterInbound(t *testing.T) {
	f := newFixture(t)
	f.setRooms(model.ChatRoom{ID: "U5", LastMessage: "from store", LastTimestamp: t0})
	f.ch.Deliver(ws.EventReceiveMessage, customerMessage("m1", "U1", "hi", 0))

	require.Eventually(t, func() bool {
		_, ok := f.console.Room("U5")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestConsole_SendAndTypingScopedToActiveRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.ErrorIs(f.console.Send(context.Background(), "hi"), console.ErrNoActiveRoom)
	f.console.Keystroke()
	req.Empty(f.ch.EmittedFor(ws.EventTyping))

	f.backend.EXPECT().History(gomock.Any(), "U1").Return(nil, nil)
	f.backend.EXPECT().MarkRoomRead(gomock.Any(), "U1").Return(nil)
	req.NoError(f.console.Select(context.Background(), "U1"))

	f.console.Keystroke()
	f.console.Keystroke()
	req.NoError(f.console.Send(context.Background(), "Your order ships today"))

	typed := f.ch.EmittedFor(ws.EventTyping)
	req.Len(typed, 2)
	req.Equal(ws.TypingPayload{Room: "U1", User: "A1", IsTyping: true}, typed[0])
	req.Equal(ws.TypingPayload{Room: "U1", User: "A1", IsTyping: false}, typed[1])

	sent := f.ch.EmittedFor(ws.EventSendMessage)
	req.Len(sent, 1)
	p := sent[0].(ws.SendMessagePayload)
	req.Equal("U1", p.Room)
	req.True(p.IsAdmin)

	f.clock.Advance(10 * time.Second)
	req.Len(f.ch.EmittedFor(ws.EventTyping), 2)
}

func TestConsole_SwitchingRoomsLeavesPrevious(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	for _, id := range []string{"U1", "U2"} {
		f.backend.EXPECT().History(gomock.Any(), id).Return(nil, nil)
		f.backend.EXPECT().MarkRoomRead(gomock.Any(), id).Return(nil)
	}
	req.NoError(f.console.Select(context.Background(), "U1"))
	f.console.Keystroke()
	req.NoError(f.console.Select(context.Background(), "U2"))

	typed := f.ch.EmittedFor(ws.EventTyping)
	req.Len(typed, 2)
	req.Equal(ws.TypingPayload{Room: "U1", User: "A1", IsTyping: false}, typed[1])

	// console subscription plus the U2 session
	req.Equal(2, f.ch.Handlers(ws.EventReceiveMessage))

	f.ch.Deliver(ws.EventReceiveMessage, customerMessage("m1", "U1", "back again", 0))
	req.Empty(f.console.Messages())
	u1, _ := f.console.Room("U1")
	req.Equal(1, u1.UnreadCount)
}

func TestConsole_UnmountDropsSubscriptions(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.backend.EXPECT().History(gomock.Any(), "U1").Return(nil, nil)
	f.backend.EXPECT().MarkRoomRead(gomock.Any(), "U1").Return(nil)
	req.NoError(f.console.Select(context.Background(), "U1"))

	f.console.Unmount()
	req.Zero(f.ch.Handlers(ws.EventReceiveMessage))
	req.Zero(f.ch.Handlers(ws.EventUserTyping))
	req.ErrorIs(f.console.Select(context.Background(), "U2"), console.ErrNotMounted)

	f.ch.Deliver(ws.EventReceiveMessage, customerMessage("m1", "U4", "late", 0))
	_, ok := f.console.Room("U4")
	req.False(ok)
}
