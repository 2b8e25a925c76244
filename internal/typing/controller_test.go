package typing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/channel/channeltest"
	"github.com/supportchat/internal/typing"
	"github.com/supportchat/internal/typing/typingtest"
	"github.com/supportchat/internal/ws"
)

func signals(ch *channeltest.Channel) []bool {
	var out []bool
	for _, p := range ch.EmittedFor(ws.EventTyping) {
		out = append(out, p.(ws.TypingPayload).IsTyping)
	}
	return out
}

func TestController_DebouncesBurst(t *testing.T) {
	req := require.New(t)
	ch := channeltest.New()
	clock := typingtest.New()
	c := typing.NewController(ch, "U1", "U1", 3*time.Second, clock)

	for i := 0; i < 5; i++ {
		c.Keystroke()
		clock.Advance(500 * time.Millisecond)
	}
	req.Equal([]bool{true}, signals(ch))
	req.True(c.Typing())

	clock.Advance(2900 * time.Millisecond)
	req.Equal([]bool{true, false}, signals(ch))
	req.False(c.Typing())

	clock.Advance(10 * time.Second)
	req.Equal([]bool{true, false}, signals(ch))
	req.Zero(clock.Pending())
}

func TestController_SentCancelsTimer(t *testing.T) {
	req := require.New(t)
	ch := channeltest.New()
	clock := typingtest.New()
	c := typing.NewController(ch, "U1", "A1", 3*time.Second, clock)

	c.Keystroke()
	clock.Advance(time.Second)
	c.Sent()
	req.Equal([]bool{true, false}, signals(ch))

	clock.Advance(5 * time.Second)
	req.Equal([]bool{true, false}, signals(ch))

	payload := ch.EmittedFor(ws.EventTyping)[1].(ws.TypingPayload)
	req.Equal("U1", payload.Room)
	req.Equal("A1", payload.User)
}

func TestController_SentWithoutBurstIsQuiet(t *testing.T) {
	ch := channeltest.New()
	c := typing.NewController(ch, "U1", "U1", time.Second, typingtest.New())
	c.Sent()
	require.Empty(t, signals(ch))
}

func TestController_NewBurstAfterIdle(t *testing.T) {
	req := require.New(t)
	ch := channeltest.New()
	clock := typingtest.New()
	c := typing.NewController(ch, "U1", "U1", 3*time.Second, clock)

	c.Keystroke()
	clock.Advance(3 * time.Second)
	c.Keystroke()
	req.Equal([]bool{true, false, true}, signals(ch))
}

func TestController_OfflineSkipsEmit(t *testing.T) {
	req := require.New(t)
	ch := channeltest.New()
	ch.SetConnected(false)
	clock := typingtest.New()
	c := typing.NewController(ch, "U1", "U1", 3*time.Second, clock)

	c.Keystroke()
	clock.Advance(3 * time.Second)
	req.Empty(signals(ch))
}

func TestController_StopIsSilent(t *testing.T) {
	req := require.New(t)
	ch := channeltest.New()
	clock := typingtest.New()
	c := typing.NewController(ch, "U1", "U1", 3*time.Second, clock)

	c.Keystroke()
	c.Stop()
	clock.Advance(5 * time.Second)
	req.Equal([]bool{true}, signals(ch))
}
