package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/model"
)

func TestLine_SenderKinds(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)

	req.Equal("[10:00] Ann: hi", Line(model.ChatMessage{Sender: "U1", SenderName: "Ann", Text: "hi", CreatedAt: at}, false))
	req.Equal("[10:00] A1 (agent): hello", Line(model.ChatMessage{Sender: "A1", Text: "hello", IsAgent: true, CreatedAt: at}, false))
	req.Equal("[10:00] bot (bot): menu", Line(model.ChatMessage{Sender: "bot", Text: "menu", IsBot: true, CreatedAt: at}, false))
	req.True(strings.HasSuffix(Line(model.ChatMessage{Sender: "U1", Text: "x", Pending: true, CreatedAt: at}, false), "…"))
}

func TestPrinter_Rooms(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	New(&buf, false).Rooms([]model.ChatRoom{
		{ID: "U1", UserName: "Ann", LastMessage: "Where is my order?", UnreadCount: 2, LastTimestamp: time.Now()},
		{ID: "U2", LastMessage: strings.Repeat("x", 80)},
	}, "U1")

	out := buf.String()
	req.Contains(out, "U1")
	req.Contains(out, "Where is my order?")
	req.Contains(out, "*")
	req.NotContains(out, strings.Repeat("x", 41))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestFeed_PrintsOnce(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	f := New(&buf, false).Feed()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)

	pending := model.ChatMessage{ID: "c1", ClientID: "c1", Sender: "U1", Text: "hi", CreatedAt: at, Pending: true}
	f.Show([]model.ChatMessage{pending})
	echo := model.ChatMessage{ID: "srv-1", ClientID: "c1", Sender: "U1", Text: "hi", CreatedAt: at}
	reply := model.ChatMessage{ID: "m2", Sender: "A1", Text: "hello", IsAgent: true, CreatedAt: at}
	f.Show([]model.ChatMessage{echo, reply})
	f.Show([]model.ChatMessage{echo, reply})

	req.Equal(2, strings.Count(buf.String(), "\n"))

	f.Reset()
	f.Show([]model.ChatMessage{reply})
	req.Equal(3, strings.Count(buf.String(), "\n"))
}
