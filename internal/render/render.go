// Package render prints chat state to a terminal.
package render

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/supportchat/internal/model"
)

var (
	botStyle      = color.New(color.FgMagenta)
	agentStyle    = color.New(color.FgCyan)
	customerStyle = color.New(color.FgGreen)
	noticeStyle   = color.New(color.BgBlack, color.FgYellow)
)

// Printer writes message lines and the room directory. Colours are off for non-terminals.
type Printer struct {
	w       io.Writer
	colours bool
}

func New(w io.Writer, colours bool) *Printer {
	return &Printer{w: w, colours: colours}
}

// Line formats one message as "[15:04] name: text".
func Line(m model.ChatMessage, colours bool) string {
	name := m.SenderName
	if name == "" {
		name = m.Sender
	}
	var style color.Style
	switch {
	case m.IsBot:
		name += " (bot)"
		style = botStyle
	case m.IsAgent:
		name += " (agent)"
		style = agentStyle
	default:
		style = customerStyle
	}
	if colours {
		name = style.Render(name)
	}
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), name, m.Text)
	if m.Pending {
		line += " …"
	}
	return line
}

func (p *Printer) Message(m model.ChatMessage) {
	fmt.Fprintln(p.w, Line(m, p.colours))
}

func (p *Printer) Messages(msgs []model.ChatMessage) {
	for _, m := range msgs {
		p.Message(m)
	}
}

// Notice prints a highlighted status line.
func (p *Printer) Notice(format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	if p.colours {
		s = noticeStyle.Render(s)
	}
	fmt.Fprintln(p.w, s)
}

// Status prints connectivity, unread count and the remote typing flag.
func (p *Printer) Status(online bool, unread int, typing string) {
	state := "offline"
	if online {
		state = "online"
	}
	s := fmt.Sprintf("-- %s, %d unread", state, unread)
	if typing != "" {
		s += ", " + typing + " is typing…"
	}
	p.Notice("%s --", s)
}

// Rooms prints the directory as a table; active is marked with "*".
func (p *Printer) Rooms(rooms []model.ChatRoom, active string) {
	table := tablewriter.NewWriter(p.w)
	table.SetHeader([]string{"", "Room", "Customer", "Last message", "At", "Unread"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, r := range rooms {
		mark := ""
		if r.ID == active {
			mark = "*"
		}
		at := ""
		if !r.LastTimestamp.IsZero() {
			at = r.LastTimestamp.Local().Format("Jan 02 15:04")
		}
		unread := ""
		if r.UnreadCount > 0 {
			unread = strconv.Itoa(r.UnreadCount)
		}
		table.Append([]string{mark, r.ID, r.UserName, truncate(r.LastMessage, 40), at, unread})
	}
	table.Render()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

// Feed prints each message of a log once, however often the log is re-rendered.
type Feed struct {
	p *Printer

	mu   sync.Mutex
	seen map[string]bool
}

func (p *Printer) Feed() *Feed {
	return &Feed{p: p, seen: make(map[string]bool)}
}

// Show prints the messages of msgs not shown before. An echo that replaces a pending
// copy shares its client id and is not printed again.
func (f *Feed) Show(msgs []model.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		key := feedKey(m)
		if f.seen[key] {
			continue
		}
		f.seen[key] = true
		f.p.Message(m)
	}
}

// Reset forgets what was shown, for switching rooms.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.seen = make(map[string]bool)
	f.mu.Unlock()
}

func feedKey(m model.ChatMessage) string {
	switch {
	case m.ClientID != "":
		return "c:" + m.ClientID
	case m.ID != "":
		return "i:" + m.ID
	default:
		return "t:" + m.Sender + "|" + m.Text + "|" + m.CreatedAt.String()
	}
}
