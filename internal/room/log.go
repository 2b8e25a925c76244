// Package room keeps the message log of one conversation consistent while history
// backfill and live pushes race each other.
package room

import (
	"sort"
	"time"

	"github.com/supportchat/internal/model"
)

// Log is a time-ordered, deduplicated message list. Values are never mutated in
// place, so a Log can be handed to a view while the session keeps merging.
type Log struct {
	messages []model.ChatMessage
}

// NewLog merges msgs into an empty log.
func NewLog(window time.Duration, msgs ...model.ChatMessage) Log {
	var l Log
	for _, m := range msgs {
		l, _ = Merge(l, m, window)
	}
	return l
}

func (l Log) Len() int { return len(l.messages) }

// Messages returns a copy of the log, oldest first.
func (l Log) Messages() []model.ChatMessage {
	out := make([]model.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Last returns the newest message.
func (l Log) Last() (model.ChatMessage, bool) {
	if len(l.messages) == 0 {
		return model.ChatMessage{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Merge returns l with m applied and whether anything changed.
//
// A message already present is ignored, except that a confirmed copy replaces a
// pending local one. New messages go after every message with the same or an
// earlier createdAt, so ties keep arrival order.
func Merge(l Log, m model.ChatMessage, window time.Duration) (Log, bool) {
	for i, have := range l.messages {
		if !have.SameAs(m, window) {
			continue
		}
		if !have.Pending || m.Pending {
			return l, false
		}
		rest := make([]model.ChatMessage, 0, len(l.messages))
		rest = append(rest, l.messages[:i]...)
		rest = append(rest, l.messages[i+1:]...)
		return Log{messages: insert(rest, m)}, true
	}
	next := make([]model.ChatMessage, len(l.messages), len(l.messages)+1)
	copy(next, l.messages)
	return Log{messages: insert(next, m)}, true
}

func insert(s []model.ChatMessage, m model.ChatMessage) []model.ChatMessage {
	i := sort.Search(len(s), func(i int) bool { return s[i].CreatedAt.After(m.CreatedAt) })
	s = append(s, model.ChatMessage{})
	copy(s[i+1:], s[i:])
	s[i] = m
	return s
}
