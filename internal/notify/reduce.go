// Package notify keeps the unread-notification ledger of one user: at most one
// notification per room plus a global counter reconciled against the store.
package notify

import (
	"github.com/samber/lo"

	"github.com/supportchat/internal/model"
)

// State is the ledger contents. Notifications are newest first.
type State struct {
	Count         int                  `json:"count"`
	Notifications []model.Notification `json:"notifications"`
}

// Has reports whether room has a pending notification.
func (s State) Has(room string) bool {
	return lo.ContainsBy(s.Notifications, func(n model.Notification) bool { return n.Room == room })
}

// Action is one ledger mutation.
type Action interface {
	reduce(State) State
}

// Added upserts the room's notification and bumps the counter by one, even when the
// room already had an entry. The next CountFetched corrects the drift.
type Added struct{ Notification model.Notification }

// RoomRead drops the room's notification. The counter waits for the store.
type RoomRead struct{ Room string }

// CountFetched overwrites the counter with the store's value.
type CountFetched struct{ Count int }

// Cleared empties the list and keeps the counter.
type Cleared struct{}

// Reduce applies a to s and returns the new state. s is not modified.
func Reduce(s State, a Action) State {
	return a.reduce(s)
}

func (a Added) reduce(s State) State {
	rest := lo.Reject(s.Notifications, func(n model.Notification, _ int) bool { return n.Room == a.Notification.Room })
	return State{
		Count:         s.Count + 1,
		Notifications: append([]model.Notification{a.Notification}, rest...),
	}
}

func (a RoomRead) reduce(s State) State {
	return State{
		Count:         s.Count,
		Notifications: lo.Reject(s.Notifications, func(n model.Notification, _ int) bool { return n.Room == a.Room }),
	}
}

func (a CountFetched) reduce(s State) State {
	return State{
		Count:         max(a.Count, 0),
		Notifications: append([]model.Notification(nil), s.Notifications...),
	}
}

func (Cleared) reduce(s State) State {
	return State{Count: s.Count}
}
