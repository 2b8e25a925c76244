package model

import "time"

// ChatRoom is an agent-side directory entry. ID is the customer's user id.
type ChatRoom struct {
	ID            string    `json:"id"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
	UnreadCount   int       `json:"unreadCount"`
	UserName      string    `json:"userName,omitempty"`
	UserEmail     string    `json:"userEmail,omitempty"`
}

// Touch applies an inbound message to the entry. A message older than the entry's
// last one still counts but leaves lastMessage alone.
func (r ChatRoom) Touch(m ChatMessage, countUnread bool) ChatRoom {
	if !m.CreatedAt.Before(r.LastTimestamp) {
		r.LastMessage = m.Text
		r.LastTimestamp = m.CreatedAt
	}
	if countUnread {
		r.UnreadCount++
	}
	if r.UserName == "" && m.FromCustomer() {
		r.UserName = m.SenderName
	}
	return r
}

type TypingState struct {
	Room     string    `json:"room"`
	IsTyping bool      `json:"isTyping"`
	At       time.Time `json:"at"`
}

type Notification struct {
	Room      string    `json:"room"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationFor builds the ledger entry for an inbound message.
func NotificationFor(m ChatMessage) Notification {
	ts := m.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Notification{Room: m.Room, Message: m.Text, Timestamp: ts}
}
