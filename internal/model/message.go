package model

import "time"

// DefaultProximity is how far apart two id-less copies of the same message may be
// and still be treated as one.
const DefaultProximity = 2 * time.Second

type ChatMessage struct {
	ID         string    `json:"id,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
	Room       string    `json:"room"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"senderName,omitempty"`
	Text       string    `json:"message"`
	IsAgent    bool      `json:"isAdmin"`
	IsBot      bool      `json:"isBot,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`

	// Pending marks a local optimistic copy that has not been echoed yet.
	Pending bool `json:"-"`
}

// SameAs reports whether m and other describe the same message.
// Client correlation ids link an echo to its local copy; otherwise server ids decide,
// and id-less copies match on room+sender+text within window.
func (m ChatMessage) SameAs(other ChatMessage, window time.Duration) bool {
	if m.ClientID != "" && (m.ClientID == other.ClientID || m.ClientID == other.ID) {
		return true
	}
	if other.ClientID != "" && other.ClientID == m.ID {
		return true
	}
	if m.ID != "" && other.ID != "" {
		return m.ID == other.ID
	}
	if m.Room != other.Room || m.Sender != other.Sender || m.Text != other.Text {
		return false
	}
	d := m.CreatedAt.Sub(other.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// FromCustomer reports whether the message was written by the shopper.
func (m ChatMessage) FromCustomer() bool {
	return !m.IsAgent && !m.IsBot
}
