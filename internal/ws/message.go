package ws

import (
	"encoding/json"
)

type EventType = string

const (
	// client -> server
	EventJoinRoom    EventType = "join_room"
	EventSendMessage EventType = "send_message"
	EventTyping      EventType = "typing"
	EventMarkRead    EventType = "mark_messages_read"

	// server -> client
	EventReceiveMessage EventType = "receive_message"
	EventBotMessage     EventType = "bot_message"
	EventUserTyping     EventType = "user_typing"
	EventRoomJoined     EventType = "room_joined"
)

// Envelope frames every event on the socket in both directions.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload is what the client emits to post a message.
type SendMessagePayload struct {
	Room       string `json:"room"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName,omitempty"`
	Message    string `json:"message"`
	IsAdmin    bool   `json:"isAdmin"`
	ClientID   string `json:"clientId,omitempty"`
}

// TypingPayload is emitted by the typing controller.
type TypingPayload struct {
	Room     string `json:"room"`
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// UserTypingPayload is broadcast by the server to the other party of a room.
type UserTypingPayload struct {
	Room     string `json:"room"`
	IsAdmin  bool   `json:"isAdmin"`
	IsTyping bool   `json:"isTyping"`
}

// RoomID decodes the bare-string payload of join_room, room_joined and mark_messages_read.
func RoomID(data json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		return "", err
	}
	return room, nil
}
