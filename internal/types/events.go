package types

import (
	"time"

	"marketchat/internal/models"
)

type EventType string

// Pushed by the server.
const (
	EventReceiveMessage EventType = "receiveMessage"
	EventMessageSeen    EventType = "messageSeen"
	EventUserTyping     EventType = "userTyping"
	EventUserStopTyping EventType = "userStopTyping"
	EventMessageDeleted EventType = "messageDeleted"
	EventError          EventType = "error"
)

// Published by clients.
const (
	EventJoinRoom      EventType = "joinRoom"
	EventLeaveRoom     EventType = "leaveRoom"
	EventSendMessage   EventType = "sendMessage"
	EventMarkAsSeen    EventType = "markAsSeen"
	EventTyping        EventType = "typing"
	EventStopTyping    EventType = "stopTyping"
	EventDeleteMessage EventType = "deleteMessage"
)

// ClientBound reports whether servers may push t.
func (t EventType) ClientBound() bool {
	switch t {
	case EventReceiveMessage, EventMessageSeen, EventUserTyping,
		EventUserStopTyping, EventMessageDeleted, EventError:
		return true
	}
	return false
}

// ServerBound reports whether clients may publish t.
func (t EventType) ServerBound() bool {
	switch t {
	case EventJoinRoom, EventLeaveRoom, EventSendMessage, EventMarkAsSeen,
		EventTyping, EventStopTyping, EventDeleteMessage:
		return true
	}
	return false
}

type ReceiveMessage struct {
	models.Message
}

func (p *ReceiveMessage) validate() error {
	switch {
	case p.ID == "":
		return missing("id")
	case p.RoomID == "":
		return missing("room")
	case p.Sender.ID == "":
		return missing("sender.id")
	case p.CreatedAt.IsZero():
		return missing("createdAt")
	}
	return nil
}

type MessageSeen struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

func (p *MessageSeen) validate() error {
	if p.MessageID == "" {
		return missing("messageId")
	}
	if p.UserID == "" {
		return missing("userId")
	}
	return nil
}

// Typing is the payload of userTyping and userStopTyping. Clients send
// typing and stopTyping with the same shape; the server overwrites UserID
// with the authenticated identity.
type Typing struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

func (p *Typing) validate() error {
	if p.UserID == "" {
		return missing("userId")
	}
	return nil
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

func (p *MessageDeleted) validate() error {
	if p.MessageID == "" {
		return missing("messageId")
	}
	return nil
}

type Membership struct {
	UserID string `json:"userId"`
}

func (p *Membership) validate() error {
	if p.UserID == "" {
		return missing("userId")
	}
	return nil
}

type SendMessage struct {
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

func (p *SendMessage) validate() error {
	if p.Text == "" && p.MediaURL == "" {
		return missing("text or mediaUrl")
	}
	return nil
}

type MarkAsSeen struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

func (p *MarkAsSeen) validate() error {
	if p.MessageID == "" {
		return missing("messageId")
	}
	return nil
}

type DeleteMessage struct {
	MessageID string `json:"messageId"`
}

func (p *DeleteMessage) validate() error {
	if p.MessageID == "" {
		return missing("messageId")
	}
	return nil
}

// Failure is pushed back to the publisher when the server rejects one of
// its events. For sendMessage, Text echoes the rejected body.
type Failure struct {
	Op      EventType `json:"op"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Text    string    `json:"text,omitempty"`
	At      time.Time `json:"at"`
}

func (p *Failure) validate() error {
	if p.Op == "" {
		return missing("op")
	}
	return nil
}
