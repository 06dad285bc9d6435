package models

import (
	"slices"
	"time"
)

type DeliveryState int

const (
	DeliveryConfirmed DeliveryState = iota
	DeliverySending
	DeliveryFailed
)

func (d DeliveryState) String() string {
	switch d {
	case DeliverySending:
		return "sending"
	case DeliveryFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

// ReplyRef is a one level quote of another message. It never carries its
// own reply.
type ReplyRef struct {
	ID       string      `json:"id"`
	Sender   Participant `json:"sender"`
	Text     string      `json:"text,omitempty"`
	FileName string      `json:"fileName,omitempty"`
}

type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room"`
	Sender    Participant `json:"sender"`
	Text      string      `json:"text,omitempty"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	ReplyTo   *ReplyRef   `json:"replyTo,omitempty"`
	SeenBy    []string    `json:"seenBy"`
	Deleted   bool        `json:"deleted"`
	CreatedAt time.Time   `json:"createdAt"`

	// Delivery is local only. Server sourced messages are always confirmed.
	Delivery DeliveryState `json:"-"`
}

func (m *Message) HasSeen(userID string) bool {
	return slices.Contains(m.SeenBy, userID)
}

// MarkSeen adds userID to SeenBy. The set only grows; it reports whether
// userID was new.
func (m *Message) MarkSeen(userID string) bool {
	if userID == "" || m.HasSeen(userID) {
		return false
	}
	m.SeenBy = append(m.SeenBy, userID)
	return true
}

// Body is the visible text; tombstoned messages show nothing.
func (m *Message) Body() string {
	if m.Deleted {
		return ""
	}
	return m.Text
}

func (m *Message) HasAttachment() bool {
	return m.MediaURL != ""
}

// Quote builds the reply reference other messages embed when answering m.
func (m *Message) Quote() *ReplyRef {
	return &ReplyRef{
		ID:       m.ID,
		Sender:   m.Sender,
		Text:     m.Body(),
		FileName: m.FileName,
	}
}

func (m Message) Clone() Message {
	out := m
	out.SeenBy = slices.Clone(m.SeenBy)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	return out
}
