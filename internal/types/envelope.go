package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

const EnvelopeVersion = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrUnknownEvent       = errors.New("unknown event type")
	ErrMissingRoom        = errors.New("envelope has no room")
	ErrInvalidPayload     = errors.New("invalid event payload")
)

// Envelope is the frame every channel event travels in.
type Envelope struct {
	V    int             `json:"v"`
	Type EventType       `json:"type"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data,omitempty"`

	// Origin is the id of the server instance that produced the event.
	// FromBus marks events that arrived over the cross instance bus and
	// must not be republished.
	Origin  string `json:"origin,omitempty"`
	FromBus bool   `json:"-"`
}

type payload interface {
	validate() error
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
}

func payloadFor(t EventType) (payload, bool) {
	switch t {
	case EventReceiveMessage:
		return &ReceiveMessage{}, true
	case EventMessageSeen:
		return &MessageSeen{}, true
	case EventUserTyping, EventUserStopTyping, EventTyping, EventStopTyping:
		return &Typing{}, true
	case EventMessageDeleted:
		return &MessageDeleted{}, true
	case EventJoinRoom, EventLeaveRoom:
		return &Membership{}, true
	case EventSendMessage:
		return &SendMessage{}, true
	case EventMarkAsSeen:
		return &MarkAsSeen{}, true
	case EventDeleteMessage:
		return &DeleteMessage{}, true
	case EventError:
		return &Failure{}, true
	}
	return nil, false
}

// NewEnvelope encodes data into a current-version envelope.
func NewEnvelope(t EventType, room string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{V: EnvelopeVersion, Type: t, Room: room, Data: raw}, nil
}

// Decode parses and validates a raw frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks the version, the event kind, the room and the shape of
// the payload.
func (e Envelope) Validate() error {
	if e.V != EnvelopeVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.V)
	}
	p, ok := payloadFor(e.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	if e.Room == "" {
		return ErrMissingRoom
	}
	if len(e.Data) == 0 {
		return missing("data")
	}
	if err := json.Unmarshal(e.Data, p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
	}
	return p.validate()
}

// Bind decodes the payload into v.
func (e Envelope) Bind(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
	}
	return nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
