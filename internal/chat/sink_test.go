package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/models"
	"marketchat/internal/types"
)

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	f := newFixture()
	bottomRoom(f)

	m := msg("m16", other, 16)
	f.deliver(m)
	f.deliver(m)
	f.deliver(msg("m05", other, 5))

	assert.Len(t, f.pane.Messages(), 16)
	assert.Equal(t, 1, f.emitter.Count(types.EventMarkAsSeen))
}

func TestLateMessageIsPlacedByTimestamp(t *testing.T) {
	f := newFixture()
	bottomRoom(f)

	late := msg("late", other, 3)
	late.CreatedAt = late.CreatedAt.Add(500 * time.Millisecond)
	f.deliver(late)

	got := ids(f.pane.Messages())
	assert.Equal(t, "m01,m02,m03,late,m04,m05,m06,m07,m08,m09,m10,m11,m12,m13,m14,m15", got)
}

func TestSeenReceiptsOnlyGrow(t *testing.T) {
	f := newFixture()
	withRoomInfo(f, "room-1")
	f.backend.pages[pageKey{"room-1", ""}] = types.HistoryPage{Messages: []models.Message{msg("m01", self, 1)}}
	f.open("room-1")

	seen := func(user string) {
		f.pane.HandleEvent(envelope(types.EventMessageSeen, "room-1", types.MessageSeen{MessageID: "m01", UserID: user}))
	}
	seen(other.ID)
	changes := f.changes
	seen(other.ID)
	assert.Equal(t, changes, f.changes, "a repeated receipt changes nothing")
	seen("u-third")
	seen("")

	m, _ := f.pane.Message("m01")
	assert.Equal(t, []string{other.ID, "u-third"}, m.SeenBy)

	f.pane.HandleEvent(envelope(types.EventMessageSeen, "room-1", types.MessageSeen{MessageID: "unknown", UserID: other.ID}))
	assert.Len(t, f.pane.Messages(), 1)
}

func TestOwnMessagesGetNoReceiptFromSelf(t *testing.T) {
	f := newFixture()
	bottomRoom(f)

	f.deliver(msg("m16", self, 16))
	assert.Equal(t, 0, f.emitter.Count(types.EventMarkAsSeen))
	assert.Equal(t, 0, f.pane.UnseenCount())
}

func TestTypingIndicators(t *testing.T) {
	f := newFixture()
	emptyRoom(f)

	typing := func(kind types.EventType, user, name string) {
		f.pane.HandleEvent(envelope(kind, "room-1", types.Typing{UserID: user, Name: name}))
	}
	typing(types.EventUserTyping, other.ID, other.Name)
	typing(types.EventUserTyping, self.ID, self.Name)
	assert.Equal(t, []string{"Bo"}, f.pane.Typing())

	typing(types.EventUserStopTyping, other.ID, "")
	assert.Empty(t, f.pane.Typing())
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	f := newFixture()
	emptyRoom(f)

	env := types.Envelope{V: types.EnvelopeVersion, Type: types.EventReceiveMessage, Room: "room-1", Data: []byte(`{"id":`)}
	f.pane.HandleEvent(env)
	assert.Empty(t, f.pane.Messages())
}

func TestDeleteRemovesUnseen(t *testing.T) {
	f := newFixture()
	bottomRoom(f)
	f.vp.top = 0
	f.pane.Scrolled()
	f.deliver(msg("m16", other, 16))
	require.Equal(t, 1, f.pane.UnseenCount())

	f.pane.HandleEvent(envelope(types.EventMessageDeleted, "room-1", types.MessageDeleted{MessageID: "m16"}))
	assert.Equal(t, 0, f.pane.UnseenCount())
}
