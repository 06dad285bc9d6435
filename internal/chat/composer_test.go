package chat

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/models"
	"marketchat/internal/types"
)

func emptyRoom(f *fixture) {
	withRoomInfo(f, "room-1")
	f.open("room-1")
	f.emitter.Reset()
}

func textAttachment(name, body string) *Attachment {
	return &Attachment{
		Name: name,
		Type: "text/plain",
		Size: int64(len(body)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func TestTypingIsDebounced(t *testing.T) {
	f := newFixture()
	emptyRoom(f)

	for _, s := range []string{"h", "he", "hel", "hell", "hello"} {
		f.pane.SetText(s)
		f.clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 5, f.emitter.Count(types.EventTyping))
	assert.Equal(t, 0, f.emitter.Count(types.EventStopTyping))

	f.clock.Advance(1899 * time.Millisecond)
	assert.Equal(t, 0, f.emitter.Count(types.EventStopTyping))
	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, f.emitter.Count(types.EventStopTyping))

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, f.emitter.Count(types.EventStopTyping))
}

func TestSendGuardsEmptyAndMissingRoom(t *testing.T) {
	f := newFixture()
	assert.ErrorIs(t, f.pane.Send(), ErrNoRoom)

	emptyRoom(f)
	f.pane.SetText("   ")
	assert.ErrorIs(t, f.pane.Send(), ErrEmptyMessage)
	assert.Equal(t, 0, f.emitter.Count(types.EventSendMessage))
	assert.Empty(t, f.pane.Messages())
}

func TestSendInsertsOptimisticEntryAndReconciles(t *testing.T) {
	f := newFixture()
	emptyRoom(f)

	f.pane.SetText("  hello  ")
	require.NoError(t, f.pane.Send())

	ev, ok := f.emitter.Last(types.EventSendMessage)
	require.True(t, ok)
	assert.Equal(t, types.SendMessage{Text: "hello"}, ev.Data)
	assert.Equal(t, "room-1", ev.Room)
	assert.Equal(t, Draft{}, f.pane.Draft())

	pending := f.pane.Messages()
	require.Len(t, pending, 1)
	assert.True(t, strings.HasPrefix(pending[0].ID, "local-"))
	assert.Equal(t, models.DeliverySending, pending[0].Delivery)

	echo := models.Message{
		ID:        "srv-1",
		RoomID:    "room-1",
		Sender:    self,
		Text:      "hello",
		CreatedAt: f.clock.Now().Add(2 * time.Second),
	}
	f.deliver(echo)

	got := f.pane.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.Equal(t, models.DeliveryConfirmed, got[0].Delivery)

	f.clock.Advance(time.Minute)
	assert.Empty(t, f.notices.notices, "the confirmation timer was cancelled")
	assert.Len(t, f.pane.Messages(), 1)
}

func TestEchoOutsideWindowIsNotReconciled(t *testing.T) {
	f := newFixture()
	emptyRoom(f)
	f.pane.SetText("hello")
	require.NoError(t, f.pane.Send())

	old := models.Message{ID: "srv-0", RoomID: "room-1", Sender: self, Text: "hello", CreatedAt: f.clock.Now().Add(-time.Hour)}
	f.deliver(old)
	assert.Len(t, f.pane.Messages(), 2)
}

func TestServerRejectionDropsOptimisticEntry(t *testing.T) {
	f := newFixture()
	emptyRoom(f)
	f.pane.SetText("first")
	require.NoError(t, f.pane.Send())
	f.pane.SetText("second")
	require.NoError(t, f.pane.Send())

	f.pane.HandleEvent(envelope(types.EventError, "room-1", types.Failure{
		Op:      types.EventSendMessage,
		Code:    "rate_limited",
		Message: "slow down",
		Text:    "second",
	}))

	left := f.pane.Messages()
	require.Len(t, left, 1)
	assert.Equal(t, "first", left[0].Text)
	require.Len(t, f.notices.notices, 1)
	assert.Equal(t, NoticeTransient, f.notices.notices[0].Level)
}

func TestUnconfirmedSendTimesOut(t *testing.T) {
	f := newFixture()
	emptyRoom(f)
	f.pane.SetText("anyone?")
	require.NoError(t, f.pane.Send())

	f.clock.Advance(14 * time.Second)
	assert.Len(t, f.pane.Messages(), 1)
	f.clock.Advance(time.Second)
	assert.Empty(t, f.pane.Messages())
	require.Len(t, f.notices.notices, 1)
	assert.Equal(t, "Message could not be delivered", f.notices.notices[0].Text)
}

func TestEmitFailureKeepsDraft(t *testing.T) {
	f := newFixture()
	emptyRoom(f)
	f.pane.SetText("hello")
	f.emitter.err = errors.New("channel closed")

	assert.Error(t, f.pane.Send())
	assert.Equal(t, "hello", f.pane.Draft().Text)
	assert.Empty(t, f.pane.Messages())
}

func TestReplyToQuotesTarget(t *testing.T) {
	f := newFixture()
	withRoomInfo(f, "room-1")
	f.backend.pages[pageKey{"room-1", ""}] = types.HistoryPage{Messages: series(1, 3, other, self.ID)}
	f.open("room-1")

	require.True(t, f.pane.ReplyTo("m02"))
	assert.Equal(t, 1, f.focused)
	require.NotNil(t, f.pane.Draft().ReplyTo)
	assert.Equal(t, "text of m02", f.pane.Draft().ReplyTo.Text)
	assert.False(t, f.pane.ReplyTo("nope"))

	f.pane.SetText("agreed")
	require.NoError(t, f.pane.Send())
	ev, _ := f.emitter.Last(types.EventSendMessage)
	assert.Equal(t, types.SendMessage{Text: "agreed", ReplyTo: "m02"}, ev.Data)
	assert.Nil(t, f.pane.Draft().ReplyTo)

	local := f.pane.Messages()[3]
	require.NotNil(t, local.ReplyTo)
	assert.Equal(t, other, local.ReplyTo.Sender)
}

func TestUploadSendsMediaMessage(t *testing.T) {
	f := newFixture()
	emptyRoom(f)
	f.pane.SetText("contract")
	f.pane.Attach(textAttachment("terms.txt", "0123456789"))

	require.NoError(t, f.pane.Send())
	assert.True(t, f.pane.Sending())
	require.Len(t, f.pane.Uploads(), 1)
	assert.Equal(t, models.UploadPreparing, f.pane.Uploads()[0].Status)
	assert.ErrorIs(t, f.pane.Send(), ErrSendInFlight)

	f.exec.Flush()
	assert.False(t, f.pane.Sending())
	ev, ok := f.emitter.Last(types.EventSendMessage)
	require.True(t, ok)
	assert.Equal(t, types.SendMessage{
		Text:     "contract",
		MediaURL: "https://files.test/terms.txt",
		FileName: "terms.txt",
	}, ev.Data)
	assert.Equal(t, Draft{}, f.pane.Draft())

	up := f.pane.Uploads()[0]
	assert.Equal(t, models.UploadCompleted, up.Status)
	assert.Equal(t, 100, up.Progress)

	f.clock.Advance(3 * time.Second)
	assert.Empty(t, f.pane.Uploads())
}

func TestUploadFailureKeepsDraft(t *testing.T) {
	f := newFixture()
	emptyRoom(f)
	f.backend.uploadErr = errors.New("storage unavailable")
	att := textAttachment("terms.txt", "0123456789")
	f.pane.SetText("contract")
	f.pane.Attach(att)

	require.NoError(t, f.pane.Send())
	f.exec.Flush()

	assert.Equal(t, 0, f.emitter.Count(types.EventSendMessage))
	assert.Empty(t, f.pane.Messages())
	assert.False(t, f.pane.Sending())
	assert.Equal(t, "contract", f.pane.Draft().Text)
	assert.Same(t, att, f.pane.Draft().Attachment)

	up := f.pane.Uploads()[0]
	assert.Equal(t, models.UploadFailed, up.Status)
	assert.Equal(t, 50, up.Progress)
	require.Len(t, f.notices.notices, 1)
	assert.Equal(t, NoticeBlocking, f.notices.notices[0].Level)
	assert.Equal(t, up.ID, f.notices.notices[0].UploadID)

	f.backend.uploadErr = nil
	require.NoError(t, f.pane.Send())
	f.exec.Flush()
	assert.Equal(t, 1, f.emitter.Count(types.EventSendMessage))
}

func TestAttachmentWithoutExecutorKeepsDraft(t *testing.T) {
	notices := &noticeLog{}
	pane := NewPane(Deps{
		Self:     self,
		Emitter:  &recordingEmitter{},
		Notifier: notices,
		Clock:    newFakeClock(),
	})
	pane.Open("room-1")
	att := textAttachment("terms.txt", "0123456789")
	pane.SetText("contract")
	pane.Attach(att)

	assert.ErrorIs(t, pane.Send(), ErrNoUploads)
	assert.False(t, pane.Sending())
	assert.Empty(t, pane.Uploads())
	assert.Equal(t, "contract", pane.Draft().Text)
	assert.Same(t, att, pane.Draft().Attachment)
	require.Len(t, notices.notices, 1)
	assert.Equal(t, NoticeTransient, notices.notices[0].Level)
}

func TestUploadCompletionAfterLeaveIsDiscarded(t *testing.T) {
	f := newFixture()
	emptyRoom(f)
	f.pane.Attach(textAttachment("terms.txt", "0123456789"))
	require.NoError(t, f.pane.Send())

	f.pane.Leave()
	f.exec.Flush()
	assert.Equal(t, 0, f.emitter.Count(types.EventSendMessage))
	assert.Empty(t, f.pane.Uploads())
	assert.Empty(t, f.notices.notices)
}

func TestDeleteOnlyOwnConfirmed(t *testing.T) {
	f := newFixture()
	withRoomInfo(f, "room-1")
	page := series(1, 2, other, self.ID)
	page = append(page, msg("m03", self, 3))
	f.backend.pages[pageKey{"room-1", ""}] = types.HistoryPage{Messages: page}
	f.open("room-1")

	assert.Error(t, f.pane.Delete("m01"))
	require.NoError(t, f.pane.Delete("m03"))
	ev, _ := f.emitter.Last(types.EventDeleteMessage)
	assert.Equal(t, types.DeleteMessage{MessageID: "m03"}, ev.Data)

	f.pane.HandleEvent(envelope(types.EventMessageDeleted, "room-1", types.MessageDeleted{MessageID: "m03"}))
	m, _ := f.pane.Message("m03")
	assert.True(t, m.Deleted)
	assert.Empty(t, m.Body())
	assert.Len(t, f.pane.Messages(), 3)
}
