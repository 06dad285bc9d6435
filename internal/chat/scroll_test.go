package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/types"
)

// longRoom loads m11..m40 with everything up to m30 already seen, and
// m01..m10 behind cursor c1.
func longRoom(f *fixture) {
	withRoomInfo(f, "room-1")
	first := append(series(11, 30, other, self.ID), series(31, 40, other)...)
	f.backend.pages[pageKey{"room-1", ""}] = types.HistoryPage{Messages: first, NextCursor: "c1", HasMore: true}
	f.backend.pages[pageKey{"room-1", "c1"}] = types.HistoryPage{Messages: series(1, 10, other, self.ID)}
}

func TestInitialJumpCentersLastSeen(t *testing.T) {
	f := newFixture()
	longRoom(f)
	f.open("room-1")

	// m30 is the 20th row: top 380, centred in a 200 high viewport.
	assert.Equal(t, "m30", f.pane.LastSeenID())
	assert.Equal(t, 290, f.vp.top)
	assert.False(t, f.vp.smooth)
	assert.False(t, f.pane.AtBottom())
	assert.Equal(t, 10, f.pane.UnseenCount())
	assert.Equal(t, 0, f.emitter.Count(types.EventMarkAsSeen))

	f.pane.Rendered()
	assert.Equal(t, 290, f.vp.top, "the initial jump runs once")
}

func TestInitialJumpWithoutSeenLandsAtBottom(t *testing.T) {
	f := newFixture()
	withRoomInfo(f, "room-1")
	f.backend.pages[pageKey{"room-1", ""}] = types.HistoryPage{Messages: series(1, 30, other)}
	f.open("room-1")

	assert.Equal(t, 400, f.vp.top)
	assert.False(t, f.vp.smooth)
	assert.True(t, f.pane.AtBottom())
	assert.Equal(t, 0, f.pane.UnseenCount())
	assert.Equal(t, 30, f.emitter.Count(types.EventMarkAsSeen))
}

func TestOlderPagePreservesVisibleRow(t *testing.T) {
	f := newFixture()
	longRoom(f)
	f.open("room-1")

	f.vp.top = 50
	f.pane.Scrolled()
	assert.Equal(t, "loadingMore", f.pane.State())

	f.exec.Flush()
	assert.Equal(t, IntentPreserve, f.pane.Intent())
	f.pane.Rendered()

	// Ten 20 high rows were prepended above the viewport.
	assert.Equal(t, 250, f.vp.top)
	assert.False(t, f.vp.smooth)
	assert.Equal(t, "ready", f.pane.State())
	assert.Equal(t, IntentNone, f.pane.Intent())
	assert.Len(t, f.pane.Messages(), 40)
}

func TestScrollEventsIgnoredWhilePreserving(t *testing.T) {
	f := newFixture()
	longRoom(f)
	f.open("room-1")

	f.vp.top = 0
	f.pane.Scrolled()
	f.exec.Flush()
	calls := len(f.backend.calls)

	f.pane.Scrolled()
	assert.Equal(t, calls, len(f.backend.calls))
	assert.Equal(t, IntentPreserve, f.pane.Intent())
}

func TestBottomFollowDuringPreserveIsQueued(t *testing.T) {
	f := newFixture()
	longRoom(f)
	f.open("room-1")

	f.vp.top = 50
	f.pane.Scrolled()
	f.exec.Flush()

	f.pane.SetText("on my way")
	require.NoError(t, f.pane.Send())
	assert.Equal(t, IntentPreserve, f.pane.Intent())

	f.pane.Rendered()
	assert.Equal(t, 250, f.vp.top, "preserve applies first")
	assert.Equal(t, IntentBottom, f.pane.Intent())

	// The hand scroll is still settling; the follow waits for it.
	f.clock.Advance(300 * time.Millisecond)
	assert.Equal(t, 41*20-200, f.vp.top)
	assert.True(t, f.vp.smooth)
}

func bottomRoom(f *fixture) {
	withRoomInfo(f, "room-1")
	f.backend.pages[pageKey{"room-1", ""}] = types.HistoryPage{Messages: series(1, 15, other, self.ID)}
	f.open("room-1")
	f.emitter.Reset()
}

func TestIncomingAtBottomScrollsAndMarksSeen(t *testing.T) {
	f := newFixture()
	bottomRoom(f)
	require.True(t, f.pane.AtBottom())

	f.deliver(msg("m16", other, 16))
	assert.Equal(t, IntentBottom, f.pane.Intent())
	ev, ok := f.emitter.Last(types.EventMarkAsSeen)
	require.True(t, ok)
	assert.Equal(t, types.MarkAsSeen{MessageID: "m16", UserID: self.ID}, ev.Data)

	f.pane.Rendered()
	assert.Equal(t, 16*20-200, f.vp.top)
	assert.True(t, f.vp.smooth)
	assert.Equal(t, 0, f.pane.UnseenCount())
}

func TestIncomingAwayFromBottomCountsUnseen(t *testing.T) {
	f := newFixture()
	bottomRoom(f)

	f.vp.top = 0
	f.pane.Scrolled()
	require.False(t, f.pane.AtBottom())

	f.deliver(msg("m16", other, 16))
	f.pane.Rendered()
	assert.Equal(t, 0, f.vp.top)
	assert.Equal(t, 1, f.pane.UnseenCount())
	assert.Equal(t, 0, f.emitter.Count(types.EventMarkAsSeen))

	f.pane.JumpToLatest()
	assert.Equal(t, 0, f.pane.UnseenCount())
	assert.Equal(t, 1, f.emitter.Count(types.EventMarkAsSeen))
	assert.Equal(t, 16*20-200, f.vp.top)
}

func TestScrollingToBottomSettlesUnseen(t *testing.T) {
	f := newFixture()
	bottomRoom(f)
	f.vp.top = 0
	f.pane.Scrolled()
	f.deliver(msg("m16", other, 16))
	f.deliver(msg("m17", other, 17))
	require.Equal(t, 2, f.pane.UnseenCount())

	f.vp.top = 17*20 - 200
	f.pane.Scrolled()
	assert.Equal(t, 0, f.pane.UnseenCount())
	assert.Equal(t, 2, f.emitter.Count(types.EventMarkAsSeen))
	assert.True(t, f.pane.UserScrolling())

	f.clock.Advance(300 * time.Millisecond)
	assert.False(t, f.pane.UserScrolling())
}

func TestScrollingAwayDropsDeferredFollow(t *testing.T) {
	f := newFixture()
	bottomRoom(f)
	f.pane.Scrolled()
	require.True(t, f.pane.AtBottom())

	// Arrives mid scroll; the follow waits for the debounce.
	f.deliver(msg("m16", other, 16))
	f.pane.Rendered()
	require.Equal(t, IntentBottom, f.pane.Intent())

	f.vp.top = 0
	f.pane.Scrolled()
	assert.False(t, f.pane.AtBottom())
	assert.Equal(t, IntentNone, f.pane.Intent())

	f.clock.Advance(300 * time.Millisecond)
	assert.Equal(t, 0, f.vp.top, "reading older content is left alone")
	assert.False(t, f.pane.UserScrolling())

	f.deliver(msg("m17", other, 17))
	f.pane.Rendered()
	assert.Equal(t, 0, f.vp.top)
	assert.Equal(t, 1, f.pane.UnseenCount())
}

func TestOwnMessageAlwaysFollows(t *testing.T) {
	f := newFixture()
	bottomRoom(f)
	f.vp.top = 0
	f.pane.Scrolled()
	f.clock.Advance(time.Second)

	f.pane.SetText("done")
	require.NoError(t, f.pane.Send())
	f.pane.Rendered()
	assert.Equal(t, 16*20-200, f.vp.top)
}
