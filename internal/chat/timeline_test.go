package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimelineInsertIgnoresKnownIDs(t *testing.T) {
	tl := NewTimeline()
	require.True(t, tl.Insert(msg("a", other, 1)))

	dup := msg("a", other, 5)
	dup.Text = "changed"
	assert.False(t, tl.Insert(dup))
	assert.Equal(t, 1, tl.Len())

	got, ok := tl.Get("a")
	require.True(t, ok)
	assert.Equal(t, "text of a", got.Text)
}

func TestTimelineOrdersByTimeThenArrival(t *testing.T) {
	tl := NewTimeline()
	tl.Insert(msg("c", other, 3))
	tl.Insert(msg("a", other, 1))
	tl.Insert(msg("b1", other, 2))
	tl.Insert(msg("b2", self, 2))
	tl.Insert(msg("b3", other, 2))

	assert.Equal(t, "a,b1,b2,b3,c", ids(tl.Snapshot()))
}

func TestTimelineMergeReturnsOnlyAdded(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(series(5, 8, other))

	added := tl.Merge(append(series(1, 5, other), series(8, 9, other)...))
	var got []string
	for _, m := range added {
		got = append(got, m.ID)
	}
	assert.Equal(t, []string{"m01", "m02", "m03", "m04", "m09"}, got)
	assert.Equal(t, "m01,m02,m03,m04,m05,m06,m07,m08,m09", ids(tl.Snapshot()))
}

func TestTimelineReplaceResorts(t *testing.T) {
	tl := NewTimeline()
	tl.Merge(series(1, 3, other))
	tl.Insert(msg("local-1", self, 0))

	require.True(t, tl.Replace("local-1", msg("srv-1", self, 4)))
	assert.Equal(t, "m01,m02,m03,srv-1", ids(tl.Snapshot()))
	assert.False(t, tl.Has("local-1"))
	assert.False(t, tl.Replace("missing", msg("x", self, 1)))
}

func TestTimelineSnapshotIsDetached(t *testing.T) {
	tl := NewTimeline()
	tl.Insert(msg("a", other, 1))

	snap := tl.Snapshot()
	snap[0].SeenBy = append(snap[0].SeenBy, "someone")

	m, _ := tl.Get("a")
	assert.Empty(t, m.SeenBy)
}
