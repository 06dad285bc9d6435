package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/models"
)

func newestFirst(n int) []models.Message {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]models.Message, n)
	for i := range out {
		at := n - i
		out[i] = models.Message{ID: fmt.Sprintf("m%02d", at), CreatedAt: base.Add(time.Duration(at) * time.Second)}
	}
	return out
}

func TestBuildPageWithProbeRow(t *testing.T) {
	page := buildPage(newestFirst(4), 3)

	require.Len(t, page.Messages, 3)
	assert.Equal(t, "m02", page.Messages[0].ID)
	assert.Equal(t, "m04", page.Messages[2].ID)
	assert.True(t, page.HasMore)

	c, err := DecodeCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "m02", c.ID)
	assert.True(t, page.Messages[0].CreatedAt.Equal(c.CreatedAt))
}

func TestBuildPageLast(t *testing.T) {
	page := buildPage(newestFirst(2), 3)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, "m01", page.Messages[0].ID)
}
