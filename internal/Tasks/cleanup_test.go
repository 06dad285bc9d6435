package tasks

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/logger"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep() (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func TestCleanerRunsOnSchedule(t *testing.T) {
	sw := &countingSweeper{}
	c := NewUploadCleaner(sw, "@every 1s", logger.Nop())
	require.NoError(t, c.Start())
	defer c.Stop()

	assert.Eventually(t, func() bool { return sw.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestCleanerRejectsBadSchedule(t *testing.T) {
	c := NewUploadCleaner(&countingSweeper{}, "every tuesday", logger.Nop())
	assert.Error(t, c.Start())
}

func TestCleanerSurvivesErrors(t *testing.T) {
	sw := &countingSweeper{err: errors.New("disk gone")}
	c := NewUploadCleaner(sw, "", logger.Nop())
	c.run()
	c.run()
	assert.Equal(t, int32(2), sw.calls.Load())
}
