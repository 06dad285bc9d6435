package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/logger"
	"marketchat/internal/types"
)

func TestDecodeSkipsOwnEvents(t *testing.T) {
	env, err := types.NewEnvelope(types.EventMessageDeleted, "room-1", types.MessageDeleted{MessageID: "m1"})
	require.NoError(t, err)
	env.Origin = "srv-a"
	raw, _ := env.Encode()

	got, err := decode(raw, "srv-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = decode(raw, "srv-b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.FromBus)
	assert.Equal(t, "srv-a", got.Origin)

	_, err = decode([]byte(`{"v":9}`), "srv-b")
	assert.Error(t, err)
}

// Needs a reachable Redis; set REDIS_URL to run it.
func TestRedisBusFanOut(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := NewRedisBus(ctx, url, "srv-a", logger.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisBus(ctx, url, "srv-b", logger.Nop())
	require.NoError(t, err)
	defer b.Close()

	got := make(chan types.Envelope, 1)
	require.NoError(t, b.StartForwarder(ctx, func(env types.Envelope) { got <- env }))

	env, err := types.NewEnvelope(types.EventMessageDeleted, "room-1", types.MessageDeleted{MessageID: "m1"})
	require.NoError(t, err)
	require.NoError(t, a.Publish(ctx, env))

	select {
	case e := <-got:
		assert.Equal(t, types.EventMessageDeleted, e.Type)
		assert.True(t, e.FromBus)
	case <-ctx.Done():
		t.Fatal("event not forwarded")
	}
}
