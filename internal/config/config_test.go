package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/logger"
)

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_KEY", "k")
	_, err := Load(logger.Nop())
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/chat")
	t.Setenv("AUTH_KEY", "")
	_, err = Load(logger.Nop())
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/chat")
	t.Setenv("AUTH_KEY", "secret")
	t.Setenv("PORT", "9000")
	t.Setenv("UPLOAD_TTL", "2m")
	t.Setenv("HOST", "localhost")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("UPLOAD_SIGNING_KEY", "")

	cfg, err := Load(logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.UploadTTL)
	assert.Equal(t, "secret", cfg.UploadSigningKey)
	assert.Equal(t, "http://localhost:9000", cfg.PublicBaseURL)
}

func TestMaskDBSource(t *testing.T) {
	assert.Equal(t, "postgres://****:****@db:5432/chat", maskDBSource("postgres://u:p@ss@db:5432/chat"))
	assert.Equal(t, "invalid-dsn-format", maskDBSource("nonsense"))
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "wss://chat.example/ws", (&ClientConfig{ServerURL: "https://chat.example"}).WebsocketURL())
	assert.Equal(t, "ws://localhost:8080/ws", (&ClientConfig{ServerURL: "http://localhost:8080"}).WebsocketURL())
}
