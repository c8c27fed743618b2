package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ANTHROPIC_NOTE_MODEL", "")

	cfg := Load()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "claude-3-7-sonnet-latest", cfg.Anthropic.NoteModel)
	assert.Equal(t, 10000, cfg.Anthropic.NoteMaxTokens)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Anthropic.NameModel)
	assert.Equal(t, 8192, cfg.Anthropic.NameMaxTokens)
	assert.Equal(t, "nova-2", cfg.Deepgram.Model)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DEEPGRAM_KEEPALIVE", "3s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3*time.Second, cfg.Deepgram.KeepAliveInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
}

func TestNewDBSQLite(t *testing.T) {
	cfg := Load()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "file::memory:"

	db, err := NewDB(cfg)
	require.NoError(t, err)
	assert.NoError(t, TestConnection(db))
}

func TestNewDBUnknownDriver(t *testing.T) {
	cfg := Load()
	cfg.Database.Driver = "oracle"

	_, err := NewDB(cfg)
	assert.Error(t, err)
}
