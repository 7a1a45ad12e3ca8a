package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendMemory, cfg.Remote.Backend)
	assert.Equal(t, 25, cfg.Sync.PageSize)
	assert.Equal(t, 15*time.Minute, cfg.Sync.FreshWindow)
	assert.Equal(t, 300*time.Millisecond, cfg.Sync.ReceiptDebounce)
	assert.Equal(t, 5*time.Second, cfg.Sync.TypingTTL)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	yaml := "remote:\n  backend: http\n  base_url: http://api.local\nsync:\n  page_size: 40\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)
	t.Setenv("PARLEY_SYNC_FRESH_WINDOW", "1m")

	require.NoError(t, LoadConfig())
	assert.Equal(t, BackendHTTP, Cfg.Remote.Backend)
	assert.Equal(t, "http://api.local", Cfg.Remote.BaseURL)
	assert.Equal(t, 40, Cfg.Sync.PageSize)
	assert.Equal(t, time.Minute, Cfg.Sync.FreshWindow)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Remote.Backend = BackendDB
	assert.Error(t, cfg.validate())

	cfg.Remote.Backend = BackendHTTP
	assert.Error(t, cfg.validate())

	cfg.Remote.Backend = "carrier-pigeon"
	assert.Error(t, cfg.validate())

	cfg = Default()
	assert.Equal(t, "parley-realtime", cfg.Kafka.Topic)
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	assert.NoError(t, cfg.validate())
	cfg.Kafka.Topic = ""
	assert.Error(t, cfg.validate())
}
