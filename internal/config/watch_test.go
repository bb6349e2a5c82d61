package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbot/pkg/logx"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	p := writeFile(t, "config.yaml", validYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, p, logx.Nop(), func(cfg *Config) { changed <- cfg }))

	updated := []byte(`
telegram:
  token: "123:abc"
logging:
  level: warn
storage:
  path: "/tmp/bot.db"
`)
	require.NoError(t, os.WriteFile(p, updated, 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "warn", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within deadline")
	}
}

func TestWatchSkipsBrokenConfig(t *testing.T) {
	p := writeFile(t, "config.yaml", validYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, p, logx.Nop(), func(cfg *Config) { changed <- cfg }))

	require.NoError(t, os.WriteFile(p, []byte("telegram: [oops\n"), 0o644))
	select {
	case <-changed:
		t.Fatal("broken config must not fire onChange")
	case <-time.After(time.Second):
	}

	// A subsequent valid write recovers.
	require.NoError(t, os.WriteFile(p, []byte(validYAML), 0o644))
	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after recovery")
	}
}
