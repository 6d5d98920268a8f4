package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{"WSEVENT_ADDR", "WSEVENT_LOG_LEVEL", "WSEVENT_READ_LIMIT", "WSEVENT_READ_TIMEOUT", "WSEVENT_ALLOWED_ORIGINS", "WSEVENT_SHUTDOWN_TIMEOUT"} {
			t.Setenv(k, "")
		}
		c := Load()
		assert.Equal(t, ":8080", c.Addr)
		assert.Equal(t, "info", c.LogLevel)
		assert.Equal(t, int64(64<<10), c.ReadLimit)
		assert.Empty(t, c.AllowedOrigins)
		assert.Equal(t, 5*time.Second, c.ShutdownTimeout)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("WSEVENT_ADDR", ":9999")
		t.Setenv("WSEVENT_READ_LIMIT", "1024")
		t.Setenv("WSEVENT_READ_TIMEOUT", "30s")
		t.Setenv("WSEVENT_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
		c := Load()
		assert.Equal(t, ":9999", c.Addr)
		assert.Equal(t, int64(1024), c.ReadLimit)
		assert.Equal(t, 30*time.Second, c.ReadTimeout)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
	})

	t.Run("invalid numbers fall back", func(t *testing.T) {
		t.Setenv("WSEVENT_READ_LIMIT", "lots")
		assert.Equal(t, int64(64<<10), Load().ReadLimit)
	})
}

func TestBindFlags(t *testing.T) {
	t.Setenv("WSEVENT_ADDR", ":7000")
	c := Load()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"--log-level=debug", "--allowed-origin=*"}))
	assert.Equal(t, ":7000", c.Addr)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins)
}
