// Package config loads settings for the chat server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config holds server settings. Environment variables provide defaults;
// flags override them.
type Config struct {
	Addr            string
	LogLevel        string
	ReadLimit       int64
	ReadTimeout     time.Duration
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Load reads the environment.
func Load() *Config {
	return &Config{
		Addr:            getEnv("WSEVENT_ADDR", ":8080"),
		LogLevel:        getEnv("WSEVENT_LOG_LEVEL", "info"),
		ReadLimit:       getEnvInt("WSEVENT_READ_LIMIT", 64<<10),
		ReadTimeout:     getEnvDuration("WSEVENT_READ_TIMEOUT", 0),
		AllowedOrigins:  splitList(os.Getenv("WSEVENT_ALLOWED_ORIGINS")),
		ShutdownTimeout: getEnvDuration("WSEVENT_SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

// BindFlags registers flags that override the loaded values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.Int64Var(&c.ReadLimit, "read-limit", c.ReadLimit, "maximum message size in bytes")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "idle timeout per connection (0 disables)")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origin", c.AllowedOrigins, "origins allowed to connect (repeatable, * for any)")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown timeout")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
