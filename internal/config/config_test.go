package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "relay", cfg.Channel.Type)
	assert.Equal(t, "molt_signaling_layer", cfg.Channel.Scope)
	assert.Equal(t, 50, cfg.Replica.FeedWindow)
	assert.Equal(t, 10, cfg.Replica.RecentLimit)
	assert.Equal(t, 100, cfg.Replica.LogCapacity)
	assert.Equal(t, 12*time.Second, cfg.Agent.Interval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Contains(t, cfg.Replica.ID, "replica-")
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("FEED_SERVER_PORT", "9090")
	t.Setenv("FEED_REPLICA_ID", "alpha")
	t.Setenv("FEED_CHANNEL_TYPE", "LOCAL")
	t.Setenv("FEED_REPLICA_PING_INTERVAL", "2s")
	t.Setenv("FEED_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := LoadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "alpha", cfg.Replica.ID)
	assert.Equal(t, "local", cfg.Channel.Type)
	assert.Equal(t, 2*time.Second, cfg.Replica.PingInterval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadConfigSharedNames(t *testing.T) {
	t.Setenv("FEED_STORAGE_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/feed")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := LoadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/feed", cfg.Storage.URI)
	assert.Equal(t, "k", cfg.Agent.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown storage", map[string]string{"FEED_STORAGE_TYPE": "redis"}},
		{"mongo without uri", map[string]string{"FEED_STORAGE_TYPE": "mongo"}},
		{"unknown channel", map[string]string{"FEED_CHANNEL_TYPE": "carrier-pigeon"}},
		{"gemini without key", map[string]string{"FEED_AGENT_ENABLED": "true", "FEED_AGENT_DECIDER": "gemini"}},
		{"empty window", map[string]string{"FEED_REPLICA_FEED_WINDOW": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("GEMINI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(viper.New())
			assert.Error(t, err)
		})
	}
}
