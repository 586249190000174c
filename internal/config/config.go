// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
}

// ReplicaConfig holds the settings of the local replica
type ReplicaConfig struct {
	ID             string
	FeedWindow     int // posts pushed to feed observers
	RecentLimit    int // posts the decision source observes
	LogCapacity    int
	PingInterval   time.Duration
	RequestTimeout time.Duration
	Retention      time.Duration // 0 disables pruning
	BytesPerObject int64
}

// StorageConfig selects the durable store backend
type StorageConfig struct {
	Type          string // "sqlite", "postgres" or "mongo"
	Path          string // sqlite file
	URI           string // postgres DSN or mongo URI
	MongoDatabase string
}

// ChannelConfig selects the replication channel
type ChannelConfig struct {
	Type     string // "local" or "relay"
	RelayURL string
	Scope    string
}

// AgentConfig configures the optional autonomous participant
type AgentConfig struct {
	Enabled  bool
	Interval time.Duration
	Decider  string // "random" or "gemini"
	APIKey   string
	Model    string
}

// LogConfig stores the config for logging purpose
type LogConfig struct {
	Level  string
	Format string // "text" or "json"
	Path   string
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Replica        *ReplicaConfig
	Storage        *StorageConfig
	Channel        *ChannelConfig
	Agent          *AgentConfig
	Log            LogConfig
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "127.0.0.1",
		MetricsEnabled: true,
	}
}

// DefaultReplicaConfig provides default replica settings
func DefaultReplicaConfig() *ReplicaConfig {
	return &ReplicaConfig{
		FeedWindow:     50,
		RecentLimit:    10,
		LogCapacity:    100,
		PingInterval:   5 * time.Second,
		RequestTimeout: 5 * time.Second,
		Retention:      24 * time.Hour,
		BytesPerObject: 1024,
	}
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by viper.
func SetDefaults(v *viper.Viper) {
	server := DefaultConfig()
	replica := DefaultReplicaConfig()

	v.SetDefault("server.host", server.Host)
	v.SetDefault("server.port", server.Port)
	v.SetDefault("server.metrics", server.MetricsEnabled)

	v.SetDefault("replica.id", "")
	v.SetDefault("replica.feed_window", replica.FeedWindow)
	v.SetDefault("replica.recent_limit", replica.RecentLimit)
	v.SetDefault("replica.log_capacity", replica.LogCapacity)
	v.SetDefault("replica.ping_interval", replica.PingInterval)
	v.SetDefault("replica.request_timeout", replica.RequestTimeout)
	v.SetDefault("replica.retention", replica.Retention)
	v.SetDefault("replica.bytes_per_object", replica.BytesPerObject)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "data/feed.sqlite3")
	v.SetDefault("storage.uri", "")
	v.SetDefault("storage.mongo_database", "feedmesh")

	v.SetDefault("channel.type", "relay")
	v.SetDefault("channel.relay_url", "ws://127.0.0.1:7070/relay")
	v.SetDefault("channel.scope", "molt_signaling_layer")

	v.SetDefault("agent.enabled", false)
	v.SetDefault("agent.interval", 12*time.Second)
	v.SetDefault("agent.decider", "random")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.model", "gemini-2.5-flash")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.path", "")

	v.SetDefault("allowed_origins", "*")
	v.SetDefault("debug", false)
}

// LoadConfig loads configuration from .env files, FEED_* environment
// variables and whatever flags were bound to v, then applies defaults.
func LoadConfig(v *viper.Viper) (*Config, error) {
	// Try to load .env file from multiple possible locations
	envLocations := []string{
		".env",          // Current directory
		"../../.env",    // Project root when running from cmd/replica
		"../../../.env", // Even higher directory
		filepath.Join(os.Getenv("GOPATH"), "src/feedmesh/.env"), // GOPATH location
	}
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			break
		}
	}

	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names shared with other tooling.
	if uri := os.Getenv("DATABASE_URL"); uri != "" && v.GetString("storage.uri") == "" {
		v.Set("storage.uri", uri)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && v.GetString("agent.api_key") == "" {
		v.Set("agent.api_key", key)
	}

	config := &Config{
		Server: &ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			MetricsEnabled: v.GetBool("server.metrics"),
		},
		Replica: &ReplicaConfig{
			ID:             v.GetString("replica.id"),
			FeedWindow:     v.GetInt("replica.feed_window"),
			RecentLimit:    v.GetInt("replica.recent_limit"),
			LogCapacity:    v.GetInt("replica.log_capacity"),
			PingInterval:   v.GetDuration("replica.ping_interval"),
			RequestTimeout: v.GetDuration("replica.request_timeout"),
			Retention:      v.GetDuration("replica.retention"),
			BytesPerObject: v.GetInt64("replica.bytes_per_object"),
		},
		Storage: &StorageConfig{
			Type:          strings.ToLower(v.GetString("storage.type")),
			Path:          v.GetString("storage.path"),
			URI:           v.GetString("storage.uri"),
			MongoDatabase: v.GetString("storage.mongo_database"),
		},
		Channel: &ChannelConfig{
			Type:     strings.ToLower(v.GetString("channel.type")),
			RelayURL: v.GetString("channel.relay_url"),
			Scope:    v.GetString("channel.scope"),
		},
		Agent: &AgentConfig{
			Enabled:  v.GetBool("agent.enabled"),
			Interval: v.GetDuration("agent.interval"),
			Decider:  strings.ToLower(v.GetString("agent.decider")),
			APIKey:   v.GetString("agent.api_key"),
			Model:    v.GetString("agent.model"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Path:   v.GetString("log.path"),
		},
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		Debug:          v.GetBool("debug"),
	}

	if config.Replica.ID == "" {
		config.Replica.ID = "replica-" + uuid.NewString()[:8]
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the combinations LoadConfig cannot default away.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required when storage.type is sqlite")
		}
	case "postgres", "mongo":
		if c.Storage.URI == "" {
			return fmt.Errorf("storage.uri (or DATABASE_URL) is required when storage.type is %s", c.Storage.Type)
		}
	default:
		return fmt.Errorf("unsupported storage.type '%s'", c.Storage.Type)
	}

	switch c.Channel.Type {
	case "local":
	case "relay":
		if c.Channel.RelayURL == "" {
			return fmt.Errorf("channel.relay_url is required when channel.type is relay")
		}
	default:
		return fmt.Errorf("unsupported channel.type '%s'", c.Channel.Type)
	}

	if c.Replica.FeedWindow <= 0 {
		return fmt.Errorf("replica.feed_window must be positive, got %d", c.Replica.FeedWindow)
	}
	if c.Agent.Enabled && c.Agent.Decider == "gemini" && c.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key (or GEMINI_API_KEY) is required for the gemini decider")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
