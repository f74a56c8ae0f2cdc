// Package config loads the PulseBot configuration document: environment
// overlays via godotenv, ${VAR}/${VAR:-default} substitution, then YAML.
package config

// AgentConfig is the `agent` section.
type AgentConfig struct {
	Name        string  `yaml:"name"`
	Model       string  `yaml:"model"`
	Provider    string  `yaml:"provider"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DatabaseConfig is the `database` section: connection to the streaming DB,
// plus an optional out-of-scope metastore DSN (see SPEC_FULL addendum).
type DatabaseConfig struct {
	Host           string `yaml:"host"`
	QueryPort      int    `yaml:"query_port"`
	StreamPort     int    `yaml:"stream_port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	MetastoreDSN   string `yaml:"metastore_dsn,omitempty"`
	DialTimeoutSec int    `yaml:"dial_timeout_seconds"`
}

// ProviderConfig is one entry of `providers.<name>`.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	Host         string `yaml:"host,omitempty"`
	Enabled      bool   `yaml:"enabled"`
}

// ChannelConfig is one entry of `channels.<name>`.
type ChannelConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Credentials map[string]string `yaml:"credentials,omitempty"`
	AllowUsers  []string          `yaml:"allow_users,omitempty"`
}

// KafkaMirrorConfig is the optional external-façade mirror.
type KafkaMirrorConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers,omitempty"`
}

// SkillsConfig is the `skills` section.
type SkillsConfig struct {
	Builtin        []string `yaml:"builtin"`
	Custom         []string `yaml:"custom,omitempty"`
	SkillDirs      []string `yaml:"skill_dirs"`
	DisabledSkills []string `yaml:"disabled_skills,omitempty"`
	MCPServers     []string `yaml:"mcp_servers,omitempty"`
	CacheTTLSec    int      `yaml:"cache_ttl_seconds,omitempty"`
	RedisAddr      string   `yaml:"redis_addr,omitempty"`
}

// SearchConfig is the `search` section, backing the web_search built-in.
type SearchConfig struct {
	Provider    string `yaml:"provider"` // "brave" | "local-alternative"
	Credentials string `yaml:"credentials,omitempty"`
	URL         string `yaml:"url,omitempty"`
}

// MemoryConfig is the `memory` section.
type MemoryConfig struct {
	Enabled                bool    `yaml:"enabled"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold"`
	EmbeddingProvider      string  `yaml:"embedding_provider"`
	EmbeddingModel         string  `yaml:"embedding_model"`
	DimensionOverride      int     `yaml:"dimension_override,omitempty"`
	EmbeddingTimeoutSec    int     `yaml:"embedding_timeout_seconds"`
	EmbeddingCacheRedis    string  `yaml:"embedding_cache_redis,omitempty"`
	QdrantURL              string  `yaml:"qdrant_url,omitempty"`
	QdrantCollection       string  `yaml:"qdrant_collection,omitempty"`
}

// ScheduledTaskConfig is one entry of `scheduled_tasks`.
type ScheduledTaskConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval string         `yaml:"interval,omitempty"` // duration string, e.g. "30m"
	Cron     string         `yaml:"cron,omitempty"`     // 5-field cron expression
	Payload  map[string]any `yaml:"payload,omitempty"`
}

// LoggingConfig is the `logging` section.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
	Path   string `yaml:"path,omitempty"`
}

// OTelConfig controls OpenTelemetry export.
type OTelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// Config is the root document.
type Config struct {
	Agent          AgentConfig                    `yaml:"agent"`
	Database       DatabaseConfig                 `yaml:"database"`
	Providers      map[string]ProviderConfig      `yaml:"providers"`
	Channels       map[string]ChannelConfig       `yaml:"channels"`
	KafkaMirror    KafkaMirrorConfig              `yaml:"kafka_mirror,omitempty"`
	Skills         SkillsConfig                   `yaml:"skills"`
	Search         SearchConfig                   `yaml:"search"`
	Memory         MemoryConfig                   `yaml:"memory"`
	ScheduledTasks map[string]ScheduledTaskConfig `yaml:"scheduled_tasks"`
	Logging        LoggingConfig                  `yaml:"logging"`
	OTel           OTelConfig                     `yaml:"otel"`
}

// Default returns a config with the documented defaults filled in, suitable
// as the basis for `pulsebotd init`.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Name:        "pulsebot",
			Model:       "gpt-4o-mini",
			Provider:    "openai",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			QueryPort:      8463,
			StreamPort:     8463,
			Username:       "default",
			DialTimeoutSec: 10,
		},
		Providers: map[string]ProviderConfig{
			"openai": {Enabled: true},
		},
		Skills: SkillsConfig{
			Builtin:   []string{"shell", "files", "web_search", "web_read"},
			SkillDirs: []string{"./skills"},
		},
		Search: SearchConfig{Provider: "brave"},
		Memory: MemoryConfig{
			Enabled:             true,
			SimilarityThreshold: 0.95,
			EmbeddingProvider:   "openai",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingTimeoutSec: 30,
		},
		ScheduledTasks: map[string]ScheduledTaskConfig{
			"heartbeat":     {Enabled: true, Interval: "30m"},
			"daily_summary": {Enabled: false, Cron: "0 9 * * *"},
			"cost_alert":    {Enabled: true, Interval: "1h"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}
