// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, Suggest, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Suggest  SuggestConfig  `yaml:"suggest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	RPC      RPCConfig      `yaml:"rpc"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists browser origins allowed to call the API; empty
	// allows any origin.
	CORSOrigins     []string      `yaml:"corsOrigins"`
	// RateLimit is the number of requests per minute allowed per user;
	// zero disables limiting.
	RateLimit       int           `yaml:"rateLimitPerMinute"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ContentChanges  string `yaml:"contentChanges"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls how and when the in-memory index is rebuilt from
// the content store.
type IndexerConfig struct {
	RebuildOnStart  bool          `yaml:"rebuildOnStart"`
	RebuildInterval time.Duration `yaml:"rebuildInterval"`
	RebuildTimeout  time.Duration `yaml:"rebuildTimeout"`
	// ContentTable is the table or view the PostgreSQL content source reads.
	ContentTable string `yaml:"contentTable"`
	// SeedFile, when set, replaces PostgreSQL with a YAML file of documents.
	SeedFile string `yaml:"seedFile"`
}

// SearchConfig controls query defaults, limits and timeouts.
type SearchConfig struct {
	DefaultLimit    int           `yaml:"defaultLimit"`
	MaxLimit        int           `yaml:"maxLimit"`
	MaxResults      int           `yaml:"maxResults"`
	MinScore        float64       `yaml:"minScore"`
	TypoTolerance   int           `yaml:"typoTolerance"`
	SnippetWindow   int           `yaml:"snippetWindow"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
	CacheEnabled    bool          `yaml:"cacheEnabled"`
	DebounceDelay   time.Duration `yaml:"debounceDelay"`
	ExportMaxResult int           `yaml:"exportMaxResults"`
}

// SuggestConfig controls autocomplete and search-history bookkeeping.
type SuggestConfig struct {
	MaxSuggestions      int `yaml:"maxSuggestions"`
	DocumentSuggestions int `yaml:"documentSuggestions"`
	RecentSize          int `yaml:"recentSize"`
	MaxTrackedUsers     int `yaml:"maxTrackedUsers"`
	EventBuffer         int `yaml:"eventBuffer"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RPCConfig controls the JSON-over-TCP RPC listener.
type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       600,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "alumni",
			User:            "alumni",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "alumni-search",
			Topics: KafkaTopics{
				ContentChanges:  "content-changes",
				AnalyticsEvents: "search-analytics",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			RebuildOnStart:  true,
			RebuildInterval: 15 * time.Minute,
			RebuildTimeout:  2 * time.Minute,
			ContentTable:    "search_content",
		},
		Search: SearchConfig{
			DefaultLimit:    10,
			MaxLimit:        100,
			MaxResults:      1000,
			MinScore:        0.1,
			TypoTolerance:   2,
			SnippetWindow:   60,
			QueryTimeout:    2 * time.Second,
			CacheEnabled:    true,
			DebounceDelay:   300 * time.Millisecond,
			ExportMaxResult: 1000,
		},
		Suggest: SuggestConfig{
			MaxSuggestions:      8,
			DocumentSuggestions: 5,
			RecentSize:          5,
			MaxTrackedUsers:     10000,
			EventBuffer:         10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		RPC: RPCConfig{
			Enabled: false,
			Addr:    ":9000",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Server.Port <= 0 {
		err = multierror.Append(err, fmt.Errorf("server.port must be positive"))
	}
	if c.Server.RateLimit < 0 {
		err = multierror.Append(err, fmt.Errorf("server.rateLimitPerMinute must not be negative"))
	}
	if c.Search.DefaultLimit <= 0 {
		err = multierror.Append(err, fmt.Errorf("search.defaultLimit must be positive"))
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		err = multierror.Append(err, fmt.Errorf("search.maxLimit must be >= search.defaultLimit"))
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		err = multierror.Append(err, fmt.Errorf("search.minScore must be within [0,1]"))
	}
	if c.Search.TypoTolerance < 0 {
		err = multierror.Append(err, fmt.Errorf("search.typoTolerance must not be negative"))
	}
	if c.Suggest.MaxSuggestions <= 0 {
		err = multierror.Append(err, fmt.Errorf("suggest.maxSuggestions must be positive"))
	}
	if c.Suggest.RecentSize <= 0 {
		err = multierror.Append(err, fmt.Errorf("suggest.recentSize must be positive"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		err = multierror.Append(err, fmt.Errorf("kafka.brokers required when kafka is enabled"))
	}
	return err
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_INDEXER_REBUILD_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Indexer.RebuildInterval = d
		}
	}
	if v := os.Getenv("SP_INDEXER_SEED_FILE"); v != "" {
		cfg.Indexer.SeedFile = v
	}
	if v := os.Getenv("SP_SEARCH_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.MinScore = f
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SP_RPC_ADDR"); v != "" {
		cfg.RPC.Addr = v
		cfg.RPC.Enabled = true
	}
}
