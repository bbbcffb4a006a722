// Package core provides the in-process concept graph client and its
// configuration.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/conceptgraph-go/pkg/embedcache"
	"github.com/oceanbase/conceptgraph-go/pkg/learning"
	"github.com/oceanbase/conceptgraph-go/pkg/reasoning"
	"github.com/oceanbase/conceptgraph-go/pkg/storage/remote"
)

// Adapter modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config contains the complete configuration of a concept graph client.
//
// It includes settings for:
//   - the embedding provider and its cache
//   - the concept store and the strength policy
//   - learning and reasoning thresholds
//   - durable persistence (optional)
//   - the remote adapter and the protocol server address
//
// Example:
//
//	config := core.DefaultConfig()
//	config.Embedder = core.EmbedderConfig{
//	    Provider:   "openai",
//	    APIKey:     "sk-...",
//	    Dimensions: 1536,
//	}
//	config.Persistence = core.PersistenceConfig{
//	    Provider: "sqlite",
//	    SQLite:   core.SQLiteConfig{Path: "./conceptgraph.db"},
//	}
type Config struct {
	// Mode selects the adapter built by OpenAdapter: "local" or "remote".
	Mode string `json:"mode" yaml:"mode"`

	// LogMode is passed to logger.New ("prod", "debug" or empty).
	LogMode string `json:"log_mode" yaml:"log_mode"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// Cache contains the embedding cache and batching parameters.
	Cache embedcache.Config `json:"cache" yaml:"cache"`

	// Redis enables the shared second-level embedding cache (optional).
	Redis *embedcache.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`

	// Graph contains the concept store and strength settings.
	Graph GraphConfig `json:"graph" yaml:"graph"`

	// Learning contains the learner configuration.
	Learning learning.Config `json:"learning" yaml:"learning"`

	// Reasoning contains the reasoning engine configuration.
	Reasoning reasoning.Config `json:"reasoning" yaml:"reasoning"`

	// Persistence selects the durable backend (optional).
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`

	// Remote configures the remote adapter used in "remote" mode.
	Remote remote.Config `json:"remote" yaml:"remote"`

	// ListenAddr is where the protocol server listens.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// MetricsAddr is where the server exposes /metrics. Empty disables it.
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

// EmbedderConfig contains configuration for the embedding provider.
type EmbedderConfig struct {
	// Provider is "local", "openai" or "qwen".
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is required by the hosted providers.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model overrides the provider's default model.
	Model string `json:"model" yaml:"model"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Dimensions is the vector dimension D.
	Dimensions int `json:"dimensions" yaml:"dimensions"`

	// Seed varies the local provider's hashing.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// GraphConfig contains concept store and strength settings.
type GraphConfig struct {
	// DuplicateThreshold is the cosine similarity above which a new content
	// merges into an existing concept. 0 disables similarity dedup.
	DuplicateThreshold float64 `json:"duplicate_threshold" yaml:"duplicate_threshold"`

	// MergeFactor scales merged association weights.
	MergeFactor float64 `json:"merge_factor" yaml:"merge_factor"`

	// RejectDuplicateAssociations makes duplicate edges fail instead of merge.
	RejectDuplicateAssociations bool `json:"reject_duplicate_associations" yaml:"reject_duplicate_associations"`

	// DecayRate is the Ebbinghaus decay rate per day.
	DecayRate float64 `json:"decay_rate" yaml:"decay_rate"`

	// ReinforcementFactor is how much a re-learned concept strengthens.
	ReinforcementFactor float64 `json:"reinforcement_factor" yaml:"reinforcement_factor"`

	// PruneThreshold overrides the strength below which Prune removes
	// concepts. 0 keeps the strength manager's working threshold.
	PruneThreshold float64 `json:"prune_threshold" yaml:"prune_threshold"`

	// MaintenanceInterval runs Decay then Prune periodically. 0 disables it.
	MaintenanceInterval time.Duration `json:"maintenance_interval" yaml:"maintenance_interval"`
}

// PersistenceConfig selects and configures the durable backend.
type PersistenceConfig struct {
	// Provider is "", "sqlite", "postgres", "oceanbase" or "neo4j".
	// Empty keeps the graph in memory only.
	Provider string `json:"provider" yaml:"provider"`

	// TablePrefix prefixes the SQL tables (default: "conceptgraph").
	TablePrefix string `json:"table_prefix" yaml:"table_prefix"`

	// Timeout bounds each journal write (default: 10s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	SQLite    SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres  DatabaseConfig `json:"postgres" yaml:"postgres"`
	OceanBase DatabaseConfig `json:"oceanbase" yaml:"oceanbase"`
	Neo4j     Neo4jConfig    `json:"neo4j" yaml:"neo4j"`
}

// SQLiteConfig configures the SQLite persister.
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

// DatabaseConfig configures a networked SQL persister.
type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`

	// SSLMode is only used by PostgreSQL.
	SSLMode string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
}

// Neo4jConfig configures the Neo4j persister.
type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

// DefaultConfig returns a local, memory-only configuration using the
// feature-hashing embedder.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeLocal,
		Embedder: EmbedderConfig{
			Provider:   "local",
			Dimensions: 256,
		},
		Cache: embedcache.DefaultConfig(),
		Graph: GraphConfig{
			DuplicateThreshold:  0.95,
			MergeFactor:         0.5,
			DecayRate:           0.1,
			ReinforcementFactor: 0.3,
		},
		Learning:   learning.DefaultConfig(),
		Reasoning:  reasoning.DefaultConfig(),
		ListenAddr: "127.0.0.1:7687",
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// A .env file found by FindEnvFile is loaded first; variables already set
// in the environment win over it. Unset variables keep DefaultConfig values.
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	}

	cfg := DefaultConfig()
	e := &envReader{}

	cfg.Mode = getEnvOrDefault("CONCEPTGRAPH_MODE", cfg.Mode)
	cfg.LogMode = os.Getenv("LOG_MODE")
	cfg.ListenAddr = getEnvOrDefault("CONCEPTGRAPH_LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = os.Getenv("CONCEPTGRAPH_METRICS_ADDR")

	cfg.Embedder.Provider = getEnvOrDefault("EMBEDDING_PROVIDER", cfg.Embedder.Provider)
	cfg.Embedder.APIKey = os.Getenv("EMBEDDING_API_KEY")
	cfg.Embedder.Model = os.Getenv("EMBEDDING_MODEL")
	cfg.Embedder.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	cfg.Embedder.Dimensions = e.int("EMBEDDING_DIMS", cfg.Embedder.Dimensions)
	cfg.Embedder.Seed = e.uint("EMBEDDING_SEED", cfg.Embedder.Seed)

	cfg.Cache.Capacity = e.int("EMBEDDING_CACHE_CAPACITY", cfg.Cache.Capacity)
	cfg.Cache.MaxBatchSize = e.int("EMBEDDING_CACHE_MAX_BATCH_SIZE", cfg.Cache.MaxBatchSize)
	cfg.Cache.MaxWait = e.duration("EMBEDDING_CACHE_MAX_WAIT", cfg.Cache.MaxWait)
	cfg.Cache.MaxRetries = uint(e.uint("EMBEDDING_CACHE_MAX_RETRIES", uint64(cfg.Cache.MaxRetries)))
	cfg.Cache.CallTimeout = e.duration("EMBEDDING_CACHE_CALL_TIMEOUT", cfg.Cache.CallTimeout)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = &embedcache.RedisConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       e.int("REDIS_DB", 0),
			Prefix:   os.Getenv("REDIS_PREFIX"),
			TTL:      e.duration("REDIS_TTL", 0),
		}
	}

	cfg.Graph.DuplicateThreshold = e.float("GRAPH_DUPLICATE_THRESHOLD", cfg.Graph.DuplicateThreshold)
	cfg.Graph.RejectDuplicateAssociations = e.bool("GRAPH_REJECT_DUPLICATE_ASSOCIATIONS", false)
	cfg.Graph.DecayRate = e.float("GRAPH_DECAY_RATE", cfg.Graph.DecayRate)
	cfg.Graph.ReinforcementFactor = e.float("GRAPH_REINFORCEMENT_FACTOR", cfg.Graph.ReinforcementFactor)
	cfg.Graph.PruneThreshold = e.float("GRAPH_PRUNE_THRESHOLD", 0)
	cfg.Graph.MaintenanceInterval = e.duration("GRAPH_MAINTENANCE_INTERVAL", 0)

	cfg.Reasoning.MaxExpansions = e.int("REASONING_MAX_EXPANSIONS", cfg.Reasoning.MaxExpansions)
	cfg.Reasoning.Timeout = e.duration("REASONING_TIMEOUT", cfg.Reasoning.Timeout)

	cfg.Persistence.Provider = os.Getenv("PERSISTENCE_PROVIDER")
	cfg.Persistence.TablePrefix = os.Getenv("PERSISTENCE_TABLE_PREFIX")
	switch cfg.Persistence.Provider {
	case "sqlite":
		cfg.Persistence.SQLite.Path = getEnvOrDefault("SQLITE_PATH", "./conceptgraph.db")
	case "postgres":
		cfg.Persistence.Postgres = DatabaseConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     e.int("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Database: getEnvOrDefault("POSTGRES_DATABASE", "conceptgraph"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "oceanbase":
		cfg.Persistence.OceanBase = DatabaseConfig{
			Host:     getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			Port:     e.int("OCEANBASE_PORT", 2881),
			User:     getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			Password: os.Getenv("OCEANBASE_PASSWORD"),
			Database: getEnvOrDefault("OCEANBASE_DATABASE", "conceptgraph"),
		}
	case "neo4j":
		cfg.Persistence.Neo4j = Neo4jConfig{
			URI:      getEnvOrDefault("NEO4J_URI", "bolt://localhost:7687"),
			User:     getEnvOrDefault("NEO4J_USER", "neo4j"),
			Password: os.Getenv("NEO4J_PASSWORD"),
			Database: os.Getenv("NEO4J_DATABASE"),
		}
	}

	cfg.Remote.Addr = os.Getenv("CONCEPTGRAPH_REMOTE_ADDR")
	cfg.Remote.RequestTimeout = e.duration("CONCEPTGRAPH_REMOTE_TIMEOUT", 0)
	cfg.Remote.MaxRetries = uint(e.uint("CONCEPTGRAPH_REMOTE_MAX_RETRIES", 0))

	if e.err != nil {
		return nil, NewOpError("LoadConfigFromEnv", e.err)
	}
	return cfg, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields absent
// from the file keep their DefaultConfig values.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewOpError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewOpError("LoadConfigFromJSON", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Durations may be
// written as "10ms" or "5s".
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewOpError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewOpError("LoadConfigFromYAML", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return config, nil
}

// LoadConfig picks the loader from the file extension: .json, .yaml/.yml or
// anything else as a .env file. An empty path loads from the environment.
func LoadConfig(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return LoadConfigFromEnv()
		}
		return LoadConfigFromEnvFile(path)
	case ".json":
		return LoadConfigFromJSON(path)
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	default:
		return LoadConfigFromEnvFile(path)
	}
}

// Validate validates the configuration.
//
// Checks that:
//   - the mode is "local" or "remote"
//   - remote mode has an address
//   - local mode has a known embedding provider and persistence backend
//   - thresholds lie in [0, 1]
func (c *Config) Validate() error {
	return c.validate(true)
}

// validate skips the embedder checks when the provider is injected.
func (c *Config) validate(checkEmbedder bool) error {
	invalid := func(format string, args ...interface{}) error {
		return NewOpError("Validate", fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
	}

	switch c.Mode {
	case ModeRemote:
		if c.Remote.Addr == "" {
			return invalid("remote mode needs an address")
		}
		return nil
	case ModeLocal, "":
	default:
		return invalid("unknown mode %q", c.Mode)
	}

	if checkEmbedder {
		switch c.Embedder.Provider {
		case "local":
		case "openai", "qwen":
			if c.Embedder.APIKey == "" {
				return invalid("embedding provider %s needs an api key", c.Embedder.Provider)
			}
		default:
			return invalid("unknown embedding provider %q", c.Embedder.Provider)
		}
		if c.Embedder.Dimensions < 0 {
			return invalid("negative embedding dimensions")
		}
	}

	switch c.Persistence.Provider {
	case "", "none":
	case "sqlite":
		if c.Persistence.SQLite.Path == "" {
			return invalid("sqlite persistence needs a path")
		}
	case "postgres", "oceanbase":
		if checkEmbedder && c.Embedder.Dimensions <= 0 {
			return invalid("%s persistence needs fixed embedding dimensions", c.Persistence.Provider)
		}
	case "neo4j":
		if c.Persistence.Neo4j.URI == "" {
			return invalid("neo4j persistence needs a uri")
		}
	default:
		return invalid("unknown persistence provider %q", c.Persistence.Provider)
	}

	g := c.Graph
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"duplicate_threshold", g.DuplicateThreshold},
		{"reinforcement_factor", g.ReinforcementFactor},
		{"prune_threshold", g.PruneThreshold},
	} {
		if f.v < 0 || f.v > 1 {
			return invalid("%s must lie in [0, 1], got %v", f.name, f.v)
		}
	}
	if g.DecayRate < 0 {
		return invalid("negative decay rate")
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
	}
}

func (e *envReader) int(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) uint(key string, def uint64) uint64 {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
