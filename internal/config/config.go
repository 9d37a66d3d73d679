package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Simulation SimulationConfig `json:"simulation"`
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database"`
	Embedding  EmbeddingConfig  `json:"embedding"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Models         []string          `json:"models,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Default        bool              `json:"default,omitempty"`
}

// Engine names accepted by SimulationConfig.Engine.
const (
	EngineSingle   = "single"
	EnginePipeline = "pipeline"
)

// SimulationConfig tunes the scheduler, the model gateway and memory.
type SimulationConfig struct {
	RunID             string  `json:"run_id,omitempty"`
	MaxTurns          int     `json:"max_turns"`
	Engine            string  `json:"engine"`
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	TransportAttempts int     `json:"transport_attempts"`
	// RetryDelayMillis < 0 retries without waiting.
	RetryDelayMillis int   `json:"retry_delay_ms"`
	MaxCorrections   int   `json:"max_corrections"`
	RecentLimit      int   `json:"recent_limit"`
	RelevantLimit    int   `json:"relevant_limit"`
	SummaryThreshold int   `json:"summary_threshold"`
	SummaryMaxChars  int   `json:"summary_max_chars"`
	ReflectEvery     int64 `json:"reflect_every"`
	QueueSize        int   `json:"queue_size"`
	Seed             int64 `json:"seed"`
}

// Defaults fills zero values. ReflectEvery and Seed keep zero: no periodic
// reflection and a time-based seed.
func (s SimulationConfig) Defaults() SimulationConfig {
	if s.MaxTurns <= 0 {
		s.MaxTurns = 50
	}
	if s.Engine == "" {
		s.Engine = EngineSingle
	}
	if s.Temperature == 0 {
		s.Temperature = 0.7
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = 180
	}
	if s.TransportAttempts <= 0 {
		s.TransportAttempts = 3
	}
	if s.RetryDelayMillis == 0 {
		s.RetryDelayMillis = 2000
	}
	if s.MaxCorrections <= 0 {
		s.MaxCorrections = 2
	}
	if s.RecentLimit <= 0 {
		s.RecentLimit = 5
	}
	if s.RelevantLimit == 0 {
		s.RelevantLimit = 3
	}
	if s.SummaryThreshold <= 0 {
		s.SummaryThreshold = 160
	}
	if s.SummaryMaxChars <= 0 {
		s.SummaryMaxChars = 50
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 64
	}
	return s
}

func (s SimulationConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RetryDelay is negative when retries should not wait.
func (s SimulationConfig) RetryDelay() time.Duration {
	if s.RetryDelayMillis < 0 {
		return -1
	}
	return time.Duration(s.RetryDelayMillis) * time.Millisecond
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	AppToken  string `json:"app_token"`
	ChannelID string `json:"channel_id"`
}

type DiscordGatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	SQLite   SQLiteConfig   `json:"sqlite"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config JSON after environment substitution.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.Simulation = cfg.Simulation.Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	return &cfg, nil
}
