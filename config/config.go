package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the deal analysis system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Scoring  string `mapstructure:"scoring"`  // framework evaluation (MEDDIC/BANT)
	Fallback string `mapstructure:"fallback"` // fallback model
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	LogFile      string `mapstructure:"log_file"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// MemoryConfig controls episodic/semantic memory behaviour.
type MemoryConfig struct {
	Episodic EpisodicMemoryConfig `mapstructure:"episodic"`
	Semantic SemanticMemoryConfig `mapstructure:"semantic"`
}

// EpisodicMemoryConfig defines retention settings for the interaction log.
type EpisodicMemoryConfig struct {
	Capacity     int `mapstructure:"capacity"`
	RecallLimit  int `mapstructure:"recall_limit"`
	SimilarLimit int `mapstructure:"similar_limit"`
}

// Normalize applies defaults for unset episodic values.
func (c EpisodicMemoryConfig) Normalize() EpisodicMemoryConfig {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.RecallLimit <= 0 {
		c.RecallLimit = 10
	}
	if c.SimilarLimit <= 0 {
		c.SimilarLimit = 5
	}
	return c
}

// SemanticMemoryConfig defines thresholds for learned-pattern retrieval.
type SemanticMemoryConfig struct {
	PlanMinConfidence float64 `mapstructure:"plan_min_confidence"`
	MinSuccessRate    float64 `mapstructure:"min_success_rate"`
	BestLimit         int     `mapstructure:"best_limit"`
}

// Normalize applies defaults for unset semantic values.
func (c SemanticMemoryConfig) Normalize() SemanticMemoryConfig {
	if c.PlanMinConfidence <= 0 {
		c.PlanMinConfidence = 0.3
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = 0.6
	}
	if c.BestLimit <= 0 {
		c.BestLimit = 5
	}
	return c
}

// ScoringConfig selects the framework agent and bounds its output.
type ScoringConfig struct {
	Framework          string `mapstructure:"framework"` // meddic or bant
	MaxRecommendations int    `mapstructure:"max_recommendations"`
}

// Normalize applies defaults for unset scoring values.
func (c ScoringConfig) Normalize() ScoringConfig {
	if strings.TrimSpace(c.Framework) == "" {
		c.Framework = "meddic"
	}
	if c.MaxRecommendations <= 0 {
		c.MaxRecommendations = 3
	}
	return c
}

func (c ScoringConfig) Validate() error {
	switch strings.ToLower(c.Framework) {
	case "meddic", "bant":
		return nil
	default:
		return fmt.Errorf("scoring.framework must be meddic or bant, got %q", c.Framework)
	}
}

// SchedulerConfig controls the background watchlist sweep.
type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	DefaultCron string        `mapstructure:"default_cron"`
}

// Normalize applies defaults for unset scheduler values.
func (c SchedulerConfig) Normalize() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if strings.TrimSpace(c.DefaultCron) == "" {
		c.DefaultCron = "@daily"
	}
	return c
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("memory.episodic.capacity", 1000)
	viper.SetDefault("memory.semantic.plan_min_confidence", 0.3)
	viper.SetDefault("memory.semantic.min_success_rate", 0.6)
	viper.SetDefault("scoring.framework", "meddic")
	viper.SetDefault("scoring.max_recommendations", 3)
	viper.SetDefault("scheduler.default_cron", "@daily")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEALSENSE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (DEALSENSE_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Memory.Episodic = config.Memory.Episodic.Normalize()
	config.Memory.Semantic = config.Memory.Semantic.Normalize()
	config.Scoring = config.Scoring.Normalize()
	config.Scheduler = config.Scheduler.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Scoring.Validate(); err != nil {
		panic(err)
	}
	if config.Scheduler.Enabled {
		if err := config.Storage.Redis.Validate(); err != nil {
			panic(err)
		}
	}
	return &config
}
