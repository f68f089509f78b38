package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Model serving shim
	HTTPAddr   string `yaml:"http_addr"`
	Port       int    `yaml:"port"`
	ModelName  string `yaml:"model_name"`
	ModelPath  string `yaml:"model_path"`
	ModelURL   string `yaml:"model_url"`
	RuntimeURL string `yaml:"runtime_url"`
	MaxTokens  int    `yaml:"max_tokens"`
	QueueSize  int    `yaml:"queue_size"`

	// NATS transport (disabled when NatsURL is empty)
	NatsURL    string `yaml:"nats_url"`
	QueueGroup string `yaml:"queue_group"`

	// Database
	DBPath string `yaml:"db_path"`

	// Presentation process
	UIAddr         string        `yaml:"ui_addr"`
	DatasetPath    string        `yaml:"dataset_path"`
	DatasetLimit   int           `yaml:"dataset_limit"`
	BackendURL     string        `yaml:"backend_url"`
	BackendKind    string        `yaml:"backend_kind"`
	BackendModel   string        `yaml:"backend_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	SummaryCacheSize int           `yaml:"summary_cache_size"`
	SummaryCacheTTL  time.Duration `yaml:"summary_cache_ttl"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTPAddr:         ":8000",
		ModelName:        "safety-advisor",
		ModelPath:        "data/models/gemma-3-finetune.Q8_0.gguf",
		RuntimeURL:       "http://127.0.0.1:8080",
		MaxTokens:        256,
		QueueSize:        64,
		QueueGroup:       "workers",
		DBPath:           "data/llmserver.sqlite",
		UIAddr:           ":8501",
		DatasetPath:      "dataset.csv",
		DatasetLimit:     500,
		BackendURL:       "http://localhost:11434",
		BackendKind:      "generate",
		BackendModel:     "safety-advisor",
		RequestTimeout:   60 * time.Second,
		SummaryCacheSize: 1000,
		SummaryCacheTTL:  10 * time.Minute,
		LogLevel:         "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and finally the process environment. Later sources win.
func Load(envFile, yamlFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	cfg := Default()
	if yamlFile != "" {
		raw, err := os.ReadFile(yamlFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", yamlFile, err)
		}
		if cfg.Port > 0 {
			cfg.HTTPAddr = fmt.Sprintf(":%d", cfg.Port)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + strings.TrimPrefix(port, ":")
	}
	cfg.ModelName = getEnv("MODEL_NAME", cfg.ModelName)
	cfg.ModelPath = getEnv("MODEL_PATH", cfg.ModelPath)
	cfg.ModelURL = getEnv("MODEL_URL", cfg.ModelURL)
	cfg.RuntimeURL = getEnv("RUNTIME_URL", cfg.RuntimeURL)
	cfg.MaxTokens = getEnvInt("MAX_TOKENS", cfg.MaxTokens)
	cfg.QueueSize = getEnvInt("QUEUE_SIZE", cfg.QueueSize)
	cfg.NatsURL = getEnv("NATS_URL", cfg.NatsURL)
	cfg.QueueGroup = getEnv("QUEUE_GROUP", cfg.QueueGroup)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.UIAddr = getEnv("UI_ADDR", cfg.UIAddr)
	cfg.DatasetPath = getEnv("DATASET_PATH", cfg.DatasetPath)
	cfg.DatasetLimit = getEnvInt("DATASET_LIMIT", cfg.DatasetLimit)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.BackendKind = getEnv("BACKEND_KIND", cfg.BackendKind)
	cfg.BackendModel = getEnv("BACKEND_MODEL", cfg.BackendModel)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.SummaryCacheSize = getEnvInt("SUMMARY_CACHE_SIZE", cfg.SummaryCacheSize)
	cfg.SummaryCacheTTL = getEnvDuration("SUMMARY_CACHE_TTL", cfg.SummaryCacheTTL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.BackendKind {
	case "generate", "infer", "nats":
	default:
		return fmt.Errorf("unknown backend_kind %q (want generate, infer or nats)", c.BackendKind)
	}
	if c.BackendKind == "nats" && c.NatsURL == "" {
		return fmt.Errorf("backend_kind nats requires nats_url")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.DatasetLimit < 1 {
		return fmt.Errorf("dataset_limit must be positive, got %d", c.DatasetLimit)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
