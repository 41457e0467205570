package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "RECORDLENS_CONFIG"

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// Storage
	RedisURL string `yaml:"redisUrl"`

	// Auth
	JWTSecret string `yaml:"jwtSecret"`

	// Language model
	LLMProvider     string `yaml:"llmProvider"`
	AnthropicAPIKey string `yaml:"anthropicApiKey"`
	AnthropicModel  string `yaml:"anthropicModel"`
	OpenAIAPIKey    string `yaml:"openaiApiKey"`
	OpenAIModel     string `yaml:"openaiModel"`
	OpenAIBaseURL   string `yaml:"openaiBaseUrl"`

	// Worker pool
	WorkerCount      int `yaml:"workerCount"`
	MaxQueueSize     int `yaml:"maxQueueSize"`
	MaxConcurrentLLM int `yaml:"maxConcurrentLlm"`

	// Upload limits
	MinUploadBytes int64 `yaml:"minUploadBytes"`
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`

	// Retention
	SessionTTL time.Duration `yaml:"sessionTtl"`
	ResultTTL  time.Duration `yaml:"resultTtl"`
	StaleAfter time.Duration `yaml:"staleAfter"`

	// Chunking
	ChunkSize int `yaml:"chunkSize"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdfFallbackPdftotext"`

	// Upload archive; empty bucket keeps uploads in Redis.
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

func defaults() Config {
	return Config{
		Port:                 "8090",
		LogLevel:             "info",
		RedisURL:             "redis://localhost:6379/0",
		LLMProvider:          "anthropic",
		AnthropicModel:       "claude-sonnet-4-5",
		OpenAIModel:          "gpt-4o-mini",
		WorkerCount:          4,
		MaxQueueSize:         100,
		MaxConcurrentLLM:     4,
		MinUploadBytes:       1024,
		MaxUploadBytes:       10485760, // 10MB
		SessionTTL:           720 * time.Hour,
		ResultTTL:            8760 * time.Hour,
		StaleAfter:           30 * time.Minute,
		ChunkSize:            1200,
		PDFFallbackPdftotext: true,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// RECORDLENS_CONFIG, then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.RedisURL = envOr("REDIS_URL", c.RedisURL)
	c.JWTSecret = envOr("JWT_SECRET", c.JWTSecret)

	c.LLMProvider = envOr("LLM_PROVIDER", c.LLMProvider)
	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = envOr("ANTHROPIC_MODEL", c.AnthropicModel)
	c.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = envOr("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAIBaseURL = envOr("OPENAI_BASE_URL", c.OpenAIBaseURL)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)
	c.MaxConcurrentLLM = envInt("MAX_CONCURRENT_LLM", c.MaxConcurrentLLM)

	c.MinUploadBytes = envInt64("MIN_UPLOAD_BYTES", c.MinUploadBytes)
	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)

	c.SessionTTL = envDuration("SESSION_TTL", c.SessionTTL)
	c.ResultTTL = envDuration("RESULT_TTL", c.ResultTTL)
	c.StaleAfter = envDuration("STALE_AFTER", c.StaleAfter)

	c.ChunkSize = envInt("CHUNK_SIZE", c.ChunkSize)
	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)

	c.S3.Bucket = envOr("S3_BUCKET", c.S3.Bucket)
	c.S3.Region = envOr("S3_REGION", c.S3.Region)
	c.S3.Endpoint = envOr("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKeyID = envOr("S3_ACCESS_KEY_ID", c.S3.AccessKeyID)
	c.S3.SecretAccessKey = envOr("S3_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
}

func (c *Config) applyFloors() {
	d := defaults()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxConcurrentLLM <= 0 {
		c.MaxConcurrentLLM = d.MaxConcurrentLLM
	}
	if c.MinUploadBytes < 0 {
		c.MinUploadBytes = 0
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = d.ResultTTL
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch strings.ToLower(c.LLMProvider) {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	case "openai", "openai-compatible", "openai_compatible":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.MinUploadBytes > c.MaxUploadBytes {
		return fmt.Errorf("MIN_UPLOAD_BYTES (%d) exceeds MAX_UPLOAD_BYTES (%d)", c.MinUploadBytes, c.MaxUploadBytes)
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		return fmt.Errorf("S3_REGION is required when S3_BUCKET is set")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level; unknown values mean debug.
func (c Config) SlogLevel() slog.Level {
	return levelFromString(c.LogLevel)
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
