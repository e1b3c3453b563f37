package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"apiKeys"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// StoreConfig selects the job store backend: memory, redis or postgres.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
}

// QueueConfig selects the work queue backend: memory, redis or rabbitmq.
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Name     string         `yaml:"name"`
	Capacity int            `yaml:"capacity"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// StagingConfig selects where uploads wait for a worker: local or s3.
type StagingConfig struct {
	Driver   string   `yaml:"driver"`
	LocalDir string   `yaml:"localDir"`
	S3       S3Config `yaml:"s3"`
}

// UploadConfig holds the submission limits.
type UploadConfig struct {
	AllowedTypes   []string `yaml:"allowedTypes"`
	MaxFileSizeMB  int      `yaml:"maxFileSizeMB"`
	MaxBatchSizeMB int      `yaml:"maxBatchSizeMB"`
	MinBatchFiles  int      `yaml:"minBatchFiles"`
	MaxBatchFiles  int      `yaml:"maxBatchFiles"`
}

func (u UploadConfig) MaxFileBytes() int64  { return int64(u.MaxFileSizeMB) << 20 }
func (u UploadConfig) MaxBatchBytes() int64 { return int64(u.MaxBatchSizeMB) << 20 }

// RequestBodyLimit is the largest request the HTTP server accepts. It admits
// a full batch of maximum-size files plus the multipart envelope, so the
// aggregate batch limit is checked by the submission validator instead of
// the transport.
func (u UploadConfig) RequestBodyLimit() int {
	limit := int64(u.MaxBatchFiles) * u.MaxFileBytes()
	if b := u.MaxBatchBytes(); b > limit {
		limit = b
	}
	return int(limit + 4<<20)
}

type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	EmbedBatchSize    int `yaml:"embedBatchSize"`
}

// RetryConfig controls retries of the embedding and storage steps.
type RetryConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
	BaseDelayMs int `yaml:"baseDelayMs"`
	MaxDelayMs  int `yaml:"maxDelayMs"`
}

// RetentionConfig controls how long job records stay visible and how
// often expired records are swept.
type RetentionConfig struct {
	JobTTLHours            int `yaml:"jobTTLHours"`
	CleanupIntervalMinutes int `yaml:"cleanupIntervalMinutes"`
}

func (r RetentionConfig) JobTTL() time.Duration {
	return time.Duration(r.JobTTLHours) * time.Hour
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type GoogleConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig selects the embedding provider: openai, google or hash.
type EmbeddingConfig struct {
	Provider   string       `yaml:"provider"`
	Dimensions int          `yaml:"dimensions"`
	TimeoutMs  int          `yaml:"timeoutMs"`
	OpenAI     OpenAIConfig `yaml:"openai"`
	Google     GoogleConfig `yaml:"google"`
}

// VectorStoreConfig selects the vector store backend: memory or postgres.
type VectorStoreConfig struct {
	Driver string `yaml:"driver"`
}

type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Store       StoreConfig       `yaml:"store"`
	Queue       QueueConfig       `yaml:"queue"`
	Staging     StagingConfig     `yaml:"staging"`
	Upload      UploadConfig      `yaml:"upload"`
	Worker      WorkerConfig      `yaml:"worker"`
	Retry       RetryConfig       `yaml:"retry"`
	Retention   RetentionConfig   `yaml:"retention"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vectorstore"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
}

// Load reads the YAML config at path, expanding ${VAR} references from the
// environment (and from a .env file when one is present).
func Load(path string) *Config {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return cfg
}

// Parse decodes YAML config bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied, suitable for a
// single-process deployment with in-memory backends.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "embedding"
	}
	if c.Staging.Driver == "" {
		c.Staging.Driver = "local"
	}
	if c.Staging.LocalDir == "" {
		c.Staging.LocalDir = "uploads"
	}
	if len(c.Upload.AllowedTypes) == 0 {
		c.Upload.AllowedTypes = []string{"pdf", "pptx"}
	}
	for i, t := range c.Upload.AllowedTypes {
		c.Upload.AllowedTypes[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))
	}
	if c.Upload.MaxFileSizeMB <= 0 {
		c.Upload.MaxFileSizeMB = 50
	}
	if c.Upload.MaxBatchSizeMB <= 0 {
		c.Upload.MaxBatchSizeMB = 200
	}
	if c.Upload.MinBatchFiles <= 0 {
		c.Upload.MinBatchFiles = 2
	}
	if c.Upload.MaxBatchFiles <= 0 {
		c.Upload.MaxBatchFiles = 10
	}
	if c.Worker.MaxConcurrentJobs <= 0 {
		c.Worker.MaxConcurrentJobs = 4
	}
	if c.Worker.EmbedBatchSize <= 0 {
		c.Worker.EmbedBatchSize = 32
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 1000
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 10000
	}
	if c.Retention.JobTTLHours <= 0 {
		c.Retention.JobTTLHours = 24
	}
	if c.Retention.CleanupIntervalMinutes <= 0 {
		c.Retention.CleanupIntervalMinutes = 60
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hash"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.TimeoutMs <= 0 {
		c.Embedding.TimeoutMs = 30000
	}
	if c.Embedding.OpenAI.Model == "" {
		c.Embedding.OpenAI.Model = "text-embedding-3-small"
	}
	if c.Embedding.Google.Model == "" {
		c.Embedding.Google.Model = "text-embedding-004"
	}
	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = "memory"
	}
	if c.Chunker.ChunkSize <= 0 {
		c.Chunker.ChunkSize = 1000
	}
	if c.Chunker.ChunkOverlap <= 0 {
		c.Chunker.ChunkOverlap = 200
	}
}
