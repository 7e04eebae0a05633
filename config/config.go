package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/redis/go-redis/v9"
)

// Config - Global variable to export
var Config AppConfig

// AppConfig defines
type AppConfig struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Cache         CacheConfig         `koanf:"cache"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	Slack         SlackConfig         `koanf:"slack"`
	AI            AIConfig            `koanf:"ai"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Worker        WorkerConfig        `koanf:"worker"`
	Archive       ArchiveConfig       `koanf:"archive"`
	OTELCollector OTELCollectorConfig `koanf:"otelcollector"`
}

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	PublicPort int `koanf:"publicport" validate:"min=1"`
	HTTPS      struct {
		Cert string `koanf:"cert"`
		Key  string `koanf:"key"`
	}
	Debug          bool          `koanf:"debug"`
	RequestTimeout time.Duration `koanf:"requesttimeout"`
	CORSOrigins    []string      `koanf:"corsorigins"`
}

// DatabaseConfig related to database
type DatabaseConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Host     string `koanf:"host" validate:"required"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name" validate:"required"`
	Version  uint   `koanf:"version"`
	TimeZone string `koanf:"timezone"`
	Pool     struct {
		IdleConnections int           `koanf:"idleconnections"`
		MaxConnections  int           `koanf:"maxconnections"`
		ConnLifeTime    time.Duration `koanf:"connlifetime"`
	}
}

// CacheConfig related to Redis
type CacheConfig struct {
	Redis struct {
		RedisOptions redis.Options `koanf:"redisoptions"`
		// StagingTTL bounds how long fetched bytes and extracted text stay in
		// Redis between pipeline steps.
		StagingTTL time.Duration `koanf:"stagingttl"`
	}
}

// TemporalConfig holds the Temporal client connection settings.
type TemporalConfig struct {
	HostPort   string `koanf:"hostport" validate:"required"`
	Namespace  string `koanf:"namespace"`
	ServerName string `koanf:"servername"`
	Ca         string `koanf:"ca"`
	Cert       string `koanf:"cert"`
	Key        string `koanf:"key"`
}

// SlackConfig holds the Slack bot credentials.
type SlackConfig struct {
	BotToken string `koanf:"bottoken" validate:"required"`
	// APIURL overrides the Slack Web API base URL. Empty uses the public API.
	APIURL   string `koanf:"apiurl"`
	PageSize int    `koanf:"pagesize"`
}

// AIConfig selects and configures the metadata inference provider.
type AIConfig struct {
	Provider string       `koanf:"provider" validate:"oneof=openai gemini"`
	OpenAI   OpenAIConfig `koanf:"openai"`
	Gemini   GeminiConfig `koanf:"gemini"`
}

// OpenAIConfig defines the configuration for OpenAI
type OpenAIConfig struct {
	APIKey  string `koanf:"apikey"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"baseurl"`
	// MaxPromptTokens caps the document excerpt sent with the prompt. Zero
	// disables the cap.
	MaxPromptTokens int `koanf:"maxprompttokens"`
}

// GeminiConfig defines the configuration for Gemini AI
type GeminiConfig struct {
	APIKey  string `koanf:"apikey"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"baseurl"`
}

// PipelineConfig is the retry, backoff and rate limit policy of the PDF
// processing task.
type PipelineConfig struct {
	MaxRetries int `koanf:"maxretries" validate:"min=0"`
	Backoff    struct {
		InitialInterval time.Duration `koanf:"initialinterval"`
		Coefficient     float64       `koanf:"coefficient" validate:"gte=1"`
		MaximumInterval time.Duration `koanf:"maximuminterval"`
	} `koanf:"backoff"`
	RateLimit struct {
		Count int           `koanf:"count" validate:"min=0"`
		Per   time.Duration `koanf:"per"`
	} `koanf:"ratelimit"`
	ActivityTimeout time.Duration `koanf:"activitytimeout"`
	PromptPages     int           `koanf:"promptpages" validate:"min=1"`
}

// WorkerConfig bounds the Temporal worker concurrency.
type WorkerConfig struct {
	MaxConcurrentActivities int           `koanf:"maxconcurrentactivities"`
	MaxConcurrentWorkflows  int           `koanf:"maxconcurrentworkflows"`
	StopTimeout             time.Duration `koanf:"stoptimeout"`
}

// ArchiveConfig selects where fetched PDFs are archived, if anywhere.
type ArchiveConfig struct {
	Provider string      `koanf:"provider" validate:"oneof=none minio gcs"`
	Minio    MinioConfig `koanf:"minio"`
	GCS      GCSConfig   `koanf:"gcs"`
}

// MinioConfig is the MinIO archive configuration.
type MinioConfig struct {
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	BucketName string `koanf:"bucketname"`
	Secure     bool   `koanf:"secure"`
}

// GCSConfig defines the configuration for Google Cloud Storage as an archive
// backend.
type GCSConfig struct {
	ProjectID string `koanf:"projectid"`
	Bucket    string `koanf:"bucket"`
	SAKey     string `koanf:"sakey"` // JSON string of service account key
}

// OTELCollectorConfig related to OTEL collector
type OTELCollectorConfig struct {
	Enable bool   `koanf:"enable"`
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
}

var defaults = map[string]any{
	"server.publicport":                8000,
	"server.requesttimeout":            "60s",
	"database.port":                    5432,
	"database.timezone":                "Etc/UTC",
	"database.version":                 1,
	"database.pool.idleconnections":    5,
	"database.pool.maxconnections":     20,
	"database.pool.connlifetime":       "30m",
	"cache.redis.redisoptions.addr":    "localhost:6379",
	"cache.redis.stagingttl":           "1h",
	"temporal.namespace":               "default",
	"slack.pagesize":                   200,
	"ai.provider":                      "openai",
	"ai.openai.model":                  "gpt-4o-mini",
	"ai.gemini.model":                  "gemini-2.5-flash",
	"pipeline.maxretries":              5,
	"pipeline.backoff.initialinterval": "1s",
	"pipeline.backoff.coefficient":     2.0,
	"pipeline.backoff.maximuminterval": "100s",
	"pipeline.ratelimit.count":         10,
	"pipeline.ratelimit.per":           "1m",
	"pipeline.activitytimeout":         "5m",
	"pipeline.promptpages":             2,
	"worker.maxconcurrentactivities":   10,
	"worker.maxconcurrentworkflows":    100,
	"worker.stoptimeout":               "1m",
	"archive.provider":                 "none",
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	cfg, err := Load(filePath)
	if err != nil {
		return err
	}
	Config = *cfg
	return nil
}

// Load reads the configuration layers (defaults, YAML file, .env and CFG_
// environment variables) into a new AppConfig and validates it.
func Load(filePath string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", filePath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, err
	}

	cfg := new(AppConfig)
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAI.APIKey == "" {
			return fmt.Errorf("ai.openai.apikey is required when ai.provider is openai")
		}
	case "gemini":
		if cfg.AI.Gemini.APIKey == "" {
			return fmt.Errorf("ai.gemini.apikey is required when ai.provider is gemini")
		}
	}

	switch cfg.Archive.Provider {
	case "minio":
		if cfg.Archive.Minio.Host == "" || cfg.Archive.Minio.BucketName == "" {
			return fmt.Errorf("archive.minio.host and archive.minio.bucketname are required when archive.provider is minio")
		}
	case "gcs":
		if cfg.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required when archive.provider is gcs")
		}
	}
	return nil
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
