package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Search backends
const (
	SearchBackendAzure    = "azure"
	SearchBackendPgvector = "pgvector"
	SearchBackendElastic  = "elastic"
)

// Storage backends
const (
	StorageBackendAzblob = "azblob"
	StorageBackendS3     = "s3"
)

// Lock backends
const (
	LockBackendMemory   = "memory"
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	SearchBackend  string `envconfig:"SEARCH_BACKEND" default:"azure"`
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"azblob"`
	LockBackend    string `envconfig:"LOCK_BACKEND" default:"memory"`

	SearchEndpoint   string `envconfig:"AZURE_SEARCH_ENDPOINT"`
	SearchAPIKey     string `envconfig:"AZURE_SEARCH_API_KEY"`
	SearchIndexName  string `envconfig:"AZURE_SEARCH_INDEX_NAME" required:"true"`
	SearchAPIVersion string `envconfig:"AZURE_SEARCH_API_VERSION" default:"2023-11-01"`

	OpenAIEndpoint           string `envconfig:"AZURE_OPENAI_ENDPOINT" required:"true"`
	OpenAIAPIKey             string `envconfig:"AZURE_OPENAI_API_KEY"`
	OpenAIAPIVersion         string `envconfig:"AZURE_OPENAI_API_VERSION" default:"2023-12-01-preview"`
	ChatDeployment           string `envconfig:"AZURE_OPENAI_CHAT_DEPLOYMENT" required:"true"`
	EmbeddingDeployment      string `envconfig:"AZURE_OPENAI_EMBEDDING_DEPLOYMENT" required:"true"`
	EmbeddingDimensions      int    `envconfig:"AZURE_OPENAI_EMBEDDING_DIMENSIONS" default:"1536"`
	StorageAccountURL        string `envconfig:"AZURE_STORAGE_ACCOUNT_URL"`
	StorageConnectionString  string `envconfig:"AZURE_STORAGE_CONNECTION_STRING"`
	StorageAccountResourceID string `envconfig:"AZURE_STORAGE_ACCOUNT_RESOURCE_ID"`
	StorageContainer         string `envconfig:"AZURE_STORAGE_CONTAINER"`
	StorageFolder            string `envconfig:"AZURE_STORAGE_FOLDER"`

	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket       string `envconfig:"S3_BUCKET" default:"ragchat-documents"`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"true"`

	DatabaseURL            string        `envconfig:"DATABASE_URL"`
	DatabaseMaxConns       int32         `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseConnectTimeout time.Duration `envconfig:"DATABASE_CONNECT_TIMEOUT" default:"30s"`
	ElasticsearchURL       string        `envconfig:"ELASTICSEARCH_URL"`
	ElasticsearchUser      string        `envconfig:"ELASTICSEARCH_USERNAME"`
	ElasticsearchPass      string        `envconfig:"ELASTICSEARCH_PASSWORD"`
	RedisURL               string        `envconfig:"REDIS_URL"`

	RetrievalTopK     int           `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	RetrievalTimeout  time.Duration `envconfig:"RETRIEVAL_TIMEOUT" default:"30s"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	VectorK           int           `envconfig:"VECTOR_K" default:"50"`
	QueryRewrite      bool          `envconfig:"QUERY_REWRITE" default:"true"`
	MaxContextChars   int           `envconfig:"MAX_CONTEXT_CHARS" default:"12000"`
	MaxHistoryTurns   int           `envconfig:"MAX_HISTORY_TURNS" default:"10"`
	MaxTokens         int           `envconfig:"MAX_TOKENS" default:"800"`
	Temperature       float32       `envconfig:"TEMPERATURE" default:"0"`
	PromptsFile       string        `envconfig:"PROMPTS_FILE"`

	SessionIdleTTL      time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m"`
	SessionReapInterval time.Duration `envconfig:"SESSION_REAP_INTERVAL" default:"1m"`
	MaxBodyBytes        int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	CORSAllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	ChunkMaxChars       int           `envconfig:"CHUNK_MAX_CHARS" default:"2000"`
	ChunkOverlap        int           `envconfig:"CHUNK_OVERLAP" default:"500"`
	UploadConcurrency   int           `envconfig:"UPLOAD_CONCURRENCY" default:"4"`
	IndexerPollInterval time.Duration `envconfig:"INDEXER_POLL_INTERVAL" default:"5s"`
	IndexerSchedule     string        `envconfig:"INDEXER_SCHEDULE"`
	IndexerConcurrency  int           `envconfig:"INDEXER_CONCURRENCY" default:"4"`
}

// Load reads .env (when present) and the environment, then validates.
// Every failure is a CONFIGURATION_ERROR.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, domain.NewConfigurationError("failed to process config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	if err := oneOf("SEARCH_BACKEND", c.SearchBackend, SearchBackendAzure, SearchBackendPgvector, SearchBackendElastic); err != nil {
		return err
	}
	if err := oneOf("STORAGE_BACKEND", c.StorageBackend, StorageBackendAzblob, StorageBackendS3); err != nil {
		return err
	}
	if err := oneOf("LOCK_BACKEND", c.LockBackend, LockBackendMemory, LockBackendRedis, LockBackendPostgres); err != nil {
		return err
	}

	if err := validURL("AZURE_OPENAI_ENDPOINT", c.OpenAIEndpoint); err != nil {
		return err
	}

	switch c.SearchBackend {
	case SearchBackendAzure:
		if c.SearchEndpoint == "" {
			return missing("AZURE_SEARCH_ENDPOINT")
		}
		if err := validURL("AZURE_SEARCH_ENDPOINT", c.SearchEndpoint); err != nil {
			return err
		}
	case SearchBackendPgvector:
		if c.DatabaseURL == "" {
			return missing("DATABASE_URL")
		}
	case SearchBackendElastic:
		if c.ElasticsearchURL == "" {
			return missing("ELASTICSEARCH_URL")
		}
		if c.DatabaseURL == "" && c.RedisURL == "" {
			return domain.NewConfigurationError("elastic backend needs DATABASE_URL or REDIS_URL for indexer state", nil)
		}
	}

	switch c.StorageBackend {
	case StorageBackendAzblob:
		if c.StorageAccountURL == "" && c.StorageConnectionString == "" {
			return domain.NewConfigurationError("AZURE_STORAGE_ACCOUNT_URL or AZURE_STORAGE_CONNECTION_STRING is required", nil)
		}
		if c.StorageAccountURL != "" {
			if err := validURL("AZURE_STORAGE_ACCOUNT_URL", c.StorageAccountURL); err != nil {
				return err
			}
		}
	case StorageBackendS3:
		if c.S3Bucket == "" {
			return missing("S3_BUCKET")
		}
	}

	switch c.LockBackend {
	case LockBackendRedis:
		if c.RedisURL == "" {
			return missing("REDIS_URL")
		}
	case LockBackendPostgres:
		if c.DatabaseURL == "" {
			return missing("DATABASE_URL")
		}
	}

	positive := map[string]int{
		"RETRIEVAL_TOP_K":                   c.RetrievalTopK,
		"MAX_CONTEXT_CHARS":                 c.MaxContextChars,
		"MAX_TOKENS":                        c.MaxTokens,
		"AZURE_OPENAI_EMBEDDING_DIMENSIONS": c.EmbeddingDimensions,
		"CHUNK_MAX_CHARS":                   c.ChunkMaxChars,
	}
	for name, v := range positive {
		if v <= 0 {
			return domain.NewConfigurationError(fmt.Sprintf("%s must be greater than zero", name), nil)
		}
	}
	if c.RetrievalTimeout <= 0 || c.GenerationTimeout <= 0 {
		return domain.NewConfigurationError("RETRIEVAL_TIMEOUT and GENERATION_TIMEOUT must be positive", nil)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxChars {
		return domain.NewConfigurationError("CHUNK_OVERLAP must be between 0 and CHUNK_MAX_CHARS", nil)
	}

	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// UsesSearchAPIKey reports whether Azure AI Search calls use an admin key
// instead of an Entra ID token.
func (c *Config) UsesSearchAPIKey() bool {
	return c.SearchAPIKey != ""
}

// UsesOpenAIAPIKey reports whether Azure OpenAI calls use an API key
// instead of an Entra ID token.
func (c *Config) UsesOpenAIAPIKey() bool {
	return c.OpenAIAPIKey != ""
}

// ContainerName is the storage container holding source documents.
func (c *Config) ContainerName() string {
	if c.StorageContainer != "" {
		return c.StorageContainer
	}
	if c.StorageBackend == StorageBackendS3 {
		return c.S3Bucket
	}
	return c.SearchIndexName
}

func (c *Config) DataSourceName() string { return c.SearchIndexName + "-datasource" }
func (c *Config) SkillsetName() string   { return c.SearchIndexName + "-skillset" }
func (c *Config) IndexerName() string    { return c.SearchIndexName + "-indexer" }

// SemanticConfigurationName is the semantic ranker configuration declared on the index.
func (c *Config) SemanticConfigurationName() string {
	return c.SearchIndexName + "-semantic-configuration"
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return domain.NewConfigurationError(fmt.Sprintf("%s must be one of %v, got %q", name, allowed, value), nil)
}

func validURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return domain.NewConfigurationError(fmt.Sprintf("%s is not a valid URL", name), err)
	}
	return nil
}

func missing(name string) error {
	return domain.NewConfigurationError(name+" is required", nil)
}
