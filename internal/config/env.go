package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	S3Endpoint   string
	BucketName   string

	DatabaseURL string
	SslCertPath string

	EmbedProvider string
	AIAPIKey      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	EmbedModel    string
	EmbedDim      int

	Extractor string

	VectorBackend     string
	ChromemPath       string
	ChromemCollection string
	ChromemCompress   bool

	RegistryBackend string
	RegistryURL     string
	RegistryToken   string

	JWTSecret    string
	RedisAddr    string
	OtelEndpoint string

	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration

	TuningPath string
	Tuning     *Tuning
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BackendPgvector = "pgvector"
	BackendChromem  = "chromem"

	RegistryPostgres = "postgres"
	RegistryHTTP     = "http"
	RegistryLog      = "log"

	ExtractorPDF     = "pdf"
	ExtractorDocconv = "docconv"
)

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// Load reads .env (if present), the environment and the tuning file, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "3003"),
		AwsAccessKey:      getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:      getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:         getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		BucketName:        getEnv("BUCKET_NAME", "docchat"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SslCertPath:       getEnv("SSL_CERT_PATH", ""),
		EmbedProvider:     strings.ToLower(getEnv("EMBED_PROVIDER", ProviderGemini)),
		AIAPIKey:          getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		EmbedModel:        getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:          getEnvInt("EMBED_DIM", 768),
		Extractor:         strings.ToLower(getEnv("EXTRACTOR", ExtractorPDF)),
		VectorBackend:     strings.ToLower(getEnv("VECTOR_BACKEND", BackendPgvector)),
		ChromemPath:       getEnv("CHROMEM_PATH", ""),
		ChromemCollection: getEnv("CHROMEM_COLLECTION", "pdf-chat-gemini"),
		ChromemCompress:   getEnvBool("CHROMEM_COMPRESS", false),
		RegistryBackend:   strings.ToLower(getEnv("REGISTRY_BACKEND", RegistryPostgres)),
		RegistryURL:       getEnv("REGISTRY_URL", ""),
		RegistryToken:     getEnv("REGISTRY_TOKEN", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		OtelEndpoint:      getEnv("OTEL_EXPORTER_ENDPOINT", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		TuningPath:        getEnv("INGEST_CONFIG_PATH", "./config/ingest.yaml"),
	}

	tuning, err := LoadTuning(cfg.TuningPath)
	if err != nil {
		return nil, fmt.Errorf("load tuning %s: %w", cfg.TuningPath, err)
	}
	cfg.Tuning = tuning

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements of the selected backends.
func (c *Config) Validate() error {
	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	switch c.EmbedProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}
	switch c.Extractor {
	case ExtractorPDF, ExtractorDocconv:
	default:
		return fmt.Errorf("unknown EXTRACTOR %q", c.Extractor)
	}
	switch c.VectorBackend {
	case BackendPgvector:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set (required by VECTOR_BACKEND=pgvector)")
		}
	case BackendChromem:
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	switch c.RegistryBackend {
	case RegistryPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set (required by REGISTRY_BACKEND=postgres)")
		}
	case RegistryHTTP:
		if c.RegistryURL == "" {
			return fmt.Errorf("REGISTRY_URL not set (required by REGISTRY_BACKEND=http)")
		}
	case RegistryLog:
	default:
		return fmt.Errorf("unknown REGISTRY_BACKEND %q", c.RegistryBackend)
	}
	if c.Tuning == nil {
		return fmt.Errorf("tuning not loaded")
	}
	return c.Tuning.Validate()
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("not a duration, using default")
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("not a bool, using default")
		return def
	}
	return b
}
