package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Schemas    SchemaConfig
	Matching   MatchingConfig
	Enrichment EnrichmentConfig
	PubMed     PubMedConfig
	ORCID      ORCIDConfig
	Reports    ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchemaConfig points at the directory holding schema rule files.
type SchemaConfig struct {
	Dir string
}

// MatchingConfig carries the identity matcher weights and threshold.
type MatchingConfig struct {
	NameWeight        float64
	InstitutionWeight float64
	KeywordWeight     float64
	MinScore          float64
	CandidateCacheTTL time.Duration
}

// EnrichmentConfig governs external publication enrichment.
type EnrichmentConfig struct {
	Enabled       bool
	Sources       []string
	MaxResults    int
	FetchTimeout  time.Duration
	Concurrency   int
	Schedule      string
	CacheTTL      time.Duration
	Workers       int
	WorkerRetries int
}

// PubMedConfig configures the NCBI E-utilities client.
type PubMedConfig struct {
	BaseURL    string
	APIKey     string
	Email      string
	Tool       string
	RateLimit  float64
	MaxRetries int
}

// ORCIDConfig configures the ORCID public API client used for researcher
// search and profile import.
type ORCIDConfig struct {
	Enabled    bool
	BaseURL    string
	RateLimit  float64
	MaxRetries int
	// SearchRows caps the rows asked of expanded-search.
	SearchRows int
}

// ReportsConfig configures validation report exports.
type ReportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Schemas = SchemaConfig{Dir: v.GetString("SCHEMA_DIR")}

	cfg.Matching = MatchingConfig{
		NameWeight:        v.GetFloat64("MATCH_NAME_WEIGHT"),
		InstitutionWeight: v.GetFloat64("MATCH_INSTITUTION_WEIGHT"),
		KeywordWeight:     v.GetFloat64("MATCH_KEYWORD_WEIGHT"),
		MinScore:          v.GetFloat64("MATCH_MIN_SCORE"),
		CandidateCacheTTL: parseDuration(v.GetString("MATCH_CANDIDATE_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Enrichment = EnrichmentConfig{
		Enabled:       v.GetBool("ENRICHMENT_ENABLED"),
		Sources:       splitAndTrim(v.GetString("ENRICHMENT_SOURCES")),
		MaxResults:    v.GetInt("ENRICHMENT_MAX_RESULTS"),
		FetchTimeout:  parseDuration(v.GetString("ENRICHMENT_FETCH_TIMEOUT"), 30*time.Second),
		Concurrency:   v.GetInt("ENRICHMENT_CONCURRENCY"),
		Schedule:      strings.TrimSpace(v.GetString("ENRICHMENT_SCHEDULE")),
		CacheTTL:      parseDuration(v.GetString("ENRICHMENT_CACHE_TTL"), 6*time.Hour),
		Workers:       v.GetInt("ENRICHMENT_WORKERS"),
		WorkerRetries: v.GetInt("ENRICHMENT_WORKER_RETRIES"),
	}

	cfg.PubMed = PubMedConfig{
		BaseURL:    v.GetString("PUBMED_BASE_URL"),
		APIKey:     v.GetString("PUBMED_API_KEY"),
		Email:      v.GetString("PUBMED_EMAIL"),
		Tool:       v.GetString("PUBMED_TOOL"),
		RateLimit:  v.GetFloat64("PUBMED_RATE_LIMIT"),
		MaxRetries: v.GetInt("PUBMED_MAX_RETRIES"),
	}

	cfg.ORCID = ORCIDConfig{
		Enabled:    v.GetBool("ORCID_ENABLED"),
		BaseURL:    v.GetString("ORCID_BASE_URL"),
		RateLimit:  v.GetFloat64("ORCID_RATE_LIMIT"),
		MaxRetries: v.GetInt("ORCID_MAX_RETRIES"),
		SearchRows: v.GetInt("ORCID_SEARCH_ROWS"),
	}

	cfg.Reports = ReportsConfig{
		StorageDir:      v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "research_staging")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEMA_DIR", "")

	v.SetDefault("MATCH_NAME_WEIGHT", 0.5)
	v.SetDefault("MATCH_INSTITUTION_WEIGHT", 0.3)
	v.SetDefault("MATCH_KEYWORD_WEIGHT", 0.2)
	v.SetDefault("MATCH_MIN_SCORE", 0.6)
	v.SetDefault("MATCH_CANDIDATE_CACHE_TTL", "10m")

	v.SetDefault("ENRICHMENT_ENABLED", true)
	v.SetDefault("ENRICHMENT_SOURCES", "pubmed")
	v.SetDefault("ENRICHMENT_MAX_RESULTS", 25)
	v.SetDefault("ENRICHMENT_FETCH_TIMEOUT", "30s")
	v.SetDefault("ENRICHMENT_CONCURRENCY", 4)
	v.SetDefault("ENRICHMENT_SCHEDULE", "")
	v.SetDefault("ENRICHMENT_CACHE_TTL", "6h")
	v.SetDefault("ENRICHMENT_WORKERS", 2)
	v.SetDefault("ENRICHMENT_WORKER_RETRIES", 3)

	v.SetDefault("PUBMED_BASE_URL", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("PUBMED_API_KEY", "")
	v.SetDefault("PUBMED_EMAIL", "")
	v.SetDefault("PUBMED_TOOL", "research-staging-api")
	v.SetDefault("PUBMED_RATE_LIMIT", 3)
	v.SetDefault("PUBMED_MAX_RETRIES", 3)

	v.SetDefault("ORCID_ENABLED", true)
	v.SetDefault("ORCID_BASE_URL", "https://pub.orcid.org/v3.0")
	v.SetDefault("ORCID_RATE_LIMIT", 8)
	v.SetDefault("ORCID_MAX_RETRIES", 3)
	v.SetDefault("ORCID_SEARCH_ROWS", 10)

	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
