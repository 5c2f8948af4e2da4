package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverMongo    = "mongo"
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Mongo     MongoConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Images    ImagesConfig
	Features  FeaturesConfig
	Log       LogConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

func (s ServerConfig) IsDevelopment() bool {
	return s.Env != "production"
}

type StoreConfig struct {
	Driver string
}

type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	Timeout     time.Duration
	MaxPoolSize uint64
}

type PostgresConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
}

// DSN builds a postgres:// connection string
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host was configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type AuthConfig struct {
	KeysURL          string
	FetchTimeout     time.Duration
	ValidateAudience bool
	Audience         string
	ProtectReads     bool
	// WriteRoles restricts create and upload to these token roles; empty allows any authenticated caller
	WriteRoles []string
}

type ImagesConfig struct {
	ContentRoot   string
	PublicBaseURL string
	MaxUploadMB   int64
	AllowedTypes  []string
}

// FeaturesConfig selects the optional behaviour of the catalog API
type FeaturesConfig struct {
	StrictValidation bool
	RequestLogging   bool
	RequireAuth      bool
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type CORSConfig struct {
	AllowedOrigins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "5047")
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("STORE_DRIVER", StoreDriverMongo)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "catalog")
	v.SetDefault("MONGO_COLLECTION", "products")
	v.SetDefault("MONGO_TIMEOUT", "10s")
	v.SetDefault("MONGO_MAX_POOL_SIZE", 100)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("AUTH_FETCH_TIMEOUT", "10s")
	v.SetDefault("AUTH_VALIDATE_AUDIENCE", false)
	v.SetDefault("AUTH_PROTECT_READS", false)
	v.SetDefault("AUTH_WRITE_ROLES", "")
	v.SetDefault("IMAGES_CONTENT_ROOT", "/srv/images")
	v.SetDefault("IMAGES_PUBLIC_BASE_URL", "http://localhost:5047/UploadedImages")
	v.SetDefault("IMAGES_MAX_UPLOAD_MB", 32)
	v.SetDefault("IMAGES_ALLOWED_TYPES", "")
	v.SetDefault("FEATURE_STRICT_VALIDATION", true)
	v.SetDefault("FEATURE_REQUEST_LOGGING", true)
	v.SetDefault("FEATURE_REQUIRE_AUTH", false)
	v.SetDefault("LOG_MAX_SIZE_MB", 64)
	v.SetDefault("LOG_MAX_BACKUPS", 7)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
}

// Load reads configuration from the environment, a .env file in the working
// directory and, when present, .env.local overrides for local development.
func Load() *Config {
	if err := godotenv.Load(".env.local"); err == nil {
		log.Printf("Loaded overrides from .env.local")
	}

	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port: v.GetString("SERVER_PORT"),
			Env:  v.GetString("SERVER_ENV"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("STORE_DRIVER")),
		},
		Mongo: MongoConfig{
			URI:         v.GetString("MONGO_URI"),
			Database:    v.GetString("MONGO_DATABASE"),
			Collection:  v.GetString("MONGO_COLLECTION"),
			Timeout:     v.GetDuration("MONGO_TIMEOUT"),
			MaxPoolSize: v.GetUint64("MONGO_MAX_POOL_SIZE"),
		},
		Postgres: PostgresConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetString("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Database:     v.GetString("DB_DATABASE"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
			Window:   v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Auth: AuthConfig{
			KeysURL:          v.GetString("AUTH_KEYS_URL"),
			FetchTimeout:     v.GetDuration("AUTH_FETCH_TIMEOUT"),
			ValidateAudience: v.GetBool("AUTH_VALIDATE_AUDIENCE"),
			Audience:         v.GetString("AUTH_AUDIENCE"),
			ProtectReads:     v.GetBool("AUTH_PROTECT_READS"),
			WriteRoles:       splitList(v.GetString("AUTH_WRITE_ROLES")),
		},
		Images: ImagesConfig{
			ContentRoot:   v.GetString("IMAGES_CONTENT_ROOT"),
			PublicBaseURL: strings.TrimRight(v.GetString("IMAGES_PUBLIC_BASE_URL"), "/"),
			MaxUploadMB:   v.GetInt64("IMAGES_MAX_UPLOAD_MB"),
			AllowedTypes:  splitList(v.GetString("IMAGES_ALLOWED_TYPES")),
		},
		Features: FeaturesConfig{
			StrictValidation: v.GetBool("FEATURE_STRICT_VALIDATION"),
			RequestLogging:   v.GetBool("FEATURE_REQUEST_LOGGING"),
			RequireAuth:      v.GetBool("FEATURE_REQUIRE_AUTH"),
		},
		Log: LogConfig{
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}
}

// Validate reports settings that would leave the service unable to start
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMongo, StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Images.ContentRoot == "" {
		return fmt.Errorf("IMAGES_CONTENT_ROOT is required")
	}
	if _, err := url.ParseRequestURI(c.Images.PublicBaseURL); err != nil {
		return fmt.Errorf("invalid IMAGES_PUBLIC_BASE_URL: %w", err)
	}

	if c.Features.RequireAuth {
		if c.Auth.KeysURL == "" {
			return fmt.Errorf("AUTH_KEYS_URL is required when FEATURE_REQUIRE_AUTH is enabled")
		}
		if c.Auth.ValidateAudience && c.Auth.Audience == "" {
			return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_VALIDATE_AUDIENCE is enabled")
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
