package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Reserved and default profile names
const (
	ProfileDevelopment = "development"
	ProfileProduction  = "production"
	ProfileTesting     = "testing"

	// StubProfile names the terminal fallback. It is never resolved; the
	// fallback policy builds the minimal liveness-only instance for it.
	StubProfile = "stub"
)

// Environment variables read once at process entry
const (
	EnvProfile   = "HERITAGE_CONFIG"
	EnvFallbacks = "HERITAGE_FALLBACK_PROFILES"
	EnvPort      = "PORT"
)

// CacheType selects the cache backend
type CacheType string

const (
	CacheSimple CacheType = "simple"
	CacheRedis  CacheType = "redis"
	CacheNull   CacheType = "null"
)

// ServerConfig holds listener settings
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	TrustProxy   bool          `mapstructure:"trust_proxy" yaml:"trust_proxy"`
}

// DatabaseConfig holds persistence settings.
// URL uses the sqlite:/// form, e.g. sqlite:///data/heritage.db (relative),
// sqlite:////var/lib/heritage.db (absolute) or sqlite:///:memory:
type DatabaseConfig struct {
	URL          string `mapstructure:"url" yaml:"url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"min=0"`
}

// RedisConfig holds redis cache connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"min=0"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size" validate:"min=0"`
}

// CacheConfig holds cache backend settings
type CacheConfig struct {
	Type           CacheType     `mapstructure:"type" yaml:"type" validate:"oneof=simple redis null"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	Threshold      int           `mapstructure:"threshold" yaml:"threshold" validate:"min=0"`
	Redis          RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// SessionConfig holds login session settings
type SessionConfig struct {
	SecretKey            string        `mapstructure:"secret_key" yaml:"secret_key"`
	TokenExpiry          time.Duration `mapstructure:"token_expiry" yaml:"token_expiry"`
	CookieName           string        `mapstructure:"cookie_name" yaml:"cookie_name"`
	LoginView            string        `mapstructure:"login_view" yaml:"login_view"`
	LoginMessageCategory string        `mapstructure:"login_message_category" yaml:"login_message_category"`
	BcryptCost           int           `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost" validate:"omitempty,min=4,max=31"`
}

// CORSConfig holds the cross-origin policy
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" yaml:"max_age"`
}

// CompressionConfig holds response compression settings
type CompressionConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Level   int  `mapstructure:"level" yaml:"level" validate:"min=-1,max=9"`
	MinSize int  `mapstructure:"min_size" yaml:"min_size" validate:"min=0"`
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"min=0"`
	Burst             int  `mapstructure:"burst" yaml:"burst" validate:"min=0"`
}

// LoggingConfig holds the file log sink settings. Rotation is handled by the sink.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	FileSink   bool   `mapstructure:"file_sink" yaml:"file_sink"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// StaticConfig holds static asset settings
type StaticConfig struct {
	Prefix string        `mapstructure:"prefix" yaml:"prefix" validate:"required,startswith=/,endswith=/"`
	Dir    string        `mapstructure:"dir" yaml:"dir"`
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// VaultConfig holds HashiCorp Vault settings
type VaultConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	Token   string `mapstructure:"token" yaml:"token"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// AWSConfig holds AWS Secrets Manager settings
type AWSConfig struct {
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	SecretID  string `mapstructure:"secret_id" yaml:"secret_id"`
}

// SecretsConfig selects where secret material comes from
type SecretsConfig struct {
	Provider string      `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=env vault aws"`
	Vault    VaultConfig `mapstructure:"vault" yaml:"vault"`
	AWS      AWSConfig   `mapstructure:"aws" yaml:"aws"`
}

// Profile is a named, immutable bundle of settings selecting a deployment mode.
type Profile struct {
	Name    string `mapstructure:"name" yaml:"name" validate:"required"`
	Extends string `mapstructure:"extends" yaml:"extends,omitempty"`
	Debug   bool   `mapstructure:"debug" yaml:"debug"`

	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	CORS        CORSConfig        `mapstructure:"cors" yaml:"cors"`
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Static      StaticConfig      `mapstructure:"static" yaml:"static"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Secrets     SecretsConfig     `mapstructure:"secrets" yaml:"secrets"`
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q is invalid: %w", p.Name, err)
	}
	if p.Cache.Type == CacheRedis && p.Cache.Redis.Addr == "" {
		return fmt.Errorf("profile %q is invalid: cache.redis.addr is required for the redis cache", p.Name)
	}
	if p.Logging.FileSink && p.Logging.File == "" {
		return fmt.Errorf("profile %q is invalid: logging.file is required when the file sink is enabled", p.Name)
	}
	return nil
}

// Addr returns the listen address
func (p Profile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Server.Host, p.Server.Port)
}

// Clone returns a deep copy so callers never share slices with the resolver
func (p Profile) Clone() Profile {
	c := p
	c.CORS.AllowedOrigins = cloneStrings(p.CORS.AllowedOrigins)
	c.CORS.AllowedMethods = cloneStrings(p.CORS.AllowedMethods)
	c.CORS.AllowedHeaders = cloneStrings(p.CORS.AllowedHeaders)
	return c
}

// Redacted returns a copy with secret material masked
func (p Profile) Redacted() Profile {
	c := p.Clone()
	c.Session.SecretKey = mask(c.Session.SecretKey)
	c.Cache.Redis.Password = mask(c.Cache.Redis.Password)
	c.Secrets.Vault.Token = mask(c.Secrets.Vault.Token)
	c.Secrets.AWS.AccessKey = mask(c.Secrets.AWS.AccessKey)
	c.Secrets.AWS.SecretKey = mask(c.Secrets.AWS.SecretKey)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// base returns the settings every built-in profile starts from
func base(name string) Profile {
	return Profile{
		Name: name,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			URL:          "sqlite:///data/heritage.db",
			MaxOpenConns: 1,
		},
		Cache: CacheConfig{
			Type:           CacheSimple,
			DefaultTimeout: 300 * time.Second,
			Threshold:      500,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Session: SessionConfig{
			TokenExpiry:          24 * time.Hour,
			CookieName:           "heritage_session",
			LoginView:            "/users/login",
			LoginMessageCategory: "info",
			BcryptCost:           12,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         600,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   6,
			MinSize: 1024,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "logs",
			File:       "app.log",
			MaxSizeMB:  10,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
		Static: StaticConfig{
			Prefix: "/static/",
			Dir:    "static",
			MaxAge: time.Hour,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Secrets: SecretsConfig{
			Provider: "env",
		},
	}
}

// DefaultProfiles returns the built-in development, production and testing profiles.
func DefaultProfiles() map[string]Profile {
	dev := base(ProfileDevelopment)
	dev.Debug = true
	dev.Server.Host = "127.0.0.1"
	dev.Server.Port = 5000
	dev.Database.URL = "sqlite:///data/heritage-dev.db"
	dev.Session.BcryptCost = 10
	dev.Logging.Level = "debug"

	prod := base(ProfileProduction)
	prod.Cache.Type = CacheRedis
	prod.RateLimit.Enabled = true
	prod.Logging.FileSink = true
	prod.Metrics.Enabled = true
	prod.Server.TrustProxy = true

	test := base(ProfileTesting)
	test.Database.URL = "sqlite:///:memory:"
	test.Cache.Type = CacheNull
	test.Session.SecretKey = "testing-session-secret-not-for-production-use"
	test.Session.BcryptCost = 4
	test.Compression.Enabled = false
	test.Logging.Level = "warn"

	return map[string]Profile{
		dev.Name:  dev,
		prod.Name: prod,
		test.Name: test,
	}
}

// ProfileFromEnv returns the requested profile name, defaulting to production.
// Call it once at process entry and pass the result down.
func ProfileFromEnv() string {
	if name := NormalizeName(os.Getenv(EnvProfile)); name != "" {
		return name
	}
	return ProfileProduction
}

// FallbacksFromEnv returns the configured fallback profiles, defaulting to development.
func FallbacksFromEnv() []string {
	raw, ok := os.LookupEnv(EnvFallbacks)
	if !ok {
		return []string{ProfileDevelopment}
	}
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if name := NormalizeName(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// DefaultPort is the listen port when PORT is unset
const DefaultPort = 5000

// PortFromEnv returns the PORT override, or DefaultPort when unset or malformed.
func PortFromEnv() int {
	port, err := strconv.Atoi(strings.TrimSpace(os.Getenv(EnvPort)))
	if err != nil || port <= 0 || port > 65535 {
		return DefaultPort
	}
	return port
}

// StubDefaults returns the fixed profile of the liveness-only instance.
// It carries no store, cache or secrets.
func StubDefaults(port int) Profile {
	p := base(StubProfile)
	p.Server.Host = "0.0.0.0"
	p.Server.Port = port
	p.Database = DatabaseConfig{}
	p.Cache = CacheConfig{Type: CacheNull}
	p.CORS.Enabled = false
	p.Compression.Enabled = false
	p.RateLimit.Enabled = false
	p.Logging.FileSink = false
	p.Metrics.Enabled = false
	return p
}

// AttemptChain builds the ordered attempt list: primary, then fallbacks, then the stub.
// Duplicates and empty names are dropped; the stub always terminates the chain.
func AttemptChain(primary string, fallbacks ...string) []string {
	seen := make(map[string]bool)
	chain := make([]string, 0, len(fallbacks)+2)
	for _, name := range append([]string{primary}, fallbacks...) {
		name = NormalizeName(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
		if name == StubProfile {
			return chain
		}
	}
	return append(chain, StubProfile)
}
