package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. STOREFRONT_BACKEND_BASE_URL
const EnvPrefix = "STOREFRONT"

// Config is the configuration of the storefront CLI and mock backend
type Config struct {
	Backend    Backend    `yaml:"backend"`
	Cache      Cache      `yaml:"cache"`
	Session    Session    `yaml:"session"`
	Pagination Pagination `yaml:"pagination"`
	Logger     Logger     `yaml:"logger"`
	Assets     Assets     `yaml:"assets"`
}

// Backend locates the REST backend
type Backend struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
}

// Cache holds the fetch policy. Zero values mean no timeout and no retry.
type Cache struct {
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// Session selects where the session fields are kept
type Session struct {
	Store         string        `yaml:"store"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPassword string        `yaml:"redis_password"`
	Namespace     string        `yaml:"namespace"`
	TTL           time.Duration `yaml:"ttl"`
}

// Pagination holds the listing page size
type Pagination struct {
	PageSize int `yaml:"page_size"`
}

// Logger holds the log level
type Logger struct {
	Level string `yaml:"level"`
}

// Assets locates the S3-compatible bucket product images are uploaded to.
// An empty endpoint disables image upload.
type Assets struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Backend: Backend{
			BaseURL: "http://localhost:8080/api",
			Timeout: 30 * time.Second,
		},
		Session: Session{
			Store:     "memory",
			Namespace: "storefront",
		},
		Pagination: Pagination{PageSize: 9},
		Logger:     Logger{Level: "INFO"},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load that terminates the program on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}
	return cfg
}

// Validate checks the values a client cannot work without
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is not set")
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return errors.New("session.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	if c.Pagination.PageSize <= 0 {
		return errors.New("pagination.page_size must be positive")
	}
	if c.Cache.RetryAttempts < 0 {
		return errors.New("cache.retry_attempts must not be negative")
	}
	if c.Assets.Endpoint != "" && c.Assets.Bucket == "" {
		return errors.New("assets.bucket is required when assets.endpoint is set")
	}
	return nil
}

// applyEnv overrides file values with STOREFRONT_* variables. A .env file in
// the working directory is loaded first for local development.
func applyEnv(cfg *Config) error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return errors.New("failed to load .env")
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.IsSet("backend.base_url") {
		cfg.Backend.BaseURL = v.GetString("backend.base_url")
	}
	if v.IsSet("backend.timeout") {
		cfg.Backend.Timeout = v.GetDuration("backend.timeout")
	}
	if v.IsSet("backend.mutation_timeout") {
		cfg.Backend.MutationTimeout = v.GetDuration("backend.mutation_timeout")
	}
	if v.IsSet("cache.fetch_timeout") {
		cfg.Cache.FetchTimeout = v.GetDuration("cache.fetch_timeout")
	}
	if v.IsSet("cache.retry_attempts") {
		cfg.Cache.RetryAttempts = v.GetInt("cache.retry_attempts")
	}
	if v.IsSet("cache.retry_backoff") {
		cfg.Cache.RetryBackoff = v.GetDuration("cache.retry_backoff")
	}
	if v.IsSet("session.store") {
		cfg.Session.Store = v.GetString("session.store")
	}
	if v.IsSet("session.redis_addr") {
		cfg.Session.RedisAddr = v.GetString("session.redis_addr")
	}
	if v.IsSet("session.redis_db") {
		cfg.Session.RedisDB = v.GetInt("session.redis_db")
	}
	if v.IsSet("session.redis_password") {
		cfg.Session.RedisPassword = v.GetString("session.redis_password")
	}
	if v.IsSet("session.namespace") {
		cfg.Session.Namespace = v.GetString("session.namespace")
	}
	if v.IsSet("session.ttl") {
		cfg.Session.TTL = v.GetDuration("session.ttl")
	}
	if v.IsSet("pagination.page_size") {
		cfg.Pagination.PageSize = v.GetInt("pagination.page_size")
	}
	if v.IsSet("logger.level") {
		cfg.Logger.Level = v.GetString("logger.level")
	}
	if v.IsSet("assets.endpoint") {
		cfg.Assets.Endpoint = v.GetString("assets.endpoint")
	}
	if v.IsSet("assets.region") {
		cfg.Assets.Region = v.GetString("assets.region")
	}
	if v.IsSet("assets.bucket") {
		cfg.Assets.Bucket = v.GetString("assets.bucket")
	}
	if v.IsSet("assets.access_key") {
		cfg.Assets.AccessKey = v.GetString("assets.access_key")
	}
	if v.IsSet("assets.secret_key") {
		cfg.Assets.SecretKey = v.GetString("assets.secret_key")
	}
	if v.IsSet("assets.use_ssl") {
		cfg.Assets.UseSSL = v.GetBool("assets.use_ssl")
	}
	if v.IsSet("assets.public_base_url") {
		cfg.Assets.PublicBaseURL = v.GetString("assets.public_base_url")
	}
	return nil
}

// String renders the configuration with secrets masked
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("backend.base_url: %s\n", c.Backend.BaseURL))
	sb.WriteString(fmt.Sprintf("backend.timeout: %s\n", c.Backend.Timeout))
	sb.WriteString(fmt.Sprintf("cache.fetch_timeout: %s\n", c.Cache.FetchTimeout))
	sb.WriteString(fmt.Sprintf("cache.retry_attempts: %d\n", c.Cache.RetryAttempts))
	sb.WriteString(fmt.Sprintf("session.store: %s\n", c.Session.Store))
	if c.Session.Store == "redis" {
		sb.WriteString(fmt.Sprintf("session.redis_addr: %s\n", c.Session.RedisAddr))
		if c.Session.RedisPassword != "" {
			sb.WriteString("session.redis_password: ********\n")
		}
	}
	sb.WriteString(fmt.Sprintf("pagination.page_size: %d\n", c.Pagination.PageSize))
	sb.WriteString(fmt.Sprintf("logger.level: %s\n", c.Logger.Level))
	if c.Assets.Endpoint != "" {
		sb.WriteString(fmt.Sprintf("assets.endpoint: %s\n", c.Assets.Endpoint))
		sb.WriteString(fmt.Sprintf("assets.bucket: %s\n", c.Assets.Bucket))
		if c.Assets.SecretKey != "" {
			sb.WriteString("assets.secret_key: ********\n")
		}
	}
	return sb.String()
}
