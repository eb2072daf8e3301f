// Package config loads service-level settings for the authcore binaries from a
// YAML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tokenwarden/authcore"
)

// Storage drivers accepted in Storage.Driver.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Env     string        `yaml:"env" env:"AUTHCORE_ENV" env-default:"local"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Mongo   MongoConfig   `yaml:"mongo"`
	JWT     JWTConfig     `yaml:"jwt"`
	Audit   bool          `yaml:"audit" env:"AUTHCORE_AUDIT"`
	Metrics bool          `yaml:"metrics" env:"AUTHCORE_METRICS"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"AUTHCORE_STORAGE_DRIVER" env-default:"memory"`
	DSN    string `yaml:"dsn" env:"AUTHCORE_STORAGE_DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"AUTHCORE_REDIS_ADDR" env-default:"127.0.0.1:6379"`
	Password string `yaml:"password" env:"AUTHCORE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"AUTHCORE_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"AUTHCORE_REDIS_PREFIX" env-default:"authcore"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"AUTHCORE_MONGO_URI"`
	Database string `yaml:"database" env:"AUTHCORE_MONGO_DATABASE" env-default:"authcore"`
}

type JWTConfig struct {
	SigningMethod  string        `yaml:"signing_method" env:"AUTHCORE_JWT_SIGNING_METHOD" env-default:"ed25519"`
	PrivateKey     string        `yaml:"private_key" env:"AUTHCORE_JWT_PRIVATE_KEY"`
	PrivateKeyFile string        `yaml:"private_key_file" env:"AUTHCORE_JWT_PRIVATE_KEY_FILE"`
	Issuer         string        `yaml:"issuer" env:"AUTHCORE_JWT_ISSUER"`
	Audience       string        `yaml:"audience" env:"AUTHCORE_JWT_AUDIENCE"`
	AccessTTL      time.Duration `yaml:"access_ttl" env:"AUTHCORE_JWT_ACCESS_TTL" env-default:"15m"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" env:"AUTHCORE_JWT_REFRESH_TTL" env-default:"720h"`
}

// Load reads path when it is non-empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage.dsn is required for %s", c.Storage.Driver)
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("config: mongo.uri is required for the mongo driver")
		}
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.JWT.PrivateKey != "" && c.JWT.PrivateKeyFile != "" {
		return errors.New("config: set jwt.private_key or jwt.private_key_file, not both")
	}
	return nil
}

// SigningKey returns the configured key material, reading PrivateKeyFile when set.
func (c *Config) SigningKey() ([]byte, error) {
	if c.JWT.PrivateKeyFile != "" {
		key, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("config: read signing key: %w", err)
		}
		return key, nil
	}
	if c.JWT.PrivateKey == "" {
		return nil, nil
	}
	return []byte(c.JWT.PrivateKey), nil
}

// Engine maps the service settings onto authcore.DefaultConfig.
func (c *Config) Engine() (authcore.Config, error) {
	out := authcore.DefaultConfig()

	key, err := c.SigningKey()
	if err != nil {
		return out, err
	}
	out.JWT.SigningMethod = c.JWT.SigningMethod
	out.JWT.PrivateKey = key
	out.JWT.Issuer = c.JWT.Issuer
	out.JWT.Audience = c.JWT.Audience
	if c.JWT.AccessTTL > 0 {
		out.JWT.AccessTTL = c.JWT.AccessTTL
	}
	if c.JWT.RefreshTTL > 0 {
		out.JWT.RefreshTTL = c.JWT.RefreshTTL
	}
	out.Audit.Enabled = c.Audit
	out.Metrics.Enabled = c.Metrics
	out.Metrics.EnableLatencyHistograms = c.Metrics

	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("config: %w", err)
	}
	return out, nil
}
