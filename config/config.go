// Package config loads the server configuration from the environment.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	CommentStoreMemory = "memory"
	CommentStoreDynamo = "dynamo"
)

type Config struct {
	DevMode       bool   `env:"DEV_MODE"`
	HostPort      string `env:"HOST_PORT"      envDefault:"8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`

	// RedisEndpoint enables the shared comment cache and cross-instance
	// relay. Without it the server runs as a single instance.
	RedisEndpoint string `env:"REDIS_ENDPOINT"`

	CommentStore     string `env:"COMMENT_STORE"     envDefault:"memory"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`
	DynamoDBTable    string `env:"DYNAMODB_TABLE"    envDefault:"LayerlinkComments"`

	// IdentitySecretBase64 is the HMAC key for signed identity tokens. When
	// empty, clients are trusted to name themselves.
	IdentitySecretBase64 string `env:"IDENTITY_SECRET"`
	IdentitySecret       []byte `env:"-"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	CommentFlushInterval  time.Duration `env:"COMMENT_FLUSH_INTERVAL"   envDefault:"500ms"`
	MaxMembersPerDocument int           `env:"MAX_MEMBERS_PER_DOCUMENT" envDefault:"50"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.IdentitySecretBase64 != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.IdentitySecretBase64)
		if err != nil {
			return Config{}, fmt.Errorf("decode IDENTITY_SECRET: %w", err)
		}
		cfg.IdentitySecret = secret
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.CommentStore {
	case CommentStoreMemory:
	case CommentStoreDynamo:
		if c.DevMode && c.DynamoDBEndpoint == "" {
			return errors.New("DYNAMODB_ENDPOINT is required in dev mode")
		}
	default:
		return fmt.Errorf("unknown COMMENT_STORE %q", c.CommentStore)
	}

	if c.CommentFlushInterval <= 0 {
		return errors.New("COMMENT_FLUSH_INTERVAL must be positive")
	}
	if c.MaxMembersPerDocument <= 0 {
		return errors.New("MAX_MEMBERS_PER_DOCUMENT must be positive")
	}
	return nil
}
