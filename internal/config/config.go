// Package config loads server settings from the environment and an optional
// config.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	MongoURI      string `mapstructure:"mongodb_uri"`
	MongoDatabase string `mapstructure:"mongodb_database"`
	Store         string `mapstructure:"store"`

	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTKeysRaw   string        `mapstructure:"jwt_keys"` // kid:secret,kid2:secret2
	JWTActiveKid string        `mapstructure:"jwt_active_kid"`
	JWTTTL       time.Duration `mapstructure:"jwt_ttl"`

	Port         string `mapstructure:"port"`
	RateLimitRPM int    `mapstructure:"rate_limit_rpm"`
	TLSCert      string `mapstructure:"tls_cert"`
	TLSKey       string `mapstructure:"tls_key"`
	RequireTLS   bool   `mapstructure:"require_tls"`

	LogLevel string `mapstructure:"log_level"`

	MaxContentLength   int    `mapstructure:"max_content_length"`
	ShortIDMaxAttempts int    `mapstructure:"shortid_max_attempts"`
	StoreRetries       uint64 `mapstructure:"store_retries"`
}

var defaults = map[string]any{
	"mongodb_uri":          "",
	"mongodb_database":     "hittalaget",
	"store":                StoreMongo,
	"jwt_secret":           "",
	"jwt_keys":             "",
	"jwt_active_kid":       "",
	"jwt_ttl":              24 * time.Hour,
	"port":                 "50051",
	"rate_limit_rpm":       30,
	"tls_cert":             "",
	"tls_key":              "",
	"require_tls":          false,
	"log_level":            "info",
	"max_content_length":   2000,
	"shortid_max_attempts": 1000,
	"store_retries":        3,
}

// Load reads config.yaml from the working directory or ./config when one
// exists, then lets environment variables (MONGODB_URI, PORT, ...) override it.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	return &c, nil
}

// Validate enforces the settings the server cannot start without.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI must be set")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE %q (want %s or %s)", c.Store, StoreMongo, StoreMemory)
	}

	if c.JWTKeysRaw == "" && c.JWTSecret == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.JWTKeysRaw != "" {
		keys, err := c.JWTKeys()
		if err != nil {
			return err
		}
		if _, ok := keys[c.JWTActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q is not one of JWT_KEYS", c.JWTActiveKid)
		}
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("TLS_CERT and TLS_KEY must be set together")
	}
	if c.RequireTLS && c.TLSCert == "" {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.MaxContentLength <= 0 {
		return errors.New("MAX_CONTENT_LENGTH must be positive")
	}
	if c.ShortIDMaxAttempts <= 0 {
		return errors.New("SHORTID_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// JWTKeys parses JWT_KEYS into a kid -> secret map.
func (c *Config) JWTKeys() (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(c.JWTKeysRaw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[kid] = secret
	}
	if len(keys) == 0 {
		return nil, errors.New("JWT_KEYS has no entries")
	}
	return keys, nil
}

// TLSEnabled reports whether the server should listen with TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
