// Package config resolves settings for the cloudocs commands from a .env file,
// an optional YAML file and CLOUDOCS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix  = "CLOUDOCS_"
	EnvFile    = ".env"
	EnvConfig  = EnvPrefix + "CONFIG"
	defaultTTL = 24 * time.Hour
)

type Config struct {
	// ServerURL is the http(s) base the client commands talk to.
	ServerURL       string `yaml:"server_url"`
	CredentialsPath string `yaml:"credentials_path"`
	LogLevel        string `yaml:"log_level"`

	Relay Relay `yaml:"relay"`
}

type Relay struct {
	Listen    string `yaml:"listen"`
	PublicURL string `yaml:"public_url"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	TokenTTL time.Duration `yaml:"token_ttl"`
	ShareTTL time.Duration `yaml:"share_ttl"`
}

func Default() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		LogLevel:  "info",
		Relay: Relay{
			Listen:    "0.0.0.0:8080",
			RedisAddr: "localhost:6379",
			TokenTTL:  defaultTTL,
			ShareTTL:  7 * defaultTTL,
		},
	}
}

// Load builds the effective config. path names a YAML file; when empty the
// CLOUDOCS_CONFIG variable is consulted, and a missing default is fine.
func Load(path string) (Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", EnvFile, err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("SERVER_URL", &c.ServerURL)
	str("CREDENTIALS", &c.CredentialsPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LISTEN", &c.Relay.Listen)
	str("PUBLIC_URL", &c.Relay.PublicURL)
	str("REDIS_ADDR", &c.Relay.RedisAddr)
	str("REDIS_PASSWORD", &c.Relay.RedisPassword)

	if v, ok := os.LookupEnv(EnvPrefix + "REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		c.Relay.RedisDB = db
	}
	for name, dst := range map[string]*time.Duration{
		"TOKEN_TTL": &c.Relay.TokenTTL,
		"SHARE_TTL": &c.Relay.ShareTTL,
	} {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("config: server url is required")
	}
	if c.Relay.TokenTTL < 0 || c.Relay.ShareTTL < 0 {
		return errors.New("config: ttl must not be negative")
	}
	return nil
}
