package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/hashicorp/go-multierror"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Default configuration values.
const (
	defaultAPIBaseURL    = "https://api.bloks.io/agent-mint"
	defaultChainID       = 8453
	defaultMaxRetries    = 3
	defaultRetryDelay    = 2.0
	defaultScheme        = "BLOKS"
	defaultWorkers       = 1
	defaultProgressEvery = 1_000_000
	defaultUA            = "agent-mint/1.0"
)

// appConfig holds the application configuration.
//
// Values are layered: defaults, then the optional JSON file, then the
// environment (including .env), then explicit CLI flags.
type appConfig struct {
	PrivateKey       string  `json:"private_key,omitempty" env:"AGC_PRIVATE_KEY"`
	BaseURL          string  `json:"api_base_url" env:"BLOKS_API_BASE_URL"`
	ProjectID        string  `json:"project_id" env:"BLOKS_PROJECT_ID"`
	ChainID          int64   `json:"chain_id" env:"BLOKS_CHAIN_ID"`
	MaxRetries       int     `json:"max_retries" env:"BLOKS_MAX_RETRIES"`
	RetryDelay       float64 `json:"retry_delay" env:"BLOKS_RETRY_DELAY"`
	Scheme           string  `json:"scheme" env:"BLOKS_SCHEME"`
	WhitelistMessage string  `json:"whitelist_message,omitempty" env:"BLOKS_WL_MESSAGE"`
	Workers          int     `json:"pow_workers" env:"BLOKS_POW_WORKERS"`
	ProgressEvery    uint64  `json:"progress_every" env:"BLOKS_POW_PROGRESS_EVERY"`
	UserAgent        string  `json:"user_agent" env:"BLOKS_USER_AGENT"`
}

func defaultConfig() appConfig {
	return appConfig{
		BaseURL:       defaultAPIBaseURL,
		ChainID:       defaultChainID,
		MaxRetries:    defaultMaxRetries,
		RetryDelay:    defaultRetryDelay,
		Scheme:        defaultScheme,
		Workers:       defaultWorkers,
		ProgressEvery: defaultProgressEvery,
		UserAgent:     defaultUA,
	}
}

// retryDelay returns the base back-off delay as a duration.
func (c appConfig) retryDelay() time.Duration {
	return time.Duration(c.RetryDelay * float64(time.Second))
}

// loadConfig builds the configuration from the file at path (optional), the
// process environment and the override callback, in that order of precedence.
func loadConfig(path string, override func(*appConfig)) (appConfig, error) {
	cfg, err := layerConfig(path, override)
	if err != nil {
		return appConfig{}, err
	}
	if err := cfg.normalize(); err != nil {
		return appConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// layerConfig applies every source on top of the defaults without validating.
func layerConfig(path string, override func(*appConfig)) (appConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return appConfig{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("parse environment: %w", err)
	}

	if override != nil {
		override(&cfg)
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *appConfig) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// normalize trims and validates the configuration. All problems are reported
// together.
func (c *appConfig) normalize() error {
	var result *multierror.Error

	key := strings.TrimSpace(c.PrivateKey)
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	switch {
	case key == "":
		result = multierror.Append(result, errors.New("private key is required: set AGC_PRIVATE_KEY or pass --private-key"))
	case len(key) != 64:
		result = multierror.Append(result, fmt.Errorf("invalid private key length (%d chars): expected 64 hex characters", len(key)))
	default:
		if _, err := hex.DecodeString(key); err != nil {
			result = multierror.Append(result, errors.New("private key is not valid hex"))
		}
	}
	c.PrivateKey = key

	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		result = multierror.Append(result, errors.New("api base url is required"))
	}

	c.ProjectID = strings.TrimSpace(c.ProjectID)
	if c.ProjectID == "" {
		result = multierror.Append(result, errors.New("project id is required: set BLOKS_PROJECT_ID or pass --project-id"))
	}
	if c.ChainID <= 0 {
		result = multierror.Append(result, fmt.Errorf("chain id must be > 0, got %d", c.ChainID))
	}
	if c.MaxRetries < 1 {
		result = multierror.Append(result, fmt.Errorf("max retries must be >= 1, got %d", c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("retry delay must be >= 0, got %v", c.RetryDelay))
	}
	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("pow workers must be >= 1, got %d", c.Workers))
	}

	c.Scheme = strings.TrimSpace(c.Scheme)
	if c.Scheme == "" {
		c.Scheme = defaultScheme
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = defaultProgressEvery
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = defaultUA
	}
	return result.ErrorOrNil()
}

// saveConfig writes cfg as indented JSON to path. The file is replaced
// atomically and is only readable by its owner, since it may hold the key.
func saveConfig(path string, cfg appConfig) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
