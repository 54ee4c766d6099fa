package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/aponysus/reauth/policy"
)

// Config is the resolved client configuration.
type Config struct {
	BaseURL       string
	RefreshURL    string
	RefreshHeader string
	RefreshToken  string
	Token         string
	LogLevel      zapcore.Level
	MetricsAddr   string

	RedisAddr string
	RedisKey  string
	RedisTTL  time.Duration

	// BudgetCapacity of 0 disables the retry budget.
	BudgetCapacity        int
	BudgetRefillPerSecond float64

	Policy policy.RetryPolicy
}

const (
	defaultConfigPath    = "~/.config/reauth/config.toml"
	defaultRefreshHeader = "X-Refresh-Token"
	defaultRedisKey      = "reauth:credential"
)

type rawConfig struct {
	BaseURL       string            `toml:"base_url"`
	RefreshURL    string            `toml:"refresh_url"`
	RefreshHeader string            `toml:"refresh_header"`
	RefreshToken  string            `toml:"refresh_token"`
	Token         string            `toml:"token"`
	LogLevel      string            `toml:"log_level"`
	MetricsAddr   string            `toml:"metrics_addr"`
	Redis         rawRedis          `toml:"redis"`
	Budget        rawBudget         `toml:"budget"`
	Policy        policy.FileConfig `toml:"policy"`
}

type rawRedis struct {
	Addr string `toml:"addr"`
	Key  string `toml:"key"`
	TTL  string `toml:"ttl"`
}

type rawBudget struct {
	Capacity        int     `toml:"capacity"`
	RefillPerSecond float64 `toml:"refill_per_second"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() Config {
	return Config{
		RefreshHeader: defaultRefreshHeader,
		LogLevel:      zapcore.InfoLevel,
		RedisKey:      defaultRedisKey,
		Policy:        policy.DefaultRetryPolicy(),
	}
}

// Load locates and parses the config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML config data on top of Defaults.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := Defaults()
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(raw.BaseURL), "/")
	cfg.RefreshURL = strings.TrimSpace(raw.RefreshURL)
	if h := strings.TrimSpace(raw.RefreshHeader); h != "" {
		cfg.RefreshHeader = h
	}
	cfg.RefreshToken = strings.TrimSpace(raw.RefreshToken)
	cfg.Token = strings.TrimSpace(raw.Token)
	cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)

	if lvl := strings.TrimSpace(raw.LogLevel); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return Config{}, fmt.Errorf("parse config: log_level: %w", err)
		}
		cfg.LogLevel = parsed
	}

	cfg.RedisAddr = strings.TrimSpace(raw.Redis.Addr)
	if k := strings.TrimSpace(raw.Redis.Key); k != "" {
		cfg.RedisKey = k
	}
	if ttl := strings.TrimSpace(raw.Redis.TTL); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("parse config: redis.ttl: invalid duration %q", ttl)
		}
		cfg.RedisTTL = d
	}

	if raw.Budget.Capacity < 0 || raw.Budget.RefillPerSecond < 0 {
		return Config{}, fmt.Errorf("parse config: budget values must not be negative")
	}
	cfg.BudgetCapacity = raw.Budget.Capacity
	cfg.BudgetRefillPerSecond = raw.Budget.RefillPerSecond

	pol, err := raw.Policy.Apply(cfg.Policy)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: policy: %w", err)
	}
	cfg.Policy = pol

	return cfg, nil
}

// CanRefresh reports whether enough is configured to call the refresh endpoint.
func (c Config) CanRefresh() bool {
	return c.RefreshURL != "" && c.RefreshToken != ""
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
