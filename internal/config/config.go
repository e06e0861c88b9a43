package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment keys: INBOX_TABLE_NAME -> table_name.
const EnvPrefix = "INBOX_"

// Config is the process configuration shared by every binary. Secrets are
// not part of it; they are read from SSM under ParamPrefix.
type Config struct {
	TableName   string `koanf:"table_name"`
	ParamPrefix string `koanf:"param_prefix"`
	LogLevel    string `koanf:"log_level"`
	Service     string `koanf:"service"`

	OpenAIModel   string        `koanf:"openai_model"`
	OpenAIBaseURL string        `koanf:"openai_base_url"`
	ModelTimeout  time.Duration `koanf:"model_timeout"`
	HistoryTurns  int           `koanf:"history_turns"`
	HistoryLimit  int           `koanf:"history_limit"`

	DefaultProperty string `koanf:"default_property"`

	AMQPURL      string `koanf:"amqp_url"`
	AMQPExchange string `koanf:"amqp_exchange"`
	RedisURL     string `koanf:"redis_url"`
}

// Requirement names a key a binary cannot start without.
type Requirement string

const (
	NeedTable       Requirement = "table_name"
	NeedParamPrefix Requirement = "param_prefix"
	NeedPublisher   Requirement = "publisher"
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log_level":       "info",
		"service":         "guest-inbox",
		"openai_base_url": "https://api.openai.com/v1",
		"model_timeout":   "15s",
		"history_turns":   10,
		"history_limit":   20,
		"amqp_exchange":   "inbox.events",
	}
}

// Load reads defaults then INBOX_* environment variables.
func Load() (*Config, error) {
	return load(env.Provider(EnvPrefix, ".", envKey))
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

func load(envProvider koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	if envProvider != nil {
		if err := k.Load(envProvider, nil); err != nil {
			return nil, fmt.Errorf("config: environment: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.OpenAIModel = strings.TrimSpace(cfg.OpenAIModel)
	return &cfg, nil
}

// Validate checks value ranges and the given requirements.
func (c *Config) Validate(reqs ...Requirement) error {
	var errs []error
	for _, r := range reqs {
		switch r {
		case NeedTable:
			if strings.TrimSpace(c.TableName) == "" {
				errs = append(errs, errors.New("INBOX_TABLE_NAME is required"))
			}
		case NeedParamPrefix:
			if c.ParamPrefix == "" {
				errs = append(errs, errors.New("INBOX_PARAM_PREFIX is required"))
			}
		case NeedPublisher:
			if c.AMQPURL == "" && c.RedisURL == "" {
				errs = append(errs, errors.New("one of INBOX_AMQP_URL or INBOX_REDIS_URL is required"))
			}
		}
	}
	if c.ModelTimeout < 10*time.Second || c.ModelTimeout > 30*time.Second {
		errs = append(errs, fmt.Errorf("INBOX_MODEL_TIMEOUT must be within 10s..30s, got %s", c.ModelTimeout))
	}
	if c.HistoryTurns <= 0 {
		errs = append(errs, errors.New("INBOX_HISTORY_TURNS must be positive"))
	}
	if c.HistoryLimit < c.HistoryTurns {
		errs = append(errs, errors.New("INBOX_HISTORY_LIMIT must be at least INBOX_HISTORY_TURNS"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
