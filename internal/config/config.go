package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	StoragePath string        `mapstructure:"storage_path"`
	Secret      string        `mapstructure:"secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	ReadLimit   int64         `mapstructure:"read_limit"`

	FlushRetries int           `mapstructure:"flush_retries"`
	FlushBackoff time.Duration `mapstructure:"flush_backoff"`

	ExecURL  string `mapstructure:"exec_url"`
	ExecKey  string `mapstructure:"exec_key"`
	ExecHost string `mapstructure:"exec_host"`

	AIURL   string `mapstructure:"ai_url"`
	AIKey   string `mapstructure:"ai_key"`
	AIModel string `mapstructure:"ai_model"`

	ProxyTimeout time.Duration `mapstructure:"proxy_timeout"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 5001)
	v.SetDefault("storage_path", "./data/slateassist.db")
	v.SetDefault("token_ttl", "24h")
	v.SetDefault("read_limit", 1048576)
	v.SetDefault("flush_retries", 3)
	v.SetDefault("flush_backoff", "200ms")
	v.SetDefault("exec_url", "https://judge0-ce.p.rapidapi.com/submissions")
	v.SetDefault("exec_host", "judge0-ce.p.rapidapi.com")
	v.SetDefault("ai_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("ai_model", "gemini-2.5-flash-lite")
	v.SetDefault("proxy_timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// An empty HS256 key makes every token forgeable. Only debug mode
	// may run without one.
	if cfg.Secret == "" {
		if cfg.Mode != "debug" {
			return nil, fmt.Errorf("secret must be set when mode is %q", cfg.Mode)
		}
		log.Warn().Str("module", "config").Msg("running with empty secret, tokens are forgeable")
	}
	return &cfg, nil
}
