package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ISSUEFORGE_"
)

// Load reads configuration from defaults, the YAML file at path (optional,
// skipped when empty or missing) and environment variables.
//
// Environment variables map onto keys by stripping EnvPrefix, lowercasing
// and turning a double underscore into a key separator:
//
//	ISSUEFORGE_GATE__THRESHOLD        -> gate.threshold
//	ISSUEFORGE_EXECUTION__MAX_WAIT    -> execution.max_wait
//
// The conventional GITHUB_TOKEN, GITHUB_WEBHOOK_SECRET and OPENAI_API_KEY
// variables fill the matching secrets when those are still unset.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyWellKnownEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func applyWellKnownEnv(cfg *Config) {
	fill := func(dst *Secret, name string) {
		if !dst.IsSet() {
			*dst = Secret(os.Getenv(name))
		}
	}
	fill(&cfg.GitHub.Token, "GITHUB_TOKEN")
	fill(&cfg.GitHub.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	fill(&cfg.Agent.APIKey, "OPENAI_API_KEY")
}
