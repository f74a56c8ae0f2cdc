package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"pulsebot/internal/perr"
)

// Load reads .env overlays (if present), then the YAML document at path,
// expanding ${VAR} and ${VAR:-default} references against the process
// environment before parsing.
func Load(path string) (Config, error) {
	if err := godotenv.Overload(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env overlay")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, perr.Wrap(perr.ConfigError, "read config file "+path, err)
	}

	expanded := expandVars(string(data), os.LookupEnv)

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, perr.Wrap(perr.ConfigError, "parse config file "+path, err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Agent.Name == "" {
		return perr.New(perr.ConfigError, "agent.name must not be empty")
	}
	if cfg.Agent.Provider == "" {
		return perr.New(perr.ConfigError, "agent.provider must not be empty")
	}
	if cfg.Memory.Enabled && cfg.Memory.SimilarityThreshold <= 0 {
		return perr.New(perr.ConfigError, "memory.similarity_threshold must be positive when memory is enabled")
	}
	return nil
}

// WriteDefault writes the default configuration document to path, used by
// `pulsebotd init`.
func WriteDefault(path string) error {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return perr.Wrap(perr.ConfigError, "marshal default config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return perr.Wrap(perr.ConfigError, "write default config to "+path, err)
	}
	return nil
}
