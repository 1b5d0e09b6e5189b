// Package config loads application configuration from an optional YAML
// file and environment variables. Environment variables override file
// values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"VCFCRED_LISTEN_ADDR" env-default:"127.0.0.1:8080"`
	DBPath     string `yaml:"db_path" env:"VCFCRED_DB_PATH" env-default:"vcfcred.db"`
	LogLevel   string `yaml:"log_level" env:"VCFCRED_LOG_LEVEL" env-default:"info"`

	// VCFTimeout bounds every outbound request to a remote source.
	VCFTimeout time.Duration `yaml:"vcf_timeout" env:"VCFCRED_VCF_TIMEOUT" env-default:"30s"`

	// SyncWorkers bounds how many scheduled sync runs may execute
	// concurrently across all environments.
	SyncWorkers int `yaml:"sync_workers" env:"VCFCRED_SYNC_WORKERS" env-default:"4"`

	// MisfireGrace is how late a scheduled firing may be and still run.
	MisfireGrace time.Duration `yaml:"misfire_grace" env:"VCFCRED_MISFIRE_GRACE" env-default:"1h"`
}

// Load reads configuration from the given YAML file when path is
// non-empty and the file exists, then applies environment overrides. An
// empty path loads from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
			return &cfg, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from environment: %w", err)
	}
	return &cfg, nil
}
