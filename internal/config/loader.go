package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Hotwords
	hw := cfg.Hotwords
	if hw.RuleFile == "" {
		errs = append(errs, errors.New("hotwords.rule_file is required"))
	}
	if hw.DefaultThreshold < MinThreshold || hw.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("hotwords.default_threshold %.2f is out of range [%g, 1]", hw.DefaultThreshold, MinThreshold))
	}
	if hw.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("hotwords.watch_interval %s must not be negative", hw.WatchInterval))
	}
	if hw.BackupKeep < 0 {
		errs = append(errs, fmt.Errorf("hotwords.backup_keep %d must not be negative", hw.BackupKeep))
	}

	if hw.CacheDir == "" {
		slog.Warn("hotwords.cache_dir is empty; rules and segmenter dictionary are rebuilt on every start")
	}
	if hw.BackupDir == "" {
		slog.Warn("hotwords.backup_dir is empty; rule file updates are not backed up")
	}

	return errors.Join(errs...)
}
