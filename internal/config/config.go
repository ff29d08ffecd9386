// Package config provides the configuration schema and loader for the voxfix
// hotword correction service.
package config

import (
	"path/filepath"
	"time"
)

// LogLevel controls log verbosity for the voxfix server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxfix.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hotwords  HotwordsConfig  `yaml:"hotwords"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the voxfix server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// HotwordsConfig locates the rule file and tunes correction.
type HotwordsConfig struct {
	// RuleFile is the path of the user-edited rule file.
	RuleFile string `yaml:"rule_file"`

	// CacheDir holds the derived rule cache and the segmenter dictionary.
	// Empty disables both caches.
	CacheDir string `yaml:"cache_dir"`

	// DefaultThreshold applies to rules without an explicit threshold.
	DefaultThreshold float64 `yaml:"default_threshold"`

	// SegmentSeparator joins corrected sentences of a recognition result
	// whose top-level text is empty.
	SegmentSeparator string `yaml:"segment_separator"`

	// BaseDictionary optionally replaces the segmenter's embedded dictionary
	// with a jieba-format file.
	BaseDictionary string `yaml:"base_dictionary"`

	// WatchInterval is the rule file polling interval. Zero disables
	// watching.
	WatchInterval time.Duration `yaml:"watch_interval"`

	// BackupDir receives a copy of the rule file before every update
	// through the API. Empty disables backups.
	BackupDir string `yaml:"backup_dir"`

	// BackupKeep is the number of backups retained.
	BackupKeep int `yaml:"backup_keep"`
}

// TelemetryConfig configures the metrics and tracing providers.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}

// Defaults used by [ApplyDefaults] and [Default].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRuleFile        = "keywords"
	DefaultCacheDir        = ".voxfix"
	DefaultThreshold       = 0.9
	MinThreshold           = 0.1
	DefaultWatchInterval   = 5 * time.Second
	DefaultBackupKeep      = 10
	DefaultServiceName     = "voxfix"
)

const (
	cacheFileName      = "rules.yaml"
	dictionaryFileName = "dict.txt"
)

// ApplyDefaults fills zero values in cfg. Fields that are meaningful when
// empty (CacheDir, BackupDir, WatchInterval) are defaulted only by [Default].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Hotwords.RuleFile == "" {
		cfg.Hotwords.RuleFile = DefaultRuleFile
	}
	if cfg.Hotwords.DefaultThreshold == 0 {
		cfg.Hotwords.DefaultThreshold = DefaultThreshold
	}
	if cfg.Hotwords.BackupKeep == 0 {
		cfg.Hotwords.BackupKeep = DefaultBackupKeep
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{
		Hotwords: HotwordsConfig{
			CacheDir:      DefaultCacheDir,
			WatchInterval: DefaultWatchInterval,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// CachePath returns the derived rule cache path, or "" when caching is
// disabled.
func (h HotwordsConfig) CachePath() string {
	return h.inCacheDir(cacheFileName)
}

// DictionaryPath returns the segmenter dictionary path, or "" when caching
// is disabled.
func (h HotwordsConfig) DictionaryPath() string {
	return h.inCacheDir(dictionaryFileName)
}

func (h HotwordsConfig) inCacheDir(name string) string {
	if h.CacheDir == "" {
		return ""
	}
	return filepath.Join(h.CacheDir, name)
}
