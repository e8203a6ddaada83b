// Package config loads the engine's single YAML configuration file into a
// typed Config, the way the teacher repo's internal/s3.Client and
// internal/crypto.HardwareConfig consumers each take a narrow *XConfig
// struct. Unlike the teacher (which leaves config loading to an external
// framework), this repo owns one fixed shape end to end with
// gopkg.in/yaml.v3, already a teacher dependency.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/kenneth/bae-engine/internal/errs"
	"gopkg.in/yaml.v3"
)

// Default values, taken verbatim from spec.md §6.
const (
	DefaultChunkSizeBytes   = 1024 * 1024 // 1 MiB
	DefaultMaxUploadWorkers = 20
	DefaultMaxDBWorkers     = 10
	DefaultPrefetchChunks   = 5
	DefaultCacheMaxEntries  = 100_000
	DefaultCacheMaxBytes    = 20 * 1024 * 1024 * 1024 // 20 GiB
	DefaultFetchConcurrency = 10
	DefaultChunkFetchTimeout = 30 * time.Second
)

// StorageConfig configures the S3-compatible object store backend.
type StorageConfig struct {
	Provider        string `yaml:"provider"` // "aws", "minio", "wasabi", "backblaze", "digitalocean", "generic"
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty"`
}

// HardwareConfig holds the CPU-specific acceleration settings, mirroring the
// teacher's internal/crypto.HardwareConfig. No component reads these
// fields; crypto/aes selects its acceleration path on its own.
type HardwareConfig struct {
	EnableAESNI    bool `yaml:"enable_aesni"`
	EnableARMv8AES bool `yaml:"enable_armv8_aes"`
}

// ImportConfig bounds the import pipeline's parallelism (spec.md §4.6/§6).
type ImportConfig struct {
	ChunkSizeBytes    int `yaml:"chunk_size_bytes"`
	MaxEncryptWorkers int `yaml:"max_encrypt_workers"`
	MaxUploadWorkers  int `yaml:"max_upload_workers"`
	MaxDBWriteWorkers int `yaml:"max_db_write_workers"`
}

// CacheConfig bounds the on-disk chunk cache (spec.md §4.3/§6).
type CacheConfig struct {
	Directory     string `yaml:"directory"`
	MaxBytes      int64  `yaml:"max_bytes"`
	MaxEntries    int    `yaml:"max_entries"`
	PrefetchCount int    `yaml:"prefetch_chunks"`
}

// Config is the top-level, single-file configuration record (spec.md §6).
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Import   ImportConfig   `yaml:"import"`
	Cache    CacheConfig    `yaml:"cache"`
	Hardware HardwareConfig `yaml:"hardware"`
	CatalogPath string      `yaml:"catalog_path"`
	LogLevel    string      `yaml:"log_level"`
}

// Default returns a Config populated with spec.md §6's documented defaults.
// Bucket and credential fields, which have no sane default, are left
// zero-valued; Validate catches their absence.
func Default() *Config {
	return &Config{
		Import: ImportConfig{
			ChunkSizeBytes:    DefaultChunkSizeBytes,
			MaxEncryptWorkers: 2 * runtime.NumCPU(),
			MaxUploadWorkers:  DefaultMaxUploadWorkers,
			MaxDBWriteWorkers: DefaultMaxDBWorkers,
		},
		Cache: CacheConfig{
			Directory:     "cache",
			MaxBytes:      DefaultCacheMaxBytes,
			MaxEntries:    DefaultCacheMaxEntries,
			PrefetchCount: DefaultPrefetchChunks,
		},
		Hardware: HardwareConfig{
			EnableAESNI:    true,
			EnableARMv8AES: true,
		},
		CatalogPath: "catalog.db",
		LogLevel:    "info",
	}
}

// Load reads a YAML config file from path, layering it over Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "config", "failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "config", "failed to parse config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for the invalid states spec.md §7's ConfigError covers:
// missing credentials, invalid chunk size.
func (c *Config) Validate() error {
	if c.Import.ChunkSizeBytes <= 0 {
		return errs.New(errs.KindConfig, "config", "chunk_size_bytes must be positive")
	}
	if c.Storage.Bucket == "" {
		return errs.New(errs.KindConfig, "config", "storage.bucket is required")
	}
	if c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "" {
		return errs.New(errs.KindConfig, "config", "storage access credentials are required")
	}
	if c.Import.MaxEncryptWorkers <= 0 || c.Import.MaxUploadWorkers <= 0 || c.Import.MaxDBWriteWorkers <= 0 {
		return errs.New(errs.KindConfig, "config", "worker pool sizes must be positive")
	}
	return nil
}

// String renders the config with secrets masked, safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{bucket=%s region=%s provider=%s chunk_size=%d cache_dir=%s}",
		c.Storage.Bucket, c.Storage.Region, c.Storage.Provider, c.Import.ChunkSizeBytes, c.Cache.Directory)
}
