package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/misopack/internal/archive"
	"github.com/BadgerOps/misopack/internal/classify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// ArchiveConfig holds compress/uncompress settings
type ArchiveConfig struct {
	Compression    string `yaml:"compression"`
	ResultSuffix   string `yaml:"result_suffix"`
	RawDirExpr     string `yaml:"raw_dir_expr"`
	FollowSymlinks bool   `yaml:"follow_symlinks"`
}

// CatalogConfig holds run catalog settings
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Compression:    "zstd",
			ResultSuffix:   classify.DefaultResultSuffix,
			RawDirExpr:     "",
			FollowSymlinks: true,
		},
		Catalog: CatalogConfig{
			Enabled: true,
			DBPath:  "",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"misopack.yaml",
		"/etc/misopack/misopack.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "misopack", "misopack.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks values that would otherwise fail only once a run starts
func (c *Config) Validate() error {
	if _, err := archive.ParseCodec(c.Archive.Compression); err != nil {
		return fmt.Errorf("archive.compression: %w", err)
	}
	if strings.TrimSpace(c.Archive.ResultSuffix) == "" {
		return fmt.Errorf("archive.result_suffix must not be empty")
	}
	if c.Archive.RawDirExpr != "" {
		if _, err := classify.CompileExpr(c.Archive.RawDirExpr); err != nil {
			return fmt.Errorf("archive.raw_dir_expr: %w", err)
		}
	}
	return nil
}

// CatalogPath returns the catalog database path, falling back to the
// per-user data directory when none is configured
func (c *Config) CatalogPath() string {
	if c.Catalog.DBPath != "" {
		return c.Catalog.DBPath
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "misopack", "catalog.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "misopack", "catalog.db")
	}
	return filepath.Join(os.TempDir(), "misopack", "catalog.db")
}

// WriteDefault writes the default configuration to path, which must not exist
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
