package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Install   InstallConfig   `yaml:"install"`
	Backup    BackupConfig    `yaml:"backup"`
	Database  DatabaseConfig  `yaml:"database"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Logging   LoggingConfig   `yaml:"logging"`
	History   HistoryConfig   `yaml:"history"`
}

// InstallConfig pins the grid installation to work against. An empty root
// means auto-discovery (saved path, then volume scan).
type InstallConfig struct {
	Root string `yaml:"root"`
}

// BackupConfig holds archiver settings
type BackupConfig struct {
	Dir              string `yaml:"dir"`
	MaxRetries       int    `yaml:"max_retries"`
	MinFreeSpace     string `yaml:"min_free_space"`
	RequireFreeSpace bool   `yaml:"require_free_space"`
	ReportName       string `yaml:"report_name"`
}

// DatabaseConfig holds the grid database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// BootstrapConfig holds launch-and-verify settings
type BootstrapConfig struct {
	SchemaWaitSeconds int `yaml:"schema_wait_seconds"`
}

// SchemaWait returns the per-pass schema wait as a duration.
func (b BootstrapConfig) SchemaWait() time.Duration {
	return time.Duration(b.SchemaWaitSeconds) * time.Second
}

// CleanupConfig holds maintenance settings
type CleanupConfig struct {
	Services []string `yaml:"services"`
}

// LoggingConfig holds the optional rotating file log settings. An empty
// File disables file logging.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// HistoryConfig holds the run-history database settings
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Install: InstallConfig{
			Root: "",
		},
		Backup: BackupConfig{
			Dir:              "",
			MaxRetries:       0,
			MinFreeSpace:     "2GB",
			RequireFreeSpace: false,
			ReportName:       "vergegrid_backups.txt",
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     3306,
			User:     "root",
			Password: "",
			Name:     "robust",
		},
		Bootstrap: BootstrapConfig{
			SchemaWaitSeconds: 30,
		},
		Cleanup: CleanupConfig{
			Services: []string{
				"VergeGridApache",
				"VergeGridMySQL",
				"VergeGridOpenSim",
			},
		},
		Logging: LoggingConfig{
			File:       "",
			MaxSizeMB:  5,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		History: HistoryConfig{
			DBPath: "",
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

// Save writes the config as YAML to the given path
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"gridkeeper.yaml",
	}

	// Add user config path
	if dir, err := os.UserConfigDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(dir, "gridkeeper", "gridkeeper.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// DefaultConfigPath returns where `config init` writes when no explicit
// path is given.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(dir, "gridkeeper", "gridkeeper.yaml"), nil
}
