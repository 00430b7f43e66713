package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for cloudstore.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string `toml:"addr"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"` // request body cap for single uploads
	MaxChunkBytes  int64  `toml:"max_chunk_bytes"`  // per-chunk body cap
}

// StorageConfig holds the storage tree and staging settings.
type StorageConfig struct {
	StorageDir      string `toml:"storage_dir"`
	StagingDir      string `toml:"staging_dir"`
	MaxNameLen      int    `toml:"max_name_len"`
	MaxPathLen      int    `toml:"max_path_len"`
	IdleTimeoutMins int    `toml:"idle_timeout_minutes"`
}

// DatabaseConfig holds the users database location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// AuthConfig holds account and session settings. The admin password is
// never stored in the config; it is read from the ADMIN_PASS environment
// variable on first start or set via `cloudstore user add`.
type AuthConfig struct {
	AdminUser      string `toml:"admin_user"`
	SessionTTLMins int    `toml:"session_ttl_minutes"`
}

const (
	defaultAddr            = ":8000"
	defaultMaxUploadBytes  = 20 << 30 // 20 GiB
	defaultMaxChunkBytes   = 64 << 20 // 64 MiB
	defaultIdleTimeoutMins = 30
	defaultSessionTTLMins  = 12 * 60
)

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Server: ServerConfig{
			Addr:           defaultAddr,
			MaxUploadBytes: defaultMaxUploadBytes,
			MaxChunkBytes:  defaultMaxChunkBytes,
		},
		Storage: StorageConfig{
			StorageDir:      filepath.Join(baseDir, "storage"),
			StagingDir:      filepath.Join(baseDir, "staging"),
			IdleTimeoutMins: defaultIdleTimeoutMins,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(baseDir, "data", "cloudstore.db"),
		},
		Auth: AuthConfig{
			AdminUser:      "admin",
			SessionTTLMins: defaultSessionTTLMins,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
// Fails if a config file already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
