// Package config implements torusd's TOML configuration (ambient CLI/config
// stack, grounded in the teacher's config package) and XDG path defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is torusd's effective configuration.
type Config struct {
	DataPath   string `toml:"data_path"`
	SocketPath string `toml:"socket_path"`
	PIDPath    string `toml:"pid_path"`

	TileRows uint32 `toml:"tile_rows"`
	TileCols uint32 `toml:"tile_cols"`

	// AllowNocore requests that the mapped tile file be excluded from core
	// dumps (MADV_DONTDUMP on Linux), so an operator crash dump never
	// carries the full grid contents.
	AllowNocore bool `toml:"allow_nocore"`

	// ShutdownGraceSeconds bounds how long Shutdown waits for the event
	// loop to notice the wake signal before giving up on a clean exit.
	ShutdownGraceSeconds uint32 `toml:"shutdown_grace_seconds"`
}

// Default returns a Config populated with the canonical 64x64 deployment
// defaults.
func Default() *Config {
	dir := runtimeDir()
	return &Config{
		DataPath:   filepath.Join(dir, "torus.dat"),
		SocketPath: filepath.Join(dir, "torus.sock"),
		PIDPath:    filepath.Join(dir, "torus.pid"),
		TileRows:   64,
		TileCols:   64,

		AllowNocore:          true,
		ShutdownGraceSeconds: 5,
	}
}

// Load reads the configuration from the default path
// ($XDG_CONFIG_HOME/torus/config.toml or ~/.config/torus/config.toml). If
// the file does not exist, defaults are returned without error.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// DefaultPath returns the config file path Load reads from.
func DefaultPath() string {
	return defaultConfigPath()
}

// LoadFrom reads the configuration from path, applying defaults for any
// field the file leaves unset or sets to its zero value; AllowNocore is the
// exception, where an explicit false is kept. If the file does not exist,
// defaults are returned without error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.DataPath == "" {
		cfg.DataPath = d.DataPath
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = d.SocketPath
	}
	if cfg.PIDPath == "" {
		cfg.PIDPath = d.PIDPath
	}
	if cfg.TileRows == 0 {
		cfg.TileRows = d.TileRows
	}
	if cfg.TileCols == 0 {
		cfg.TileCols = d.TileCols
	}
	if cfg.ShutdownGraceSeconds == 0 {
		cfg.ShutdownGraceSeconds = d.ShutdownGraceSeconds
	}
}

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "torus", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "torus", "config.toml")
}

func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "torus")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("torus-%d", os.Getuid()))
}

// EnsureDirs creates the parent directories of every configured path.
func (c *Config) EnsureDirs() error {
	for _, p := range []string{c.DataPath, c.SocketPath, c.PIDPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("config: create %s: %w", filepath.Dir(p), err)
		}
	}
	return nil
}
