package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nonexistent.toml"))
	assert.NilError(t, err)
	assert.Equal(t, cfg.TileRows, uint32(64))
	assert.Equal(t, cfg.TileCols, uint32(64))
	assert.Equal(t, cfg.AllowNocore, true)
	assert.Equal(t, cfg.ShutdownGraceSeconds, uint32(5))
}

func TestLoadFromPreservesAllowNocoreWhenUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NilError(t, os.WriteFile(path, []byte(`tile_rows = 8
tile_cols = 8
`), 0o644))

	cfg, err := LoadFrom(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.AllowNocore, true)
}

func TestLoadFromAppliesPartialOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NilError(t, os.WriteFile(path, []byte(`tile_rows = 512
tile_cols = 512
`), 0o644))

	cfg, err := LoadFrom(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.TileRows, uint32(512))
	assert.Equal(t, cfg.TileCols, uint32(512))
	assert.Assert(t, cfg.DataPath != "")
	assert.Assert(t, cfg.SocketPath != "")
}

func TestLoadFromRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NilError(t, os.WriteFile(path, []byte("not valid toml [[["), 0o644))

	_, err := LoadFrom(path)
	assert.Assert(t, err != nil)
}
