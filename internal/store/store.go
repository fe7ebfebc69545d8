// Package store implements the persistent tile grid: a single file, sized
// exactly TileRows*TileCols*4096 bytes, mapped read/write shared for the
// process lifetime.
package store

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/programble/torus/internal/protocol"
	"github.com/programble/torus/internal/torus"
)

// Store owns the mapped tile file for the process lifetime.
type Store struct {
	file *os.File
	data []byte
	dims torus.Dims
	now  func() int64
}

// Open creates (if absent) and maps the tile file at path, sized to dims.
// When allowNocore is true the mapped region is excluded from core dumps
// on platforms that support it.
func Open(path string, dims torus.Dims, allowNocore bool) (*Store, error) {
	return open(path, dims, allowNocore, time.Now().Unix)
}

func open(path string, dims torus.Dims, allowNocore bool, now func() int64) (*Store, error) {
	size := int64(dims.TileRows) * int64(dims.TileCols) * protocol.TileSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: truncate %s to %d: %w", path, size, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap %s: %w", path, err)
	}

	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("store: madvise random: %w", err)
	}
	if allowNocore {
		excludeFromCoreDump(data)
	}

	return &Store{file: f, data: data, dims: dims, now: now}, nil
}

func (s *Store) offset(tileX, tileY uint32) int {
	return (int(tileY)*int(s.dims.TileCols) + int(tileX)) * protocol.TileSize
}

func (s *Store) tileAt(tileX, tileY uint32) protocol.Tile {
	off := s.offset(tileX, tileY)
	return protocol.Tile(s.data[off : off+protocol.TileSize])
}

// Get returns the tile at (tileX, tileY), lazily blanking it on first
// access (createTime == 0 means uninitialised).
func (s *Store) Get(tileX, tileY uint32) protocol.Tile {
	t := s.tileAt(tileX, tileY)
	if t.Uninitialised() {
		t.Blank(s.now())
	}
	return t
}

// Access returns the tile, lazily initialising it, and stamps an access.
// Callers that cannot guarantee the fetch will actually reach the client
// (e.g. a send that might still fail) should use Get plus a later
// MarkAccessed instead, so a failed delivery never counts as an access.
func (s *Store) Access(tileX, tileY uint32) protocol.Tile {
	t := s.Get(tileX, tileY)
	s.MarkAccessed(t)
	return t
}

// MarkAccessed stamps an access on a tile already obtained from Get. It
// lets a caller defer the stamp until after a fetch is confirmed
// successful, per accessCount's "successful fetch" semantics.
func (s *Store) MarkAccessed(t protocol.Tile) {
	t.SetAccessTime(s.now())
	t.SetAccessCount(t.AccessCount() + 1)
}

// Modify returns the tile, lazily initialising it, and stamps a
// modification.
func (s *Store) Modify(tileX, tileY uint32) protocol.Tile {
	t := s.Get(tileX, tileY)
	t.SetModifyTime(s.now())
	t.SetModifyCount(t.ModifyCount() + 1)
	return t
}

// Dims reports the grid dimensions this store was opened with.
func (s *Store) Dims() torus.Dims { return s.dims }

// Close unmaps and closes the backing file, aggregating any errors from
// both steps.
func (s *Store) Close() error {
	var result *multierror.Error
	if err := unix.Munmap(s.data); err != nil {
		result = multierror.Append(result, fmt.Errorf("store: munmap: %w", err))
	}
	if err := s.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("store: close file: %w", err))
	}
	return result.ErrorOrNil()
}
