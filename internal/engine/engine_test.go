package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/programble/torus/internal/protocol"
	"github.com/programble/torus/internal/registry"
	"github.com/programble/torus/internal/store"
	"github.com/programble/torus/internal/torus"
)

type sentFrame struct {
	c *registry.Client
	f protocol.ServerFrame
}

type fakeSender struct {
	frames  []sentFrame
	tiles   []*registry.Client
	maps    []*registry.Client
	failFDs map[int]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFDs: map[int]bool{}}
}

func (s *fakeSender) SendFrame(c *registry.Client, f protocol.ServerFrame) error {
	if s.failFDs[c.FD] {
		return errors.New("fake send failure")
	}
	s.frames = append(s.frames, sentFrame{c, f})
	return nil
}

func (s *fakeSender) SendTile(c *registry.Client, t protocol.Tile) error {
	if s.failFDs[c.FD] {
		return errors.New("fake send failure")
	}
	s.tiles = append(s.tiles, c)
	return nil
}

func (s *fakeSender) SendMap(c *registry.Client, p protocol.MapPayload) error {
	if s.failFDs[c.FD] {
		return errors.New("fake send failure")
	}
	s.maps = append(s.maps, c)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSender) {
	t.Helper()
	dims := torus.Dims{TileRows: 64, TileCols: 64}
	path := filepath.Join(t.TempDir(), "torus.dat")
	s, err := store.Open(path, dims, true)
	assert.NilError(t, err)
	t.Cleanup(func() { s.Close() })

	sender := newFakeSender()
	reg := registry.New()
	e := New(s, reg, dims, sender)
	e.Now = func() int64 { return 1000 }
	return e, sender
}

func TestSpawnSingleClient(t *testing.T) {
	e, sender := newTestEngine(t)
	c := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)

	failed := e.Spawn(c)
	assert.Equal(t, len(failed), 0)

	assert.Equal(t, len(sender.frames), 1)
	assert.Equal(t, sender.frames[0].f.Tag, protocol.ServerMove)
	assert.Equal(t, len(sender.tiles), 1)
	assert.Equal(t, c.CellX, uint8(torus.SpawnCellX))
	assert.Equal(t, c.CellY, uint8(torus.SpawnCellY))

	tx, ty := e.Dims.SpawnTile()
	assert.Equal(t, c.TileX, tx)
	assert.Equal(t, c.TileY, ty)
}

func TestSpawnSecondClientNotifiesFirst(t *testing.T) {
	e, sender := newTestEngine(t)
	a := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(a)
	sender.frames = nil
	sender.tiles = nil

	b := e.Registry.Add(2, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	failed := e.Spawn(b)
	assert.Equal(t, len(failed), 0)

	// A must receive exactly one Cursor arrival frame.
	var aCursor int
	for _, sf := range sender.frames {
		if sf.c == a && sf.f.Tag == protocol.ServerCursor {
			aCursor++
		}
	}
	assert.Equal(t, aCursor, 1)

	// B must receive Move, Tile, and one Cursor snapshot of A.
	assert.Equal(t, len(sender.tiles), 1)
	assert.Equal(t, sender.tiles[0], b)

	var bMoves, bCursors int
	for _, sf := range sender.frames {
		if sf.c != b {
			continue
		}
		switch sf.f.Tag {
		case protocol.ServerMove:
			bMoves++
		case protocol.ServerCursor:
			bCursors++
		}
	}
	assert.Equal(t, bMoves, 1)
	assert.Equal(t, bCursors, 1)
}

func TestMoveWithinTileBroadcastsCursorOnly(t *testing.T) {
	e, sender := newTestEngine(t)
	a := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	b := e.Registry.Add(2, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(a)
	e.Spawn(b)
	sender.frames = nil
	sender.tiles = nil

	failed := e.Move(a, 1, 0)
	assert.Equal(t, len(failed), 0)
	assert.Equal(t, len(sender.tiles), 0) // no tile crossing

	var bCursor int
	for _, sf := range sender.frames {
		if sf.c == b && sf.f.Tag == protocol.ServerCursor {
			bCursor++
		}
	}
	assert.Equal(t, bCursor, 1)
}

func TestMoveCrossingTileEdge(t *testing.T) {
	e, _ := newTestEngine(t)
	c := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(c)
	c.CellX = protocol.CellCols - 1

	failed := e.Move(c, 1, 0)
	assert.Equal(t, len(failed), 0)
	assert.Equal(t, c.CellX, uint8(0))

	tx, _ := e.Dims.SpawnTile()
	assert.Equal(t, c.TileX, tx+1)
}

func TestFlipAlwaysCrossesTile(t *testing.T) {
	e, _ := newTestEngine(t)
	c := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(c)
	oldX, oldY := c.TileX, c.TileY

	failed := e.Flip(c)
	assert.Equal(t, len(failed), 0)
	assert.Assert(t, c.TileX != oldX || c.TileY != oldY)

	flipX, flipY := e.Dims.Flip(oldX, oldY)
	assert.Equal(t, c.TileX, flipX)
	assert.Equal(t, c.TileY, flipY)
}

func TestTeleportValidPort(t *testing.T) {
	e, _ := newTestEngine(t)
	c := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(c)

	failed, err := e.Teleport(c, 1)
	assert.NilError(t, err)
	assert.Equal(t, len(failed), 0)

	port, _ := e.Dims.Port(1)
	assert.Equal(t, c.TileX, port.TileX)
	assert.Equal(t, c.TileY, port.TileY)
	assert.Equal(t, c.CellX, uint8(torus.SpawnCellX))
	assert.Equal(t, c.CellY, uint8(torus.SpawnCellY))
}

func TestTeleportInvalidPortFailsClient(t *testing.T) {
	e, _ := newTestEngine(t)
	c := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(c)

	_, err := e.Teleport(c, 200)
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestPutMirrorsToEditorAndObserver(t *testing.T) {
	e, sender := newTestEngine(t)
	a := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	b := e.Registry.Add(2, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(a)
	e.Spawn(b)
	sender.frames = nil

	failed := e.Put(a, 0x07, 'X')
	assert.Equal(t, len(failed), 0)

	var aPut, bPut int
	for _, sf := range sender.frames {
		if sf.f.Tag != protocol.ServerPut {
			continue
		}
		if sf.c == a {
			aPut++
		}
		if sf.c == b {
			bPut++
		}
	}
	assert.Equal(t, aPut, 1)
	assert.Equal(t, bPut, 1)

	tile := e.Store.Access(a.TileX, a.TileY)
	g, col := tile.Cell(int(a.CellX), int(a.CellY))
	assert.Equal(t, g, uint8('X'))
	assert.Equal(t, col, uint8(0x07))
}

func TestPutAfterObserverFailureStillReachesSurvivor(t *testing.T) {
	e, sender := newTestEngine(t)
	a := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	b := e.Registry.Add(2, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	c := e.Registry.Add(3, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(a)
	e.Spawn(b)
	e.Spawn(c)
	sender.frames = nil
	sender.failFDs[b.FD] = true

	failed := e.Put(a, 0x01, '#')
	assert.Equal(t, len(failed), 1)
	assert.Equal(t, failed[0], b)

	_, stillThere := e.Registry.ByFD(b.FD)
	assert.Assert(t, !stillThere)

	var cPut int
	for _, sf := range sender.frames {
		if sf.c == c && sf.f.Tag == protocol.ServerPut {
			cPut++
		}
	}
	assert.Equal(t, cPut, 1)
}

func TestMapReturnsAggregatedWindow(t *testing.T) {
	e, sender := newTestEngine(t)
	c := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(c)

	failed := e.Map(c)
	assert.Equal(t, len(failed), 0)
	assert.Equal(t, len(sender.maps), 1)
}

// TestMapDoesNotStampAccess confirms the metadata scan behind Map never
// counts as a Tile fetch: accessCount/accessTime on a scanned tile must be
// left exactly as Spawn's own fetch left them.
func TestMapDoesNotStampAccess(t *testing.T) {
	e, _ := newTestEngine(t)
	c := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(c)

	before := e.Store.Get(c.TileX, c.TileY)
	beforeCount, beforeTime := before.AccessCount(), before.AccessTime()

	failed := e.Map(c)
	assert.Equal(t, len(failed), 0)

	after := e.Store.Get(c.TileX, c.TileY)
	assert.Equal(t, after.AccessCount(), beforeCount)
	assert.Equal(t, after.AccessTime(), beforeTime)
}

func TestDisconnectNotifiesObservers(t *testing.T) {
	e, sender := newTestEngine(t)
	a := e.Registry.Add(1, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	b := e.Registry.Add(2, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
	e.Spawn(a)
	e.Spawn(b)
	sender.frames = nil

	e.Disconnect(a)

	_, stillThere := e.Registry.ByFD(a.FD)
	assert.Assert(t, !stillThere)

	var bCursor int
	for _, sf := range sender.frames {
		if sf.c == b && sf.f.Tag == protocol.ServerCursor {
			bCursor++
		}
	}
	assert.Equal(t, bCursor, 1)
}
