// Package engine implements the cursor/movement, edit, map, and teleport
// operations against a store and registry. It never touches a socket
// directly: callers supply a Sender that knows how to deliver a frame to a
// registry.Client, which keeps the engine testable with a fake in-memory
// sender and reusable from both the production event loop and unit tests.
package engine

import (
	"errors"
	"time"

	"github.com/programble/torus/internal/protocol"
	"github.com/programble/torus/internal/registry"
	"github.com/programble/torus/internal/store"
	"github.com/programble/torus/internal/torus"
)

// ErrInvalidPort is returned by Teleport for an out-of-range port index.
var ErrInvalidPort = errors.New("engine: invalid teleport port")

// Sender delivers one frame to a client's socket. A non-nil error means the
// client is to be treated as dead: the engine removes it from the registry,
// broadcasts its departure, and returns it in the operation's Failed list;
// closing its fd is left to the daemon.
type Sender interface {
	SendFrame(c *registry.Client, f protocol.ServerFrame) error
	SendTile(c *registry.Client, t protocol.Tile) error
	SendMap(c *registry.Client, p protocol.MapPayload) error
}

// Engine wires together the store, the registry, and the grid dimensions
// to implement every client-facing operation.
type Engine struct {
	Store    *store.Store
	Registry *registry.Registry
	Dims     torus.Dims
	Sender   Sender
	Now      func() int64
}

func New(s *store.Store, r *registry.Registry, dims torus.Dims, sender Sender) *Engine {
	return &Engine{Store: s, Registry: r, Dims: dims, Sender: sender, Now: time.Now().Unix}
}

// Failed is the result of any operation: the list of clients whose send
// failed during the operation, already removed from the registry and
// already the subject of a best-effort departure broadcast to their former
// co-observers. The caller (daemon) still owns closing each fd.
type Failed []*registry.Client

// Spawn places a freshly accepted client at the canonical spawn tile/cell
// and runs it through the same update path as a move, so that the very
// first frames it and any co-located observers receive are exactly those
// of an ordinary tile-crossing move.
func (e *Engine) Spawn(c *registry.Client) Failed {
	old := snapshot(c)
	tileX, tileY := e.Dims.SpawnTile()
	c.TileX, c.TileY = tileX, tileY
	c.CellX, c.CellY = torus.SpawnCellX, torus.SpawnCellY
	return e.afterMove(c, old)
}

// Move applies a clamped cell delta, possibly crossing a tile edge with
// torus wrap, and emits the resulting frames.
func (e *Engine) Move(c *registry.Client, dx, dy int8) Failed {
	old := snapshot(c)
	tileX, tileY, cellX, cellY := e.Dims.Move(c.TileX, c.TileY, c.CellX, c.CellY, dx, dy)
	c.TileX, c.TileY, c.CellX, c.CellY = tileX, tileY, cellX, cellY
	return e.afterMove(c, old)
}

// Flip translates the client by half the torus diagonal, always crossing a
// tile.
func (e *Engine) Flip(c *registry.Client) Failed {
	old := snapshot(c)
	c.TileX, c.TileY = e.Dims.Flip(c.TileX, c.TileY)
	return e.afterMove(c, old)
}

// Teleport jumps to the port-th entry of the fixed port table, resetting
// the cell to the spawn cell.
func (e *Engine) Teleport(c *registry.Client, port uint8) (Failed, error) {
	dest, ok := e.Dims.Port(port)
	if !ok {
		return nil, ErrInvalidPort
	}
	old := snapshot(c)
	c.TileX, c.TileY = dest.TileX, dest.TileY
	c.CellX, c.CellY = torus.SpawnCellX, torus.SpawnCellY
	return e.afterMove(c, old), nil
}

// Put writes a cell, stamps the tile's modification metadata, and mirrors
// the write to the editor and every co-located observer.
func (e *Engine) Put(c *registry.Client, color, cell uint8) Failed {
	tile := e.Store.Modify(c.TileX, c.TileY)
	tile.SetCell(int(c.CellX), int(c.CellY), cell, color)

	msg := protocol.PutReply(c.CellX, c.CellY, color, cell)
	return e.broadcastToTile(c.TileX, c.TileY, nil, msg)
}

// Map scans an 11×11 metadata window centred on the client's current tile
// and sends it in one aggregated payload. This is a read-only scan, not a
// Tile fetch: it must not stamp accessTime/accessCount on any tile it
// passes over, so it uses Get rather than Access.
func (e *Engine) Map(c *registry.Client) Failed {
	const half = torusMapHalf
	var p protocol.MapPayload
	p.Now = e.Now()

	first := true
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			tileX := torus.WrapU32(int64(c.TileX)+int64(dx), e.Dims.TileCols)
			tileY := torus.WrapU32(int64(c.TileY)+int64(dy), e.Dims.TileRows)
			tile := e.Store.Get(tileX, tileY)

			m := protocol.TileMeta{
				CreateTime:  tile.CreateTime(),
				ModifyTime:  tile.ModifyTime(),
				AccessTime:  tile.AccessTime(),
				ModifyCount: tile.ModifyCount(),
				AccessCount: tile.AccessCount(),
			}
			p.Meta[dy+half][dx+half] = m

			if first {
				p.Min, p.Max = m, m
				first = false
				continue
			}
			p.Min = minMeta(p.Min, m)
			p.Max = maxMeta(p.Max, m)
		}
	}

	if err := e.Sender.SendMap(c, p); err != nil {
		return e.fail(c)
	}
	return nil
}

// Disconnect removes c from the registry and broadcasts its departure to
// co-located observers.
func (e *Engine) Disconnect(c *registry.Client) Failed {
	observers := e.Registry.Observers(c.TileX, c.TileY, c)
	e.Registry.Remove(c)
	return e.notifyDeparture(c, observers)
}

const torusMapHalf = (protocol.MapWindowSize - 1) / 2

func snapshot(c *registry.Client) registry.Client { return *c }

// afterMove implements the shared emission sequence for Spawn/Move/Flip/
// Teleport:
//  1. Move ack to the mover.
//  2. If the tile changed: Tile header+payload to the mover, a Cursor
//     snapshot of every incumbent observer on the new tile, a departure
//     Cursor to observers of the old tile, an arrival Cursor to observers
//     of the new tile.
//  3. If the tile did not change: a single Cursor broadcast (old cell →
//     new cell) to co-located observers.
func (e *Engine) afterMove(c *registry.Client, old registry.Client) Failed {
	var failed Failed

	if err := e.Sender.SendFrame(c, protocol.MoveReply(c.CellX, c.CellY)); err != nil {
		return e.fail(c)
	}

	if c.TileX != old.TileX || c.TileY != old.TileY {
		tile := e.Store.Get(c.TileX, c.TileY)
		if err := e.Sender.SendTile(c, tile); err != nil {
			return e.fail(c)
		}
		e.Store.MarkAccessed(tile)

		for _, friend := range e.Registry.Observers(c.TileX, c.TileY, c) {
			msg := protocol.CursorReply(protocol.CursorNone, protocol.CursorNone, friend.CellX, friend.CellY)
			if err := e.Sender.SendFrame(c, msg); err != nil {
				return e.fail(c)
			}
		}

		departMsg := protocol.CursorReply(old.CellX, old.CellY, protocol.CursorNone, protocol.CursorNone)
		failed = append(failed, e.broadcastToTile(old.TileX, old.TileY, c, departMsg)...)

		arriveMsg := protocol.CursorReply(protocol.CursorNone, protocol.CursorNone, c.CellX, c.CellY)
		failed = append(failed, e.broadcastToTile(c.TileX, c.TileY, c, arriveMsg)...)
	} else {
		msg := protocol.CursorReply(old.CellX, old.CellY, c.CellX, c.CellY)
		failed = append(failed, e.broadcastToTile(c.TileX, c.TileY, c, msg)...)
	}

	return failed
}

// broadcastToTile sends msg to every client co-located on (tileX, tileY),
// excluding exclude. A failing recipient is removed and its own departure
// is broadcast to the survivors, without aborting delivery to the rest.
func (e *Engine) broadcastToTile(tileX, tileY uint32, exclude *registry.Client, msg protocol.ServerFrame) Failed {
	var failed Failed
	for _, friend := range e.Registry.Observers(tileX, tileY, exclude) {
		if err := e.Sender.SendFrame(friend, msg); err != nil {
			failed = append(failed, e.fail(friend)...)
		}
	}
	return failed
}

// fail removes c from the registry and notifies its remaining co-located
// observers of its departure, returning c so the caller can aggregate it
// into a Failed list for the daemon to close the fd.
func (e *Engine) fail(c *registry.Client) Failed {
	observers := e.Registry.Observers(c.TileX, c.TileY, c)
	e.Registry.Remove(c)
	return e.notifyDeparture(c, observers)
}

func (e *Engine) notifyDeparture(c *registry.Client, observers []*registry.Client) Failed {
	failed := Failed{c}
	msg := protocol.CursorReply(c.CellX, c.CellY, protocol.CursorNone, protocol.CursorNone)
	for _, friend := range observers {
		if err := e.Sender.SendFrame(friend, msg); err != nil {
			failed = append(failed, e.fail(friend)...)
		}
	}
	return failed
}

func minMeta(a, b protocol.TileMeta) protocol.TileMeta {
	return protocol.TileMeta{
		CreateTime:  minIgnoreZero(a.CreateTime, b.CreateTime),
		ModifyTime:  minIgnoreZero(a.ModifyTime, b.ModifyTime),
		AccessTime:  minIgnoreZero(a.AccessTime, b.AccessTime),
		ModifyCount: minU32(a.ModifyCount, b.ModifyCount),
		AccessCount: minU32(a.AccessCount, b.AccessCount),
	}
}

func maxMeta(a, b protocol.TileMeta) protocol.TileMeta {
	return protocol.TileMeta{
		CreateTime:  max64(a.CreateTime, b.CreateTime),
		ModifyTime:  max64(a.ModifyTime, b.ModifyTime),
		AccessTime:  max64(a.AccessTime, b.AccessTime),
		ModifyCount: maxU32(a.ModifyCount, b.ModifyCount),
		AccessCount: maxU32(a.AccessCount, b.AccessCount),
	}
}

// minIgnoreZero treats 0 ("never") as absent when taking a minimum.
func minIgnoreZero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
