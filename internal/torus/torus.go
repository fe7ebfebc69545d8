// Package torus implements the pure coordinate arithmetic of the toroidal
// tile grid: wraparound, the canonical spawn point, and the teleport port
// table. None of it touches I/O, so it is exercised directly by unit tests
// without a store, registry, or socket in sight.
package torus

import "github.com/programble/torus/internal/protocol"

// Dims carries the deployment's grid dimensions. Cell dimensions are fixed
// at compile time; tile dimensions are a deployment choice (canonically
// 64×64 or 512×512) and therefore live on the value rather than as consts.
type Dims struct {
	TileRows uint32
	TileCols uint32
}

const (
	CellRows = protocol.CellRows
	CellCols = protocol.CellCols
)

// VoidTileX and VoidTileY are the sentinel tile coordinates assigned to a
// client record before its first spawn. No real tile ever has these
// coordinates, so a client in the void position is never anyone's observer
// and has no observers of its own.
const (
	VoidTileX = ^uint32(0)
	VoidTileY = ^uint32(0)
)

// SpawnCellX and SpawnCellY are the canonical initial cell coordinates:
// the centre of a tile.
const (
	SpawnCellX = CellCols / 2
	SpawnCellY = CellRows / 2
)

// WrapU32 implements the torus wrap `((v mod n) + n) mod n` over unsigned
// coordinates, where v may be the result of a wrapping subtraction.
func WrapU32(v int64, n uint32) uint32 {
	m := int64(n)
	r := ((v % m) + m) % m
	return uint32(r)
}

// SpawnTile returns the canonical spawn tile: the centre of the grid (tile
// (32,32) for a 64×64 deployment).
func (d Dims) SpawnTile() (tileX, tileY uint32) {
	return d.TileCols / 2, d.TileRows / 2
}

// Port is one entry of the teleport destination table.
type Port struct {
	TileX, TileY uint32
}

// Ports returns the compile-time table of up to five teleport destinations:
// the origin and the four quadrant midpoints at ±¼·TILE. Index 0 is the
// origin tile, distinct from SpawnTile.
func (d Dims) Ports() []Port {
	return []Port{
		{TileX: 0, TileY: 0},
		{TileX: d.TileCols * 3 / 4, TileY: d.TileRows * 3 / 4}, // SE
		{TileX: d.TileCols * 1 / 4, TileY: d.TileRows * 3 / 4}, // SW
		{TileX: d.TileCols * 1 / 4, TileY: d.TileRows * 1 / 4}, // NW
		{TileX: d.TileCols * 3 / 4, TileY: d.TileRows * 1 / 4}, // NE
	}
}

// Port looks up a teleport destination by index, reporting false for an
// out-of-range port.
func (d Dims) Port(index uint8) (Port, bool) {
	ports := d.Ports()
	if int(index) >= len(ports) {
		return Port{}, false
	}
	return ports[index], true
}

// Flip returns the tile diametrically opposite (tileX, tileY): translation by half the
// torus diagonal, its own inverse.
func (d Dims) Flip(tileX, tileY uint32) (uint32, uint32) {
	return WrapU32(int64(tileX)+int64(d.TileCols)/2, d.TileCols),
		WrapU32(int64(tileY)+int64(d.TileRows)/2, d.TileRows)
}

// ClampStep clamps a per-step delta so that a single move crosses at most
// one tile edge.
func ClampStep(dx int8, cell uint8, size uint8) int8 {
	if dx > int8(size)-int8(cell) {
		dx = int8(size) - int8(cell)
	}
	if dx < -int8(cell)-1 {
		dx = -int8(cell) - 1
	}
	return dx
}

// Move applies a clamped cell delta to (cellX, cellY, tileX, tileY),
// wrapping both the cell-within-tile and tile-within-grid coordinates on
// overflow/underflow.
func (d Dims) Move(tileX, tileY uint32, cellX, cellY uint8, dx, dy int8) (newTileX, newTileY uint32, newCellX, newCellY uint8) {
	dx = ClampStep(dx, cellX, CellCols)
	dy = ClampStep(dy, cellY, CellRows)

	cx := int64(cellX) + int64(dx)
	cy := int64(cellY) + int64(dy)

	tx := int64(tileX)
	ty := int64(tileY)

	if cx >= CellCols {
		tx++
		cx -= CellCols
	} else if cx < 0 {
		tx--
		cx += CellCols
	}
	if cy >= CellRows {
		ty++
		cy -= CellRows
	} else if cy < 0 {
		ty--
		cy += CellRows
	}

	return WrapU32(tx, d.TileCols), WrapU32(ty, d.TileRows), uint8(cx), uint8(cy)
}
