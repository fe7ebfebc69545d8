package protocol

import "encoding/binary"

// Canonical deployment dimensions for a single tile. Fixed at compile
// time: changing them is a file-format change.
const (
	CellRows = 25
	CellCols = 80

	cellsSize = CellRows * CellCols

	// TileSize is the page-aligned, on-disk size of one tile record.
	TileSize = 4096

	offCreateTime   = 0
	offModifyTime   = offCreateTime + 8
	offCells        = 16 // matches the original C layout's 16-byte aligned cells offset
	offColors       = offCells + cellsSize
	offModifyCount  = offColors + cellsSize
	offAccessCount  = offModifyCount + 4
	offAccessTime   = offAccessCount + 4
	tileRecordBytes = offAccessTime + 8
)

func init() {
	if tileRecordBytes > TileSize {
		panic("protocol: tile record layout overflows page size")
	}
}

// Colour bit layout: bits 0..2 foreground, bit 3 bright, bits 4..6
// background, bit 7 reserved.
const (
	ColorBlack = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite

	colorBrightBit = 1 << 3
	colorBGShift   = 4
)

// EncodeColor packs a foreground/background colour pair into one byte.
func EncodeColor(fg, bg uint8, bright bool) uint8 {
	v := (fg & 0x7) | ((bg & 0x7) << colorBGShift)
	if bright {
		v |= colorBrightBit
	}
	return v
}

// DecodeColor unpacks a colour byte into its foreground/background pair.
func DecodeColor(v uint8) (fg, bg uint8, bright bool) {
	fg = v & 0x7
	bg = (v >> colorBGShift) & 0x7
	bright = v&colorBrightBit != 0
	return fg, bg, bright
}

// BlankGlyph and BlankColor are the fill values for a newly initialised
// tile: all spaces, white on black.
const BlankGlyph = ' '

var BlankColor = EncodeColor(ColorWhite, ColorBlack, false)

// Tile is a page-sized window into the mapped tile file. It does not own
// the backing memory; callers obtain one from the tile store.
type Tile []byte

func (t Tile) CreateTime() int64 { return int64(binary.NativeEndian.Uint64(t[offCreateTime:])) }
func (t Tile) SetCreateTime(v int64) {
	binary.NativeEndian.PutUint64(t[offCreateTime:], uint64(v))
}

func (t Tile) ModifyTime() int64 { return int64(binary.NativeEndian.Uint64(t[offModifyTime:])) }
func (t Tile) SetModifyTime(v int64) {
	binary.NativeEndian.PutUint64(t[offModifyTime:], uint64(v))
}

func (t Tile) AccessTime() int64 { return int64(binary.NativeEndian.Uint64(t[offAccessTime:])) }
func (t Tile) SetAccessTime(v int64) {
	binary.NativeEndian.PutUint64(t[offAccessTime:], uint64(v))
}

func (t Tile) ModifyCount() uint32 { return binary.NativeEndian.Uint32(t[offModifyCount:]) }
func (t Tile) SetModifyCount(v uint32) {
	binary.NativeEndian.PutUint32(t[offModifyCount:], v)
}

func (t Tile) AccessCount() uint32 { return binary.NativeEndian.Uint32(t[offAccessCount:]) }
func (t Tile) SetAccessCount(v uint32) {
	binary.NativeEndian.PutUint32(t[offAccessCount:], v)
}

// Cell returns the glyph/colour pair at (x, y) within the tile.
func (t Tile) Cell(x, y int) (glyph, color uint8) {
	idx := y*CellCols + x
	return t[offCells+idx], t[offColors+idx]
}

// SetCell writes the glyph/colour pair at (x, y) within the tile.
func (t Tile) SetCell(x, y int, glyph, color uint8) {
	idx := y*CellCols + x
	t[offCells+idx] = glyph
	t[offColors+idx] = color
}

// Cells returns the raw row-major glyph plane.
func (t Tile) Cells() []byte { return t[offCells : offCells+cellsSize] }

// Colors returns the raw row-major colour plane.
func (t Tile) Colors() []byte { return t[offColors : offColors+cellsSize] }

// Blank fills the tile with spaces on white-on-black and stamps createTime.
// Used exactly once, by the store, on first access of an uninitialised
// tile (createTime == 0 is the "never initialised" sentinel).
func (t Tile) Blank(now int64) {
	cells := t.Cells()
	colors := t.Colors()
	for i := range cells {
		cells[i] = BlankGlyph
		colors[i] = BlankColor
	}
	t.SetCreateTime(now)
}

// Uninitialised reports whether the tile has never been lazily filled.
func (t Tile) Uninitialised() bool { return t.CreateTime() == 0 }
