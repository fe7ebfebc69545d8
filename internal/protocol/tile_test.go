package protocol

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestTileBlankAndCell(t *testing.T) {
	buf := make(Tile, TileSize)
	assert.Assert(t, buf.Uninitialised())

	buf.Blank(1000)
	assert.Assert(t, !buf.Uninitialised())
	assert.Equal(t, buf.CreateTime(), int64(1000))

	g, col := buf.Cell(0, 0)
	assert.Equal(t, g, uint8(BlankGlyph))
	assert.Equal(t, col, BlankColor)

	buf.SetCell(5, 2, 'x', EncodeColor(ColorRed, ColorBlue, true))
	g, col = buf.Cell(5, 2)
	assert.Equal(t, g, uint8('x'))
	fg, bg, bright := DecodeColor(col)
	assert.Equal(t, fg, uint8(ColorRed))
	assert.Equal(t, bg, uint8(ColorBlue))
	assert.Assert(t, bright)

	// Neighbouring cells must be untouched.
	g, _ = buf.Cell(4, 2)
	assert.Equal(t, g, uint8(BlankGlyph))
}

func TestTileCounters(t *testing.T) {
	buf := make(Tile, TileSize)
	buf.SetModifyTime(42)
	buf.SetModifyCount(7)
	buf.SetAccessTime(43)
	buf.SetAccessCount(8)

	assert.Equal(t, buf.ModifyTime(), int64(42))
	assert.Equal(t, buf.ModifyCount(), uint32(7))
	assert.Equal(t, buf.AccessTime(), int64(43))
	assert.Equal(t, buf.AccessCount(), uint32(8))
}

func TestColorRoundTrip(t *testing.T) {
	for fg := uint8(0); fg < 8; fg++ {
		for bg := uint8(0); bg < 8; bg++ {
			for _, bright := range []bool{false, true} {
				v := EncodeColor(fg, bg, bright)
				gotFg, gotBg, gotBright := DecodeColor(v)
				assert.Equal(t, gotFg, fg)
				assert.Equal(t, gotBg, bg)
				assert.Equal(t, gotBright, bright)
			}
		}
	}
}

func TestTileLayoutFitsPage(t *testing.T) {
	assert.Assert(t, tileRecordBytes <= TileSize)
}
