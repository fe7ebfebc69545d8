package protocol

import (
	"fmt"
	"io"
)

// Conn wraps a byte stream with the fixed-frame torus wire protocol. There
// is no length prefix: a read or write always moves exactly one frame's
// worth of bytes, and a short read is a protocol failure left for the
// caller to treat as a dead peer.
type Conn struct {
	rw io.ReadWriter
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// ClientFrameSize and ServerFrameSize are the fixed byte counts of each
// frame direction, for callers doing their own single-syscall reads (the
// daemon's event loop) instead of going through Conn.
func ClientFrameSize() int { return 1 + clientPayloadSize }
func ServerFrameSize() int { return 1 + serverPayloadSize }

// DecodeClientFrame parses a buffer of exactly ClientFrameSize() bytes, as
// produced by one `recv` in the event loop.
func DecodeClientFrame(buf []byte) (ClientFrame, bool) {
	if len(buf) != 1+clientPayloadSize {
		return ClientFrame{}, false
	}
	var f ClientFrame
	f.Tag = buf[0]
	copy(f.Payload[:], buf[1:])
	return f, true
}

// EncodeServerFrame renders f as the bytes to hand to a single `send`.
func EncodeServerFrame(f ServerFrame) []byte {
	buf := make([]byte, 1+serverPayloadSize)
	buf[0] = f.Tag
	copy(buf[1:], f.Payload[:])
	return buf
}

// ReadClientFrame reads exactly one fixed-size client frame.
func (c *Conn) ReadClientFrame() (ClientFrame, error) {
	buf := make([]byte, ClientFrameSize())
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return ClientFrame{}, err
	}
	f, _ := DecodeClientFrame(buf)
	return f, nil
}

// WriteClientFrame writes a client frame; used by tests driving a daemon
// through a socket pair.
func (c *Conn) WriteClientFrame(f ClientFrame) error {
	buf := make([]byte, 1+clientPayloadSize)
	buf[0] = f.Tag
	copy(buf[1:], f.Payload[:])
	_, err := c.rw.Write(buf)
	return err
}

// WriteServerFrame writes exactly one fixed-size server frame.
func (c *Conn) WriteServerFrame(f ServerFrame) error {
	_, err := c.rw.Write(EncodeServerFrame(f))
	return err
}

// ReadServerFrame reads a server frame; used by tests.
func (c *Conn) ReadServerFrame() (ServerFrame, error) {
	var f ServerFrame
	buf := make([]byte, 1+serverPayloadSize)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return f, err
	}
	f.Tag = buf[0]
	copy(f.Payload[:], buf[1:])
	return f, nil
}

// WriteTilePayload writes the raw 4096-byte tile record that follows a
// Tile header frame, as a single logical transfer.
func (c *Conn) WriteTilePayload(t Tile) error {
	if len(t) != TileSize {
		return fmt.Errorf("protocol: tile payload must be %d bytes, got %d", TileSize, len(t))
	}
	_, err := c.rw.Write(t)
	return err
}

// ReadTilePayload reads a raw tile record; used by tests.
func (c *Conn) ReadTilePayload() (Tile, error) {
	buf := make([]byte, TileSize)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, err
	}
	return Tile(buf), nil
}

// WriteMapPayload writes the bulk payload that follows a Map header frame.
func (c *Conn) WriteMapPayload(p MapPayload) error {
	enc := NewEncoder(c.rw)
	if err := enc.WriteI64(p.Now); err != nil {
		return err
	}
	if err := writeTileMeta(enc, p.Min); err != nil {
		return err
	}
	if err := writeTileMeta(enc, p.Max); err != nil {
		return err
	}
	for y := range p.Meta {
		for x := range p.Meta[y] {
			if err := writeTileMeta(enc, p.Meta[y][x]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadMapPayload reads a Map bulk payload; used by tests.
func (c *Conn) ReadMapPayload() (MapPayload, error) {
	var p MapPayload
	dec := NewDecoder(c.rw)
	var err error
	if p.Now, err = dec.ReadI64(); err != nil {
		return p, err
	}
	if p.Min, err = readTileMeta(dec); err != nil {
		return p, err
	}
	if p.Max, err = readTileMeta(dec); err != nil {
		return p, err
	}
	for y := range p.Meta {
		for x := range p.Meta[y] {
			if p.Meta[y][x], err = readTileMeta(dec); err != nil {
				return p, err
			}
		}
	}
	return p, nil
}

func writeTileMeta(enc *Encoder, m TileMeta) error {
	if err := enc.WriteI64(m.CreateTime); err != nil {
		return err
	}
	if err := enc.WriteI64(m.ModifyTime); err != nil {
		return err
	}
	if err := enc.WriteI64(m.AccessTime); err != nil {
		return err
	}
	if err := enc.WriteU32(m.ModifyCount); err != nil {
		return err
	}
	return enc.WriteU32(m.AccessCount)
}

func readTileMeta(dec *Decoder) (TileMeta, error) {
	var m TileMeta
	var err error
	if m.CreateTime, err = dec.ReadI64(); err != nil {
		return m, err
	}
	if m.ModifyTime, err = dec.ReadI64(); err != nil {
		return m, err
	}
	if m.AccessTime, err = dec.ReadI64(); err != nil {
		return m, err
	}
	if m.ModifyCount, err = dec.ReadU32(); err != nil {
		return m, err
	}
	if m.AccessCount, err = dec.ReadU32(); err != nil {
		return m, err
	}
	return m, nil
}

var _ = tileMetaBytes // encoded size of one TileMeta; not otherwise referenced
