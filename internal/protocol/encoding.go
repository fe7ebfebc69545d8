// Package protocol implements the wire format shared by every torus
// client and the daemon: the fixed-size client/server frames, the bulk
// tile and map payloads that follow certain frames, and the on-disk
// layout of a single tile record.
package protocol

import (
	"encoding/binary"
	"io"
)

// Encoder writes native-endian binary fields to an io.Writer. Frames have
// no length prefix; both ends of the wire are the same build, so there is
// no portability concern in choosing the host's own byte order.
type Encoder struct {
	w   io.Writer
	buf [8]byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) WriteU8(v uint8) error {
	e.buf[0] = v
	_, err := e.w.Write(e.buf[:1])
	return err
}

func (e *Encoder) WriteI8(v int8) error {
	return e.WriteU8(uint8(v))
}

func (e *Encoder) WriteU32(v uint32) error {
	binary.NativeEndian.PutUint32(e.buf[:4], v)
	_, err := e.w.Write(e.buf[:4])
	return err
}

func (e *Encoder) WriteI64(v int64) error {
	binary.NativeEndian.PutUint64(e.buf[:8], uint64(v))
	_, err := e.w.Write(e.buf[:8])
	return err
}

func (e *Encoder) WriteBytes(v []byte) error {
	_, err := e.w.Write(v)
	return err
}

// Decoder reads native-endian binary fields from an io.Reader.
type Decoder struct {
	r   io.Reader
	buf [8]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) ReadU8() (uint8, error) {
	if _, err := io.ReadFull(d.r, d.buf[:1]); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}

func (d *Decoder) ReadI8() (int8, error) {
	v, err := d.ReadU8()
	return int8(v), err
}

func (d *Decoder) ReadU32() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(d.buf[:4]), nil
}

func (d *Decoder) ReadI64() (int64, error) {
	if _, err := io.ReadFull(d.r, d.buf[:8]); err != nil {
		return 0, err
	}
	return int64(binary.NativeEndian.Uint64(d.buf[:8])), nil
}

func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, err
	}
	return b, nil
}
