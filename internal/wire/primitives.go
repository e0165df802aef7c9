package wire

import (
	"bytes"
	"encoding/binary"
)

// Notation follows the protocol spec: [short] is an unsigned 16-bit length,
// [string] is a [short]-prefixed UTF-8 blob, [long string] is [int]-prefixed,
// [bytes] is [int]-prefixed with -1 meaning null.

func writeShort(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeInt(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func writeLong(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeByte(buf *bytes.Buffer, v byte) {
	buf.WriteByte(v)
}

func writeString(buf *bytes.Buffer, s string) {
	writeShort(buf, uint16(len(s)))
	buf.WriteString(s)
}

func writeLongString(buf *bytes.Buffer, s string) {
	writeInt(buf, int32(len(s)))
	buf.WriteString(s)
}

func writeStringMap(buf *bytes.Buffer, m map[string]string) {
	writeShort(buf, uint16(len(m)))
	for k, v := range m {
		writeString(buf, k)
		writeString(buf, v)
	}
}

// reader walks a response body with bounds checking. Every overrun is a
// ProtocolError rather than a panic: a malformed body must tear down the
// connection, not the process.
type reader struct {
	buf []byte
	off int
}

func newReader(body []byte) *reader {
	return &reader{buf: body}
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, protocolErrorf("body truncated: want %d bytes at offset %d of %d", n, r.off, len(r.buf))
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) readShort() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) readInt() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readShort()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readValue reads an [int]-length-prefixed cell. A negative length is a
// null cell and decodes to nil.
func (r *reader) readValue() ([]byte, error) {
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
