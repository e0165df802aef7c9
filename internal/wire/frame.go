// Package wire implements the subset of the CQL native protocol (v3/v4)
// the client needs: frame header framing, request encoding and response
// decoding. Frames are header (9 bytes, big-endian) plus a body of the
// declared length. The stream id in the header ties a response back to the
// request that carried it.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the full frame header size on the wire.
	HeaderLength = 9

	// ProtocolVersion4 is the default outbound protocol version.
	ProtocolVersion4 byte = 4
	// ProtocolVersion3 is the legacy outbound protocol version.
	ProtocolVersion3 byte = 3

	// MaxStreamID is the highest stream id the protocol can carry (i16).
	MaxStreamID int16 = 1<<15 - 1

	responseDirection byte = 0x80

	flagCompressed byte = 0x01
)

// Opcodes consumed by the client.
const (
	OpError   byte = 0x00
	OpStartup byte = 0x01
	OpReady   byte = 0x02
	OpQuery   byte = 0x07
	OpResult  byte = 0x08
)

// Header is the decoded 9-byte frame header.
type Header struct {
	Version byte
	Flags   byte
	Stream  int16
	Opcode  byte
	Length  int32
}

// ProtocolError reports a malformed or unexpected frame.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ParseHeader decodes a frame header from the first HeaderLength bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, protocolErrorf("short header: %d bytes", len(b))
	}
	return Header{
		Version: b[0],
		Flags:   b[1],
		Stream:  int16(binary.BigEndian.Uint16(b[2:4])),
		Opcode:  b[4],
		Length:  int32(binary.BigEndian.Uint32(b[5:9])),
	}, nil
}

// Encode writes the header into a fresh HeaderLength-byte slice.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderLength)
	b[0] = h.Version
	b[1] = h.Flags
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Stream))
	b[4] = h.Opcode
	binary.BigEndian.PutUint32(b[5:9], uint32(h.Length))
	return b
}
