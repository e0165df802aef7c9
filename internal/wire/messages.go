package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Consistency is the CQL consistency level carried by QUERY frames.
type Consistency uint16

const (
	ConsistencyAny         Consistency = 0x0000
	ConsistencyOne         Consistency = 0x0001
	ConsistencyTwo         Consistency = 0x0002
	ConsistencyThree       Consistency = 0x0003
	ConsistencyQuorum      Consistency = 0x0004
	ConsistencyAll         Consistency = 0x0005
	ConsistencyLocalQuorum Consistency = 0x0006
	ConsistencyEachQuorum  Consistency = 0x0007
	ConsistencySerial      Consistency = 0x0008
	ConsistencyLocalSerial Consistency = 0x0009
	ConsistencyLocalOne    Consistency = 0x000A
)

func (c Consistency) String() string {
	switch c {
	case ConsistencyAny:
		return "ANY"
	case ConsistencyOne:
		return "ONE"
	case ConsistencyTwo:
		return "TWO"
	case ConsistencyThree:
		return "THREE"
	case ConsistencyQuorum:
		return "QUORUM"
	case ConsistencyAll:
		return "ALL"
	case ConsistencyLocalQuorum:
		return "LOCAL_QUORUM"
	case ConsistencyEachQuorum:
		return "EACH_QUORUM"
	case ConsistencySerial:
		return "SERIAL"
	case ConsistencyLocalSerial:
		return "LOCAL_SERIAL"
	case ConsistencyLocalOne:
		return "LOCAL_ONE"
	default:
		return fmt.Sprintf("CONSISTENCY(0x%04x)", uint16(c))
	}
}

// Message is any decoded inbound frame body.
type Message interface {
	Opcode() byte
}

// Outbound is a request message the client can frame and send.
type Outbound interface {
	Message
	encodeBody(buf *bytes.Buffer)
}

// Encode frames an outbound message under the given stream id. When a
// compressor is set the body is compressed and the frame flag set; READY
// and friends never come back through here, only requests do.
func Encode(m Outbound, stream int16, version byte, comp Compressor) []byte {
	var body bytes.Buffer
	m.encodeBody(&body)

	payload := body.Bytes()
	var flags byte
	if comp != nil && len(payload) > 0 {
		payload = comp.Compress(payload)
		flags |= flagCompressed
	}

	h := Header{
		Version: version,
		Flags:   flags,
		Stream:  stream,
		Opcode:  m.Opcode(),
		Length:  int32(len(payload)),
	}
	return append(h.Encode(), payload...)
}

// Startup opens the protocol handshake. The server answers READY or ERROR.
type Startup struct {
	CQLVersion  string
	Compression string
}

func (*Startup) Opcode() byte { return OpStartup }

func (m *Startup) encodeBody(buf *bytes.Buffer) {
	options := map[string]string{"CQL_VERSION": m.CQLVersion}
	if m.Compression != "" {
		options["COMPRESSION"] = m.Compression
	}
	writeStringMap(buf, options)
}

// Query carries one CQL statement.
type Query struct {
	Statement         string
	Consistency       Consistency
	SerialConsistency *Consistency
	DefaultTimestamp  *int64
}

func (*Query) Opcode() byte { return OpQuery }

const (
	queryFlagSerialConsistency byte = 0x10
	queryFlagDefaultTimestamp  byte = 0x20
)

func (m *Query) encodeBody(buf *bytes.Buffer) {
	writeLongString(buf, m.Statement)
	writeShort(buf, uint16(m.Consistency))

	var flags byte
	if m.SerialConsistency != nil {
		flags |= queryFlagSerialConsistency
	}
	if m.DefaultTimestamp != nil {
		flags |= queryFlagDefaultTimestamp
	}
	writeByte(buf, flags)

	if m.SerialConsistency != nil {
		writeShort(buf, uint16(*m.SerialConsistency))
	}
	if m.DefaultTimestamp != nil {
		writeLong(buf, *m.DefaultTimestamp)
	}
}

// Ready is the empty-bodied handshake acknowledgement.
type Ready struct{}

func (*Ready) Opcode() byte { return OpReady }

// ServerError is a decoded ERROR frame. It doubles as a Go error so the
// pool can flow it through the same failure path as transport errors.
type ServerError struct {
	Code    int32
	Message string
}

func (*ServerError) Opcode() byte { return OpError }

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error 0x%04x: %s", uint32(e.Code), e.Message)
}

// Result kinds the client understands.
const (
	ResultKindVoid         int32 = 0x0001
	ResultKindRows         int32 = 0x0002
	ResultKindSetKeyspace  int32 = 0x0003
	ResultKindSchemaChange int32 = 0x0005
)

// SchemaChange describes a DDL side effect reported by a RESULT frame.
type SchemaChange struct {
	ChangeType string
	Target     string
	Keyspace   string
	Object     string
}

// Result is a decoded RESULT frame. Exactly one of the kind-specific
// fields is populated; Void results carry nothing at all.
type Result struct {
	Kind         int32
	Columns      []string
	Rows         [][]any
	Keyspace     string
	SchemaChange *SchemaChange
}

func (*Result) Opcode() byte { return OpResult }

// Column type ids for cell decoding. String-ish types decode to string,
// a few fixed-width types to their native Go value, everything else is
// handed back raw.
const (
	typeASCII   uint16 = 0x0001
	typeBigint  uint16 = 0x0002
	typeBoolean uint16 = 0x0004
	typeInt     uint16 = 0x0009
	typeText    uint16 = 0x000A
	typeVarchar uint16 = 0x000D
)

const resultFlagGlobalTablesSpec int32 = 0x0001

func decodeResult(r *reader) (*Result, error) {
	kind, err := r.readInt()
	if err != nil {
		return nil, err
	}

	result := &Result{Kind: kind}
	switch kind {
	case ResultKindVoid:
		return result, nil
	case ResultKindRows:
		if err := decodeRows(r, result); err != nil {
			return nil, err
		}
		return result, nil
	case ResultKindSetKeyspace:
		result.Keyspace, err = r.readString()
		if err != nil {
			return nil, err
		}
		return result, nil
	case ResultKindSchemaChange:
		result.SchemaChange, err = decodeSchemaChange(r)
		if err != nil {
			return nil, err
		}
		return result, nil
	default:
		return nil, protocolErrorf("unsupported result kind %d", kind)
	}
}

func decodeRows(r *reader, result *Result) error {
	flags, err := r.readInt()
	if err != nil {
		return err
	}
	columnCount, err := r.readInt()
	if err != nil {
		return err
	}
	if columnCount < 0 {
		return protocolErrorf("negative column count %d", columnCount)
	}

	globalTablesSpec := flags&resultFlagGlobalTablesSpec != 0
	if globalTablesSpec {
		if _, err := r.readString(); err != nil { // keyspace
			return err
		}
		if _, err := r.readString(); err != nil { // table
			return err
		}
	}

	names := make([]string, 0, columnCount)
	types := make([]uint16, 0, columnCount)
	for i := int32(0); i < columnCount; i++ {
		if !globalTablesSpec {
			if _, err := r.readString(); err != nil {
				return err
			}
			if _, err := r.readString(); err != nil {
				return err
			}
		}
		name, err := r.readString()
		if err != nil {
			return err
		}
		typeID, err := r.readShort()
		if err != nil {
			return err
		}
		names = append(names, name)
		types = append(types, typeID)
	}

	rowCount, err := r.readInt()
	if err != nil {
		return err
	}
	if rowCount < 0 {
		return protocolErrorf("negative row count %d", rowCount)
	}

	rows := make([][]any, 0, rowCount)
	for i := int32(0); i < rowCount; i++ {
		row := make([]any, columnCount)
		for j := int32(0); j < columnCount; j++ {
			raw, err := r.readValue()
			if err != nil {
				return err
			}
			row[j], err = decodeCell(types[j], raw)
			if err != nil {
				return err
			}
		}
		rows = append(rows, row)
	}

	result.Columns = names
	result.Rows = rows
	return nil
}

func decodeCell(typeID uint16, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch typeID {
	case typeASCII, typeText, typeVarchar:
		return string(raw), nil
	case typeInt:
		if len(raw) != 4 {
			return nil, protocolErrorf("int cell of %d bytes", len(raw))
		}
		return int32(binary.BigEndian.Uint32(raw)), nil
	case typeBigint:
		if len(raw) != 8 {
			return nil, protocolErrorf("bigint cell of %d bytes", len(raw))
		}
		return int64(binary.BigEndian.Uint64(raw)), nil
	case typeBoolean:
		if len(raw) != 1 {
			return nil, protocolErrorf("boolean cell of %d bytes", len(raw))
		}
		return raw[0] != 0, nil
	default:
		return raw, nil
	}
}

func decodeSchemaChange(r *reader) (*SchemaChange, error) {
	change := &SchemaChange{}
	var err error
	if change.ChangeType, err = r.readString(); err != nil {
		return nil, err
	}
	if change.Target, err = r.readString(); err != nil {
		return nil, err
	}
	if change.Keyspace, err = r.readString(); err != nil {
		return nil, err
	}
	// TABLE/TYPE/FUNCTION targets carry the object name after the keyspace.
	if change.Target != "KEYSPACE" {
		if change.Object, err = r.readString(); err != nil {
			return nil, err
		}
	}
	return change, nil
}

// DecodeResponse turns a frame body into a message, undoing body
// compression when the header says so. Response decode only depends on the
// header opcode, not on the negotiated protocol version.
func DecodeResponse(h Header, body []byte, comp Compressor) (Message, error) {
	if h.Flags&flagCompressed != 0 {
		if comp == nil {
			return nil, protocolErrorf("compressed frame but no compression negotiated")
		}
		var err error
		body, err = comp.Decompress(body)
		if err != nil {
			return nil, protocolErrorf("decompress body: %v", err)
		}
	}

	r := newReader(body)
	switch h.Opcode {
	case OpReady:
		return &Ready{}, nil
	case OpError:
		code, err := r.readInt()
		if err != nil {
			return nil, err
		}
		msg, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &ServerError{Code: code, Message: msg}, nil
	case OpResult:
		return decodeResult(r)
	default:
		return nil, protocolErrorf("unexpected opcode 0x%02x", h.Opcode)
	}
}
