package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		header Header
	}{
		{"startup", Header{Version: ProtocolVersion4, Flags: 0, Stream: 0, Opcode: OpStartup, Length: 22}},
		{"high stream", Header{Version: ProtocolVersion4, Flags: 0, Stream: MaxStreamID, Opcode: OpQuery, Length: 128}},
		{"negative stream", Header{Version: responseDirection | ProtocolVersion4, Flags: 0, Stream: -1, Opcode: OpError, Length: 9}},
		{"compressed", Header{Version: ProtocolVersion3, Flags: flagCompressed, Stream: 300, Opcode: OpResult, Length: 1 << 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()
			if len(encoded) != HeaderLength {
				t.Fatalf("Encode returned %d bytes, want %d", len(encoded), HeaderLength)
			}

			decoded, err := ParseHeader(encoded)
			if err != nil {
				t.Fatalf("ParseHeader failed: %v", err)
			}
			if decoded != tt.header {
				t.Errorf("round trip mismatch: got %+v, want %+v", decoded, tt.header)
			}
		})
	}
}

func TestParseHeaderShortBuffer(t *testing.T) {
	_, err := ParseHeader(make([]byte, HeaderLength-1))
	if err == nil {
		t.Fatal("expected error for short header")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("expected ProtocolError, got %T", err)
	}
}

func TestEncodeStartup(t *testing.T) {
	msg := &Startup{CQLVersion: "4.0.0"}
	frame := Encode(msg, 0, ProtocolVersion4, nil)

	h, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Opcode != OpStartup {
		t.Errorf("opcode = 0x%02x, want 0x%02x", h.Opcode, OpStartup)
	}
	if h.Version != ProtocolVersion4 {
		t.Errorf("version = %d, want %d", h.Version, ProtocolVersion4)
	}
	if int(h.Length) != len(frame)-HeaderLength {
		t.Errorf("declared length %d, actual body %d", h.Length, len(frame)-HeaderLength)
	}

	// body: 1 pair, "CQL_VERSION" -> "4.0.0"
	want := []byte{0x00, 0x01, 0x00, 0x0b}
	want = append(want, []byte("CQL_VERSION")...)
	want = append(want, 0x00, 0x05)
	want = append(want, []byte("4.0.0")...)
	if !bytes.Equal(frame[HeaderLength:], want) {
		t.Errorf("startup body mismatch:\n got %x\nwant %x", frame[HeaderLength:], want)
	}
}

func TestEncodeStartupWithCompression(t *testing.T) {
	msg := &Startup{CQLVersion: "4.0.0", Compression: "snappy"}
	// STARTUP itself is never compressed; the option only announces it.
	frame := Encode(msg, 0, ProtocolVersion4, nil)

	if !bytes.Contains(frame, []byte("COMPRESSION")) {
		t.Error("expected COMPRESSION option in startup body")
	}
	if !bytes.Contains(frame, []byte("snappy")) {
		t.Error("expected snappy algorithm name in startup body")
	}
}

func TestEncodeQuery(t *testing.T) {
	serial := ConsistencySerial
	ts := int64(1234567890)

	tests := []struct {
		name      string
		query     *Query
		wantFlags byte
	}{
		{"plain", &Query{Statement: "SELECT * FROM t", Consistency: ConsistencyOne}, 0x00},
		{"serial", &Query{Statement: "SELECT", Consistency: ConsistencyQuorum, SerialConsistency: &serial}, 0x10},
		{"timestamp", &Query{Statement: "SELECT", Consistency: ConsistencyOne, DefaultTimestamp: &ts}, 0x20},
		{"both", &Query{Statement: "SELECT", Consistency: ConsistencyOne, SerialConsistency: &serial, DefaultTimestamp: &ts}, 0x30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := Encode(tt.query, 7, ProtocolVersion4, nil)
			h, err := ParseHeader(frame)
			if err != nil {
				t.Fatalf("ParseHeader failed: %v", err)
			}
			if h.Stream != 7 {
				t.Errorf("stream = %d, want 7", h.Stream)
			}
			if h.Opcode != OpQuery {
				t.Errorf("opcode = 0x%02x, want 0x%02x", h.Opcode, OpQuery)
			}

			body := frame[HeaderLength:]
			stmtLen := int(int32(uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])))
			if stmtLen != len(tt.query.Statement) {
				t.Fatalf("statement length %d, want %d", stmtLen, len(tt.query.Statement))
			}
			flags := body[4+stmtLen+2]
			if flags != tt.wantFlags {
				t.Errorf("query flags = 0x%02x, want 0x%02x", flags, tt.wantFlags)
			}
		})
	}
}

func TestDecodeReady(t *testing.T) {
	h := Header{Version: responseDirection | ProtocolVersion4, Opcode: OpReady}
	msg, err := DecodeResponse(h, nil, nil)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if _, ok := msg.(*Ready); !ok {
		t.Errorf("expected *Ready, got %T", msg)
	}
}

func TestDecodeServerError(t *testing.T) {
	var body bytes.Buffer
	writeInt(&body, 0x1100)
	writeString(&body, "write timeout")

	h := Header{Version: responseDirection | ProtocolVersion4, Opcode: OpError, Length: int32(body.Len())}
	msg, err := DecodeResponse(h, body.Bytes(), nil)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	serr, ok := msg.(*ServerError)
	if !ok {
		t.Fatalf("expected *ServerError, got %T", msg)
	}
	if serr.Code != 0x1100 {
		t.Errorf("code = 0x%04x, want 0x1100", serr.Code)
	}
	if serr.Message != "write timeout" {
		t.Errorf("message = %q, want %q", serr.Message, "write timeout")
	}
	if serr.Error() == "" {
		t.Error("ServerError must satisfy the error interface with a message")
	}
}

func TestDecodeVoidResult(t *testing.T) {
	var body bytes.Buffer
	writeInt(&body, ResultKindVoid)

	msg, err := DecodeResponse(Header{Opcode: OpResult}, body.Bytes(), nil)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	result := msg.(*Result)
	if result.Kind != ResultKindVoid {
		t.Errorf("kind = %d, want void", result.Kind)
	}
	if result.Rows != nil || result.SchemaChange != nil {
		t.Error("void result must carry no payload")
	}
}

func TestDecodeRowsResult(t *testing.T) {
	var body bytes.Buffer
	writeInt(&body, ResultKindRows)
	writeInt(&body, resultFlagGlobalTablesSpec)
	writeInt(&body, 3) // columns
	writeString(&body, "ks")
	writeString(&body, "settings")
	writeString(&body, "key_name")
	writeShort(&body, typeVarchar)
	writeString(&body, "value")
	writeShort(&body, typeText)
	writeString(&body, "count")
	writeShort(&body, typeInt)
	writeInt(&body, 2) // rows
	// row 1
	writeInt(&body, 12)
	body.WriteString("setting_name")
	writeInt(&body, 5)
	body.WriteString("false")
	writeInt(&body, 4)
	body.Write([]byte{0x00, 0x00, 0x00, 0x2a})
	// row 2: null cell in the middle
	writeInt(&body, 5)
	body.WriteString("other")
	writeInt(&body, -1)
	writeInt(&body, 4)
	body.Write([]byte{0xff, 0xff, 0xff, 0xff})

	msg, err := DecodeResponse(Header{Opcode: OpResult}, body.Bytes(), nil)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	result := msg.(*Result)

	wantColumns := []string{"key_name", "value", "count"}
	if diff := cmp.Diff(wantColumns, result.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	wantRows := [][]any{
		{"setting_name", "false", int32(42)},
		{"other", nil, int32(-1)},
	}
	if diff := cmp.Diff(wantRows, result.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRowsPerColumnTableSpec(t *testing.T) {
	var body bytes.Buffer
	writeInt(&body, ResultKindRows)
	writeInt(&body, 0) // no global tables spec
	writeInt(&body, 1)
	writeString(&body, "ks")
	writeString(&body, "tbl")
	writeString(&body, "flag")
	writeShort(&body, typeBoolean)
	writeInt(&body, 1)
	writeInt(&body, 1)
	body.WriteByte(0x01)

	msg, err := DecodeResponse(Header{Opcode: OpResult}, body.Bytes(), nil)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	result := msg.(*Result)
	if got := result.Rows[0][0]; got != true {
		t.Errorf("boolean cell = %v, want true", got)
	}
}

func TestDecodeSetKeyspaceResult(t *testing.T) {
	var body bytes.Buffer
	writeInt(&body, ResultKindSetKeyspace)
	writeString(&body, "test")

	msg, err := DecodeResponse(Header{Opcode: OpResult}, body.Bytes(), nil)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if got := msg.(*Result).Keyspace; got != "test" {
		t.Errorf("keyspace = %q, want %q", got, "test")
	}
}

func TestDecodeSchemaChangeResult(t *testing.T) {
	tests := []struct {
		name string
		want SchemaChange
	}{
		{"keyspace", SchemaChange{ChangeType: "CREATED", Target: "KEYSPACE", Keyspace: "test"}},
		{"table", SchemaChange{ChangeType: "CREATED", Target: "TABLE", Keyspace: "test", Object: "settings"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body bytes.Buffer
			writeInt(&body, ResultKindSchemaChange)
			writeString(&body, tt.want.ChangeType)
			writeString(&body, tt.want.Target)
			writeString(&body, tt.want.Keyspace)
			if tt.want.Object != "" {
				writeString(&body, tt.want.Object)
			}

			msg, err := DecodeResponse(Header{Opcode: OpResult}, body.Bytes(), nil)
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			got := msg.(*Result).SchemaChange
			if got == nil {
				t.Fatal("expected schema change event")
			}
			if diff := cmp.Diff(&tt.want, got); diff != "" {
				t.Errorf("schema change mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeUnknownResultKind(t *testing.T) {
	var body bytes.Buffer
	writeInt(&body, 0x0004) // prepared, unsupported

	_, err := DecodeResponse(Header{Opcode: OpResult}, body.Bytes(), nil)
	if err == nil {
		t.Fatal("expected error for unsupported result kind")
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := DecodeResponse(Header{Opcode: 0x42}, nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown opcode")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("expected ProtocolError, got %T", err)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var body bytes.Buffer
	writeInt(&body, ResultKindRows)
	writeInt(&body, 0)
	writeInt(&body, 5) // claims 5 columns, then nothing

	_, err := DecodeResponse(Header{Opcode: OpResult}, body.Bytes(), nil)
	if err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestSnappyRoundTrip(t *testing.T) {
	comp := SnappyCompressor{}
	if comp.Name() != "snappy" {
		t.Errorf("name = %q, want snappy", comp.Name())
	}

	original := bytes.Repeat([]byte("cassandra "), 100)
	compressed := comp.Compress(original)
	if len(compressed) >= len(original) {
		t.Errorf("repetitive payload did not shrink: %d -> %d", len(original), len(compressed))
	}

	restored, err := comp.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(original, restored) {
		t.Error("round trip mismatch")
	}
}

func TestCompressedFrameRoundTrip(t *testing.T) {
	comp := SnappyCompressor{}
	query := &Query{Statement: "SELECT * FROM settings.setting WHERE key_name = 'x'", Consistency: ConsistencyOne}

	frame := Encode(query, 3, ProtocolVersion4, comp)
	h, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Flags&flagCompressed == 0 {
		t.Fatal("expected compressed flag on frame")
	}

	body, err := comp.Decompress(frame[HeaderLength:])
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	plain := Encode(query, 3, ProtocolVersion4, nil)
	if !bytes.Equal(body, plain[HeaderLength:]) {
		t.Error("decompressed body differs from plain encoding")
	}
}

func TestDecodeCompressedWithoutCompressor(t *testing.T) {
	h := Header{Opcode: OpReady, Flags: flagCompressed}
	_, err := DecodeResponse(h, []byte{0x00}, nil)
	if err == nil {
		t.Fatal("expected error for compressed frame without negotiated compression")
	}
}
