// Package testutil provides an in-process CQL server double. It speaks
// just enough of the native protocol for connection, pool and cluster
// tests: the STARTUP/READY handshake and canned QUERY responses. Frames
// are built by hand so the tests do not depend on the codec they verify.
package testutil

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	opError   byte = 0x00
	opStartup byte = 0x01
	opReady   byte = 0x02
	opQuery   byte = 0x07
	opResult  byte = 0x08

	responseVersion byte = 0x84
)

// Response tells the server what to do with one QUERY frame.
type Response struct {
	Frame     []byte // raw frame to write; nil means stay silent
	CloseConn bool   // drop the whole connection instead
}

// Server is a fake Cassandra node bound to a loopback port.
type Server struct {
	Host string
	Port int

	// RejectStartup answers the handshake with an ERROR frame.
	RejectStartup bool

	// Handle produces the response for a query; nil means VoidResult for
	// everything.
	Handle func(stream int16, statement string) Response

	ln       net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopped  bool
	queries  atomic.Int64
	startups atomic.Int64
	wg       sync.WaitGroup
}

// NewServer starts a server on an ephemeral loopback port and registers
// its shutdown with the test.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("testutil: listen failed: %v", err)
	}

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s := &Server{
		Host:  host,
		Port:  port,
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Stop)
	return s
}

// Queries returns how many QUERY frames the server has seen.
func (s *Server) Queries() int64 {
	return s.queries.Load()
}

// Startups returns how many STARTUP frames the server has seen; a second
// one means a client reconnected.
func (s *Server) Startups() int64 {
	return s.startups.Load()
}

// Stop closes the listener and every live connection.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

// DropConnections severs every live connection while leaving the
// listener up, so clients experience a mid-flight connection loss and
// can reconnect.
func (s *Server) DropConnections() {
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	header := make([]byte, 9)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		stream := int16(binary.BigEndian.Uint16(header[2:4]))
		opcode := header[4]
		length := int32(binary.BigEndian.Uint32(header[5:9]))

		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		switch opcode {
		case opStartup:
			s.startups.Add(1)
			if s.RejectStartup {
				_, _ = conn.Write(ErrorFrame(stream, 0x000A, "startup rejected"))
				return
			}
			if _, err := conn.Write(ReadyFrame(stream)); err != nil {
				return
			}
		case opQuery:
			s.queries.Add(1)
			statement := queryStatement(body)

			resp := Response{Frame: VoidResultFrame(stream)}
			if s.Handle != nil {
				resp = s.Handle(stream, statement)
			}
			if resp.CloseConn {
				return
			}
			if resp.Frame == nil {
				continue
			}
			if _, err := conn.Write(resp.Frame); err != nil {
				return
			}
		default:
			_, _ = conn.Write(ErrorFrame(stream, 0x000A, "unsupported opcode"))
		}
	}
}

func queryStatement(body []byte) string {
	if len(body) < 4 {
		return ""
	}
	n := int(int32(binary.BigEndian.Uint32(body[:4])))
	if n < 0 || 4+n > len(body) {
		return ""
	}
	return string(body[4 : 4+n])
}

// --- frame builders ---

func frame(opcode byte, stream int16, body []byte) []byte {
	out := make([]byte, 9+len(body))
	out[0] = responseVersion
	binary.BigEndian.PutUint16(out[2:4], uint16(stream))
	out[4] = opcode
	binary.BigEndian.PutUint32(out[5:9], uint32(len(body)))
	copy(out[9:], body)
	return out
}

func appendShort(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func appendInt(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

func appendString(b []byte, s string) []byte {
	b = appendShort(b, uint16(len(s)))
	return append(b, s...)
}

// ReadyFrame acknowledges a STARTUP.
func ReadyFrame(stream int16) []byte {
	return frame(opReady, stream, nil)
}

// ErrorFrame is a backend ERROR response.
func ErrorFrame(stream int16, code int32, message string) []byte {
	body := appendInt(nil, code)
	body = appendString(body, message)
	return frame(opError, stream, body)
}

// VoidResultFrame is a RESULT of kind Void.
func VoidResultFrame(stream int16) []byte {
	return frame(opResult, stream, appendInt(nil, 1))
}

// RowsResultFrame builds a RESULT of kind Rows with varchar cells.
func RowsResultFrame(stream int16, columns []string, rows [][]string) []byte {
	body := appendInt(nil, 2) // kind: rows
	body = appendInt(body, 1) // flags: global tables spec
	body = appendInt(body, int32(len(columns)))
	body = appendString(body, "ks")
	body = appendString(body, "tbl")
	for _, col := range columns {
		body = appendString(body, col)
		body = appendShort(body, 0x000D) // varchar
	}
	body = appendInt(body, int32(len(rows)))
	for _, row := range rows {
		for _, cell := range row {
			body = appendInt(body, int32(len(cell)))
			body = append(body, cell...)
		}
	}
	return frame(opResult, stream, body)
}

// SchemaChangeResultFrame builds a RESULT of kind SchemaChange.
func SchemaChangeResultFrame(stream int16, changeType, target, keyspace, object string) []byte {
	body := appendInt(nil, 5)
	body = appendString(body, changeType)
	body = appendString(body, target)
	body = appendString(body, keyspace)
	if target != "KEYSPACE" {
		body = appendString(body, object)
	}
	return frame(opResult, stream, body)
}
