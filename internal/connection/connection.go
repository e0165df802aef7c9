// Package connection owns a single TCP session to one Cassandra node and
// multiplexes every outstanding request over it using the protocol's
// per-frame stream id. A connection reconnects in place with exponential
// back-off; it never talks to the pool directly, health flows through the
// injected status callback.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thushan/casq/internal/core/domain"
	"github.com/thushan/casq/internal/logger"
	"github.com/thushan/casq/internal/util"
	"github.com/thushan/casq/internal/wire"
)

const (
	// DefaultCQLVersion is what STARTUP advertises.
	DefaultCQLVersion = "4.0.0"

	// initialStreamIDs seeds the free list; the id space grows on demand
	// up to wire.MaxStreamID before the connection signals backpressure.
	initialStreamIDs = 300

	initialReconnectDelay = 200 * time.Millisecond
	maxReconnectDelay     = 5 * time.Second

	defaultDialTimeout = 5 * time.Second
)

// State is the connection lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateStarting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StatusCallback reports every transition into and out of "accepting
// work" for the identified connection.
type StatusCallback func(identifier uint64, up bool)

// Options tune a connection; zero values fall back to defaults.
type Options struct {
	ProtocolVersion byte
	Compressor      wire.Compressor
	DialTimeout     time.Duration
}

// Connection is one multiplexed TCP session. The identifier is a
// power-of-two bitmask value unique within the owning pool.
type Connection struct {
	identifier     uint64
	host           string
	port           int
	addr           string
	statusCallback StatusCallback
	log            *logger.StyledLogger

	version     byte
	compressor  wire.Compressor
	dialTimeout time.Duration

	mu             sync.Mutex
	state          State
	conn           net.Conn
	freeIDs        []int16
	highestID      int32
	maxStreamID    int32
	pending        map[int16]domain.ResponseCallback
	reconnectDelay time.Duration
	epoch          uint64
	terminal       bool
	reconnecting   bool

	// wmu serialises frame writes so concurrent dispatches interleave
	// whole frames, never bytes.
	wmu sync.Mutex

	consecutiveErrors atomic.Int64
}

// New creates a connection in the closed state; Connect establishes it.
func New(identifier uint64, host string, port int, status StatusCallback, opts Options, log *logger.StyledLogger) *Connection {
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = wire.ProtocolVersion4
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Connection{
		identifier:     identifier,
		host:           host,
		port:           port,
		addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		statusCallback: status,
		log:            log,
		version:        opts.ProtocolVersion,
		compressor:     opts.Compressor,
		dialTimeout:    opts.DialTimeout,
		state:          StateClosed,
		maxStreamID:    int32(wire.MaxStreamID),
		reconnectDelay: initialReconnectDelay,
	}
}

func (c *Connection) Identifier() uint64 { return c.identifier }

// Host returns the host:port this connection targets.
func (c *Connection) Host() string { return c.addr }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NoteError bumps the consecutive-failure counter and returns it.
func (c *Connection) NoteError() int64 {
	return c.consecutiveErrors.Add(1)
}

// ResetErrors clears the consecutive-failure counter; any success does.
func (c *Connection) ResetErrors() {
	c.consecutiveErrors.Store(0)
}

func (c *Connection) ConsecutiveErrors() int64 {
	return c.consecutiveErrors.Load()
}

// Connect dials the node and starts the handshake. On dial failure the
// reconnect cycle is armed and the error returned; the caller does not
// need to retry itself.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return &domain.ConnectionShutdownError{Host: c.addr}
	}
	c.prepareLocked()
	epoch := c.epoch
	c.mu.Unlock()

	c.log.DebugWithHost("attempting to connect to", c.addr)

	conn, err := c.dial(ctx)
	if err != nil {
		c.log.WarnWithHost("connect failed to", c.addr, "error", err)
		c.Reconnect()
		return err
	}

	c.mu.Lock()
	if c.terminal || c.epoch != epoch {
		c.mu.Unlock()
		_ = conn.Close()
		return &domain.ConnectionShutdownError{Host: c.addr}
	}
	c.conn = conn
	c.state = StateStarting
	c.mu.Unlock()

	if err := c.sendStartup(); err != nil {
		return err
	}

	go c.readLoop(conn, epoch)
	return nil
}

// prepareLocked resets the per-session tables for a fresh socket.
func (c *Connection) prepareLocked() {
	c.epoch++
	c.state = StateConnecting
	c.conn = nil
	ids := make([]int16, initialStreamIDs)
	for i := range ids {
		ids[i] = int16(i)
	}
	c.freeIDs = ids
	c.highestID = initialStreamIDs - 1
	c.pending = make(map[int16]domain.ResponseCallback)
	c.consecutiveErrors.Store(0)
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout: c.dialTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     time.Second,
			Interval: time.Second,
			Count:    3,
		},
		Control: controlSocket,
	}
	return dialer.DialContext(ctx, "tcp", c.addr)
}

// allocateStreamIDLocked pops the free list, growing the id space when it
// runs dry. full reports that the connection just handed out its last id.
func (c *Connection) allocateStreamIDLocked() (int16, bool, error) {
	var id int16
	if len(c.freeIDs) > 0 {
		id = c.freeIDs[0]
		c.freeIDs = c.freeIDs[1:]
	} else {
		c.highestID++
		if c.highestID > c.maxStreamID {
			c.highestID--
			return 0, true, fmt.Errorf("stream ids exhausted on %s", c.addr)
		}
		id = int16(c.highestID)
	}
	full := len(c.freeIDs) == 0 && c.highestID >= c.maxStreamID
	return id, full, nil
}

// Send frames the query under a fresh stream id and registers callback
// for the response. A connection that is not ready fails the callback
// immediately with a shutdown error and allocates nothing.
func (c *Connection) Send(query wire.Outbound, callback domain.ResponseCallback) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		callback(nil, &domain.ConnectionShutdownError{Host: c.addr, BeforeWrite: true})
		return
	}

	id, full, err := c.allocateStreamIDLocked()
	if err != nil {
		c.mu.Unlock()
		callback(nil, &domain.ConnectionShutdownError{Host: c.addr, BeforeWrite: true})
		return
	}
	c.pending[id] = callback
	conn := c.conn
	c.mu.Unlock()

	if full {
		// Out of ids: no new work until a response returns one.
		c.statusCallback(c.identifier, false)
	}

	frame := wire.Encode(query, id, c.version, c.compressor)
	c.wmu.Lock()
	_, werr := conn.Write(frame)
	c.wmu.Unlock()
	if werr != nil {
		// The pending sweep in closeSession fails this request's callback.
		c.log.WarnWithHost("write failed on", c.addr, "error", werr)
		c.Reconnect()
	}
}

func (c *Connection) sendStartup() error {
	c.mu.Lock()
	if c.state != StateStarting {
		c.mu.Unlock()
		return &domain.ConnectionShutdownError{Host: c.addr}
	}
	id, _, err := c.allocateStreamIDLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.pending[id] = c.handleStartupResponse
	conn := c.conn
	c.mu.Unlock()

	startup := &wire.Startup{CQLVersion: DefaultCQLVersion}
	if c.compressor != nil {
		startup.Compression = c.compressor.Name()
	}

	// STARTUP is always sent uncompressed; compression begins after the
	// server accepts the option.
	frame := wire.Encode(startup, id, c.version, nil)
	c.wmu.Lock()
	_, werr := conn.Write(frame)
	c.wmu.Unlock()
	if werr != nil {
		c.log.WarnWithHost("startup write failed on", c.addr, "error", werr)
		c.Reconnect()
		return werr
	}
	return nil
}

func (c *Connection) handleStartupResponse(msg wire.Message, err error) {
	if err != nil {
		var shutdown *domain.ConnectionShutdownError
		if errors.As(err, &shutdown) {
			c.log.DebugWithHost("connection closed during startup handshake", c.addr)
			return
		}
		startupErr := &domain.StartupError{Host: c.addr, Reason: err.Error()}
		c.log.WarnWithHost("closing connection due to startup error", c.addr, "error", startupErr)
		c.Reconnect()
		return
	}

	switch msg.(type) {
	case *wire.Ready:
		c.mu.Lock()
		if c.state != StateStarting {
			c.mu.Unlock()
			return
		}
		c.state = StateReady
		c.reconnectDelay = initialReconnectDelay
		c.mu.Unlock()
		c.statusCallback(c.identifier, true)
		c.log.InfoConnUp("connection established to", c.addr)
	default:
		c.log.ErrorWithHost("unexpected response during startup from", c.addr, "message", fmt.Sprintf("%T", msg))
		c.Reconnect()
	}
}

// readLoop reads frames until the socket dies: 9-byte header, body of the
// declared length, decode, deliver to the stream's callback, repeat.
func (c *Connection) readLoop(conn net.Conn, epoch uint64) {
	header := make([]byte, wire.HeaderLength)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			c.readFailed(epoch, err)
			return
		}
		h, err := wire.ParseHeader(header)
		if err != nil {
			c.readFailed(epoch, err)
			return
		}
		if h.Length < 0 {
			c.readFailed(epoch, &wire.ProtocolError{Reason: fmt.Sprintf("negative body length %d", h.Length)})
			return
		}

		body := make([]byte, h.Length)
		if _, err := io.ReadFull(conn, body); err != nil {
			c.readFailed(epoch, err)
			return
		}

		msg, err := wire.DecodeResponse(h, body, c.compressor)
		if err != nil {
			c.readFailed(epoch, err)
			return
		}

		if !c.deliver(h.Stream, msg) {
			c.readFailed(epoch, fmt.Errorf("response for unknown stream id %d", h.Stream))
			return
		}
	}
}

// deliver routes a decoded response to its stream's callback and returns
// the id to the free list. Returns false when no callback holds the id.
func (c *Connection) deliver(stream int16, msg wire.Message) bool {
	c.mu.Lock()
	callback, ok := c.pending[stream]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, stream)

	// An id coming back to a connection that had run dry reopens it for
	// new work.
	wakeUp := len(c.freeIDs) == 0 && c.highestID >= c.maxStreamID
	c.freeIDs = append(c.freeIDs, stream)
	c.mu.Unlock()

	if wakeUp {
		c.statusCallback(c.identifier, true)
	}

	if serverErr, isErr := msg.(*wire.ServerError); isErr {
		callback(nil, serverErr)
	} else {
		callback(msg, nil)
	}
	return true
}

// readFailed tears the session down unless closeSession already did.
func (c *Connection) readFailed(epoch uint64, err error) {
	c.mu.Lock()
	stale := c.epoch != epoch || c.terminal
	c.mu.Unlock()
	if stale {
		return
	}
	c.log.WarnWithHost("read loop failed on", c.addr, "error", err)
	c.Reconnect()
}

// Close terminates the connection for good: pool shutdown. Pending
// callbacks all fire with a shutdown error.
func (c *Connection) Close() {
	c.closeSession(true)
}

func (c *Connection) closeSession(terminal bool) {
	// Clear the pool bit before any callback can re-enter execute, so a
	// retry can never land back on this connection.
	c.statusCallback(c.identifier, false)

	c.mu.Lock()
	if terminal {
		c.terminal = true
	}
	c.epoch++
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	callbacks := c.pending
	c.pending = make(map[int16]domain.ResponseCallback)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	// Sweep a snapshot: every callback may re-enter the pool and mutate
	// its queue, so the live map must not be iterated.
	for _, callback := range callbacks {
		callback(nil, &domain.ConnectionShutdownError{Host: c.addr})
	}
}

// Reconnect runs the close-then-connect cycle with exponential back-off.
// It returns immediately; at most one cycle runs at a time.
func (c *Connection) Reconnect() {
	c.mu.Lock()
	if c.terminal || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	delay := c.reconnectDelay
	c.mu.Unlock()

	go func() {
		c.log.InfoConnDown("connection closed to", c.addr)
		c.closeSession(false)

		c.log.Debug("reconnecting", "host", c.addr, "delay", delay)
		time.Sleep(delay)

		c.mu.Lock()
		c.reconnectDelay = util.NextReconnectDelay(c.reconnectDelay, maxReconnectDelay)
		terminal := c.terminal
		c.reconnecting = false
		c.mu.Unlock()
		if terminal {
			return
		}
		_ = c.Connect(context.Background())
	}()
}
