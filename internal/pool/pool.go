// Package pool owns a fixed set of connections to distinct contact
// points and dispatches requests across them. Liveness is a bitmask of
// connection identifiers; requests queue while no connection is up and
// drain the moment one recovers.
package pool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/thushan/casq/internal/adapter/stats"
	"github.com/thushan/casq/internal/connection"
	"github.com/thushan/casq/internal/core/domain"
	"github.com/thushan/casq/internal/logger"
	"github.com/thushan/casq/internal/util"
	"github.com/thushan/casq/internal/wire"
)

// ConsecutiveErrorsLimit is how many back-to-back failures a connection
// absorbs before the pool forces it through a reconnect. Guards against a
// node that accepts frames but fails every one of them.
const ConsecutiveErrorsLimit = 500

// Options configure the pool's connections.
type Options struct {
	Port            int
	ProtocolVersion byte
	Compressor      wire.Compressor
	DialTimeout     time.Duration
}

type dispatchItem struct {
	req  *domain.Request
	conn *connection.Connection
	key  uint64
}

type Pool struct {
	log   *logger.StyledLogger
	stats *stats.Collector

	connections []*connection.Connection
	byID        map[uint64]*connection.Connection

	ready     chan struct{}
	readyOnce sync.Once

	mu         sync.Mutex
	statusMask uint64
	queue      []uint64
	inFlight   map[uint64]*domain.Request
	nextKey    uint64
	closed     bool
}

// New builds connections for every contact point with identifiers
// 1, 2, 4, ... so the liveness mask and the per-request used-connections
// bitmap share one representation.
func New(contactPoints []string, opts Options, collector *stats.Collector, log *logger.StyledLogger) *Pool {
	if collector == nil {
		collector = stats.NewCollector()
	}
	p := &Pool{
		log:      log,
		stats:    collector,
		byID:     make(map[uint64]*connection.Connection, len(contactPoints)),
		ready:    make(chan struct{}),
		inFlight: make(map[uint64]*domain.Request),
	}

	connOpts := connection.Options{
		ProtocolVersion: opts.ProtocolVersion,
		Compressor:      opts.Compressor,
		DialTimeout:     opts.DialTimeout,
	}

	identifier := uint64(1)
	for _, contactPoint := range contactPoints {
		host, port := util.HostPort(contactPoint, opts.Port)
		conn := connection.New(identifier, host, port, p.connectionStatusCallback, connOpts, log)
		p.connections = append(p.connections, conn)
		p.byID[identifier] = conn
		identifier <<= 1
	}

	log.InfoWithCount("connection pool initialised", len(contactPoints))
	return p
}

// Init connects every contact point in parallel. Nodes that refuse are
// left to their reconnect cycles; when at least one handshake went out,
// Init waits for the first connection to come up or for ctx to expire.
func (p *Pool) Init(ctx context.Context) error {
	var wg sync.WaitGroup
	var anyStarted sync.Once
	started := false

	for _, conn := range p.connections {
		wg.Add(1)
		go func(c *connection.Connection) {
			defer wg.Done()
			if err := c.Connect(ctx); err == nil {
				anyStarted.Do(func() { started = true })
			}
		}(conn)
	}
	wg.Wait()

	if !started {
		return nil
	}

	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusMask returns the current liveness bitmask.
func (p *Pool) StatusMask() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusMask
}

func (p *Pool) isAlive(identifier uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusMask&identifier != 0
}

// Execute admits a request: arm its attempt timer, queue it and drain the
// queue if anything is live. Re-entered by the retry path.
func (p *Pool) Execute(req *domain.Request) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		req.Future.Fail(&domain.ConnectionShutdownError{})
		return
	}

	key := p.nextKey
	p.nextKey++

	// The timer covers queue wait too, not just socket time.
	req.ArmTimeout(func() { p.onTimeout(key) })

	p.queue = append(p.queue, key)
	p.inFlight[key] = req
	items := p.processQueueLocked()
	queued := len(p.queue)
	p.mu.Unlock()

	p.runDispatches(items)

	if queued > 0 {
		p.log.Debug("request queued", "queued", queued)
	}
}

// processQueueLocked pairs queued requests with live connections. The
// dispatches themselves run after the lock is released: a send can fail
// synchronously and re-enter the pool.
func (p *Pool) processQueueLocked() []dispatchItem {
	var items []dispatchItem
	for len(p.queue) > 0 && p.statusMask != 0 {
		key := p.queue[0]
		p.queue = p.queue[1:]
		req, ok := p.inFlight[key]
		if !ok {
			continue
		}
		items = append(items, dispatchItem{req: req, conn: p.selectConnectionLocked(req.UsedConnections), key: key})
	}
	return items
}

func (p *Pool) runDispatches(items []dispatchItem) {
	for _, item := range items {
		item.req.Dispatch(item.conn, p.resultCallback(item.key))
	}
}

// selectConnectionLocked picks uniformly at random among live connections
// the request has not tried yet; once it has tried them all, any live
// connection will do.
func (p *Pool) selectConnectionLocked(used uint64) *connection.Connection {
	candidates := p.statusMask &^ used
	if candidates == 0 {
		candidates = p.statusMask
	}

	var indices []int
	for i := range p.connections {
		if candidates&(1<<uint(i)) != 0 {
			indices = append(indices, i)
		}
	}
	return p.connections[indices[rand.Intn(len(indices))]]
}

func (p *Pool) resultCallback(key uint64) domain.ResponseCallback {
	return func(msg wire.Message, err error) {
		p.onResult(key, msg, err)
	}
}

// onResult completes one attempt. A key no longer in flight means the
// race between a timeout and a late response was already won by the other
// side; the response is dropped without a trace.
func (p *Pool) onResult(key uint64, msg wire.Message, err error) {
	p.mu.Lock()
	req, ok := p.inFlight[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inFlight, key)
	p.removeQueuedLocked(key)
	req.RegisterResponse(err)
	p.mu.Unlock()

	p.recordStats(req)

	if req.Failed {
		p.noteConnectionError(req)
		if req.IsRetryPossible() {
			p.Execute(req)
			return
		}
		req.Future.Fail(domain.AnnotateError(err, req.String()))
		return
	}

	p.resetConnectionErrors(req)
	req.Future.Resolve(materialize(msg))
}

func (p *Pool) onTimeout(key uint64) {
	p.onResult(key, nil, &domain.RequestTimeoutError{})
}

func (p *Pool) removeQueuedLocked(key uint64) {
	for i, queued := range p.queue {
		if queued == key {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

// connectionStatusCallback is the health feedback path injected into
// every connection. An up transition drains the queue; a down transition
// only flips the bit — in-flight requests on a dead connection are failed
// by its own pending sweep.
func (p *Pool) connectionStatusCallback(identifier uint64, up bool) {
	p.mu.Lock()
	var items []dispatchItem
	if up {
		p.statusMask |= identifier
		items = p.processQueueLocked()
	} else {
		p.statusMask &^= identifier
	}
	p.mu.Unlock()

	if up {
		p.readyOnce.Do(func() { close(p.ready) })
	}
	p.runDispatches(items)
}

func (p *Pool) noteConnectionError(req *domain.Request) {
	if req.CurrentConnection == nil {
		return
	}
	identifier := req.CurrentConnection.Identifier()
	conn, ok := p.byID[identifier]
	if !ok {
		return
	}
	if conn.NoteError() > ConsecutiveErrorsLimit && p.isAlive(identifier) {
		p.log.WarnWithHost("closing connection due to consecutive errors limit exceeded", conn.Host())
		conn.Reconnect()
	}
}

func (p *Pool) resetConnectionErrors(req *domain.Request) {
	if req.CurrentConnection == nil {
		return
	}
	if conn, ok := p.byID[req.CurrentConnection.Identifier()]; ok {
		conn.ResetErrors()
	}
}

func (p *Pool) recordStats(req *domain.Request) {
	host := ""
	if req.CurrentConnection != nil {
		host = req.CurrentConnection.Host()
	}
	p.stats.RecordRequest(host, req.Tries, req.Failed)
}

// materialize shapes a decoded RESULT for the caller: schema events as
// events, rows as name-keyed records, everything else as no result.
func materialize(msg wire.Message) *domain.Result {
	result, ok := msg.(*wire.Result)
	if !ok || result == nil {
		return nil
	}

	switch {
	case result.SchemaChange != nil:
		return &domain.Result{SchemaChange: &domain.SchemaChangeEvent{
			ChangeType: result.SchemaChange.ChangeType,
			Target:     result.SchemaChange.Target,
			Keyspace:   result.SchemaChange.Keyspace,
			Object:     result.SchemaChange.Object,
		}}
	case result.Rows != nil:
		rows := make([]domain.Row, 0, len(result.Rows))
		for _, raw := range result.Rows {
			row := make(domain.Row, len(result.Columns))
			for i, column := range result.Columns {
				row[column] = raw[i]
			}
			rows = append(rows, row)
		}
		return &domain.Result{Columns: result.Columns, Rows: rows}
	case result.Keyspace != "":
		return &domain.Result{Keyspace: result.Keyspace}
	default:
		return nil
	}
}

// Close shuts the pool down for good: every connection is closed, every
// queued or in-flight request resolves with a shutdown error.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	inFlight := p.inFlight
	p.inFlight = make(map[uint64]*domain.Request)
	p.queue = nil
	p.mu.Unlock()

	for _, conn := range p.connections {
		conn.Close()
	}

	for _, req := range inFlight {
		req.RegisterResponse(&domain.ConnectionShutdownError{})
		req.Future.Fail(&domain.ConnectionShutdownError{})
	}

	p.log.Info("connection pool closed")
}
