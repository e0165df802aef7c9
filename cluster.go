// Package casq is an asynchronous client for Cassandra's native binary
// protocol. A Cluster fronts a fixed pool of connections to distinct
// contact points; Execute returns a Future that resolves once the query
// completes, exhausts its retry budget or the pool shuts down.
package casq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thushan/casq/internal/adapter/stats"
	"github.com/thushan/casq/internal/core/domain"
	"github.com/thushan/casq/internal/logger"
	"github.com/thushan/casq/internal/pool"
	"github.com/thushan/casq/internal/wire"
	"github.com/thushan/casq/theme"
)

// Re-exported core types; the implementation lives in internal packages.
type (
	Result            = domain.Result
	Row               = domain.Row
	SchemaChangeEvent = domain.SchemaChangeEvent
	Future            = domain.Future

	ConnectionShutdownError = domain.ConnectionShutdownError
	RequestTimeoutError     = domain.RequestTimeoutError
	StartupError            = domain.StartupError
	ValidationError         = domain.ValidationError
	ProtocolError           = wire.ProtocolError
	ServerError             = wire.ServerError

	// Message is any outbound request the cluster can frame and send.
	Message = wire.Outbound
	// Query carries one CQL statement.
	Query = wire.Query

	Consistency = wire.Consistency

	StatsSnapshot = stats.Snapshot
)

// Consistency levels.
const (
	Any         = wire.ConsistencyAny
	One         = wire.ConsistencyOne
	Two         = wire.ConsistencyTwo
	Three       = wire.ConsistencyThree
	Quorum      = wire.ConsistencyQuorum
	All         = wire.ConsistencyAll
	LocalQuorum = wire.ConsistencyLocalQuorum
	EachQuorum  = wire.ConsistencyEachQuorum
	Serial      = wire.ConsistencySerial
	LocalSerial = wire.ConsistencyLocalSerial
	LocalOne    = wire.ConsistencyLocalOne
)

const (
	DefaultPort = 9042

	// CompressionSnappy enables snappy frame body compression.
	CompressionSnappy = "snappy"
)

// DefaultTimeout is the single-attempt schedule Execute falls back to.
var DefaultTimeout = 500 * time.Millisecond

// Options configure a Cluster.
type Options struct {
	// ContactPoints are "host" or "host:port" entries, one connection
	// each. A bare host uses Port.
	ContactPoints []string

	// Port is the default CQL port; 9042 when zero.
	Port int

	// ProtocolVersion is 4 by default; 3 selects legacy framing.
	ProtocolVersion int

	// Compression is empty or CompressionSnappy.
	Compression string

	DialTimeout time.Duration

	// Logger receives structured client logs; slog.Default() when nil.
	Logger *slog.Logger

	// Theme names the log colour theme.
	Theme string
}

// ExecuteOptions control one Execute call.
type ExecuteOptions struct {
	// Timeouts is the per-attempt deadline schedule; its length is the
	// retry budget. Defaults to a single DefaultTimeout attempt.
	Timeouts []time.Duration

	// NonIdempotent forbids replaying the statement after a timeout or
	// mid-flight connection loss; only attempts that provably never
	// reached a socket are retried.
	NonIdempotent bool
}

// Cluster is the process-scoped client facade.
type Cluster struct {
	pool  *pool.Pool
	stats *stats.Collector
	log   *logger.StyledLogger
}

// NewQuery builds a Query message for a statement.
func NewQuery(statement string, consistency Consistency) *Query {
	return &wire.Query{Statement: statement, Consistency: consistency}
}

// NewCluster validates the options and builds the connection pool;
// Init establishes the connections.
func NewCluster(opts Options) (*Cluster, error) {
	if len(opts.ContactPoints) == 0 {
		return nil, domain.NewValidationError("contact_points", opts.ContactPoints, "at least one contact point is required")
	}
	for i, contactPoint := range opts.ContactPoints {
		if contactPoint == "" {
			return nil, domain.NewValidationError("contact_points", i, "contact point must not be empty")
		}
	}
	if len(opts.ContactPoints) > 64 {
		// Identifiers are power-of-two bits of a uint64 mask.
		return nil, domain.NewValidationError("contact_points", len(opts.ContactPoints), "at most 64 contact points are supported")
	}

	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	var version byte
	switch opts.ProtocolVersion {
	case 0, 4:
		version = wire.ProtocolVersion4
	case 3:
		version = wire.ProtocolVersion3
	default:
		return nil, domain.NewValidationError("protocol_version", opts.ProtocolVersion, "supported versions are 3 and 4")
	}

	var compressor wire.Compressor
	switch opts.Compression {
	case "":
	case CompressionSnappy:
		compressor = wire.SnappyCompressor{}
	default:
		return nil, domain.NewValidationError("compression", opts.Compression, fmt.Sprintf("supported algorithms: %q", CompressionSnappy))
	}

	slogger := opts.Logger
	if slogger == nil {
		slogger = slog.Default()
	}
	styled := logger.NewStyledLogger(slogger, theme.GetTheme(opts.Theme))

	collector := stats.NewCollector()
	p := pool.New(opts.ContactPoints, pool.Options{
		Port:            port,
		ProtocolVersion: version,
		Compressor:      compressor,
		DialTimeout:     opts.DialTimeout,
	}, collector, styled)

	return &Cluster{pool: p, stats: collector, log: styled}, nil
}

// Init connects the pool; it returns once a connection is accepting work
// or ctx expires. When every contact point refuses the dial it returns nil
// at once and the connections keep retrying in the background.
func (c *Cluster) Init(ctx context.Context) error {
	return c.pool.Init(ctx)
}

// Close shuts the pool down; every outstanding Future fails with a
// shutdown error.
func (c *Cluster) Close() {
	c.pool.Close()
}

// Execute submits a message with the given per-attempt timeout schedule.
func (c *Cluster) Execute(msg Message, timeouts ...time.Duration) *Future {
	return c.ExecuteOpts(msg, ExecuteOptions{Timeouts: timeouts})
}

// ExecuteOpts submits a message with full per-request control. Invalid
// arguments fail the returned Future immediately.
func (c *Cluster) ExecuteOpts(msg Message, opts ExecuteOptions) *Future {
	future := domain.NewFuture()

	if msg == nil {
		future.Fail(domain.NewValidationError("message", nil, "message must not be nil"))
		return future
	}

	timeouts := opts.Timeouts
	if len(timeouts) == 0 {
		timeouts = []time.Duration{DefaultTimeout}
	}
	for _, timeout := range timeouts {
		if timeout <= 0 {
			future.Fail(domain.NewValidationError("timeouts", timeout, "timeouts must be positive"))
			return future
		}
	}

	req := domain.NewRequest(msg, future, timeouts)
	req.Idempotent = !opts.NonIdempotent
	c.pool.Execute(req)
	return future
}

// Stats snapshots the request counters the pool has accumulated.
func (c *Cluster) Stats() StatsSnapshot {
	return c.stats.GetSnapshot()
}
