package domain

import (
	"fmt"
	"time"

	"github.com/thushan/casq/internal/wire"
)

// ResponseCallback delivers the outcome of one attempt: a decoded message,
// or an error (server ERROR frame, shutdown, timeout).
type ResponseCallback func(msg wire.Message, err error)

// Connection is the slice of a pool connection a request needs to
// dispatch itself. Connections never see the pool; health flows the other
// way, through the pool's status callback.
type Connection interface {
	Identifier() uint64
	Host() string
	Send(query wire.Outbound, callback ResponseCallback)
}

// Request is one client call working its way through the pool. The
// timeout schedule doubles as the retry budget: an attempt per entry.
// All mutable state is owned by the pool; Request itself does no locking.
type Request struct {
	Query      wire.Outbound
	Timeouts   []time.Duration
	Idempotent bool
	Future     *Future

	Tries             int
	UsedConnections   uint64
	CurrentConnection Connection
	Failed            bool

	timer   *time.Timer
	lastErr error
}

func NewRequest(query wire.Outbound, future *Future, timeouts []time.Duration) *Request {
	return &Request{
		Query:      query,
		Timeouts:   timeouts,
		Idempotent: true,
		Future:     future,
	}
}

// IsRetryPossible reports whether another attempt is allowed. The budget
// is the schedule length; non-idempotent requests additionally require
// proof the failed attempt never reached a socket.
func (r *Request) IsRetryPossible() bool {
	if r.Tries >= len(r.Timeouts) {
		return false
	}
	if r.Idempotent {
		return true
	}
	return RetryableBeforeWrite(r.lastErr)
}

// ArmTimeout schedules fire after the current attempt's deadline. At most
// one timer is ever live: arming stops any leftover first.
func (r *Request) ArmTimeout(fire func()) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.Timeouts[r.Tries], fire)
}

// RegisterResponse accounts for the outcome of the in-flight attempt:
// cancels the timer, burns one try and classifies the response.
func (r *Request) RegisterResponse(err error) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.Tries++
	r.Failed = err != nil
	r.lastErr = err
}

// Dispatch sends the query on conn and remembers it was tried there, so a
// retry can prefer a fresh connection.
func (r *Request) Dispatch(conn Connection, callback ResponseCallback) {
	r.CurrentConnection = conn
	r.UsedConnections |= conn.Identifier()
	conn.Send(r.Query, callback)
}

func (r *Request) String() string {
	return fmt.Sprintf("Request, %d of %d retries", r.Tries, len(r.Timeouts))
}
