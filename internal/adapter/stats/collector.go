// Package stats centralises request accounting for the pool: totals,
// per-host counts and retry volume. The pool reports every completed
// attempt here; callers snapshot it for monitoring.
package stats

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

type hostStats struct {
	requests atomic.Int64
	failures atomic.Int64
	retries  atomic.Int64
}

// HostSnapshot is a point-in-time view of one host's counters.
type HostSnapshot struct {
	Requests int64
	Failures int64
	Retries  int64
}

// Snapshot is a point-in-time view of the whole collector.
type Snapshot struct {
	TotalRequests int64
	TotalFailures int64
	Hosts         map[string]HostSnapshot
}

type Collector struct {
	hosts         *xsync.Map[string, *hostStats]
	totalRequests atomic.Int64
	totalFailures atomic.Int64
}

func NewCollector() *Collector {
	return &Collector{
		hosts: xsync.NewMap[string, *hostStats](),
	}
}

// RecordRequest accounts for one completed attempt. tries counts the
// attempts burned so far; anything past the first is retry volume. Host
// may be empty when a request dies before ever reaching a connection.
func (c *Collector) RecordRequest(host string, tries int, failed bool) {
	c.totalRequests.Add(1)
	if failed {
		c.totalFailures.Add(1)
	}
	if host == "" {
		return
	}

	stats, _ := c.hosts.LoadOrStore(host, &hostStats{})
	stats.requests.Add(1)
	if failed {
		stats.failures.Add(1)
	}
	if tries > 1 {
		stats.retries.Add(1)
	}
}

// GetSnapshot copies the current counters out.
func (c *Collector) GetSnapshot() Snapshot {
	snapshot := Snapshot{
		TotalRequests: c.totalRequests.Load(),
		TotalFailures: c.totalFailures.Load(),
		Hosts:         make(map[string]HostSnapshot),
	}
	c.hosts.Range(func(host string, stats *hostStats) bool {
		snapshot.Hosts[host] = HostSnapshot{
			Requests: stats.requests.Load(),
			Failures: stats.failures.Load(),
			Retries:  stats.retries.Load(),
		}
		return true
	})
	return snapshot
}
