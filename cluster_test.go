package casq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/thushan/casq/internal/testutil"
)

func contactPoint(srv *testutil.Server) string {
	return net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port))
}

func newTestCluster(t *testing.T, opts Options) *Cluster {
	t.Helper()
	cluster, err := NewCluster(opts)
	if err != nil {
		t.Fatalf("NewCluster failed: %v", err)
	}
	t.Cleanup(cluster.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cluster.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return cluster
}

func TestNewClusterValidation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no contact points", Options{}},
		{"empty contact point", Options{ContactPoints: []string{"10.0.0.1", ""}}},
		{"bad protocol version", Options{ContactPoints: []string{"10.0.0.1"}, ProtocolVersion: 2}},
		{"bad compression", Options{ContactPoints: []string{"10.0.0.1"}, Compression: "lz77"}},
		{"too many contact points", Options{ContactPoints: make([]string, 65)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "too many contact points" {
				for i := range tt.opts.ContactPoints {
					tt.opts.ContactPoints[i] = fmt.Sprintf("10.0.0.%d", i+1)
				}
			}
			cluster, err := NewCluster(tt.opts)
			if err == nil {
				cluster.Close()
				t.Fatal("expected a validation error")
			}
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestExecuteValidation(t *testing.T) {
	srv := testutil.NewServer(t)
	cluster := newTestCluster(t, Options{ContactPoints: []string{contactPoint(srv)}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := cluster.Execute(nil).Result(ctx)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Errorf("nil message: expected ValidationError, got %v", err)
	}

	_, err = cluster.Execute(NewQuery("SELECT 1", One), -time.Second).Result(ctx)
	if !errors.As(err, &validation) {
		t.Errorf("negative timeout: expected ValidationError, got %v", err)
	}
}

func TestHundredSequentialQueries(t *testing.T) {
	first := testutil.NewServer(t)
	second := testutil.NewServer(t)
	cluster := newTestCluster(t, Options{ContactPoints: []string{contactPoint(first), contactPoint(second)}})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 0; i < 100; i++ {
		future := cluster.Execute(NewQuery("SELECT * FROM settings.setting", One), 2*time.Second)
		if _, err := future.Result(ctx); err != nil {
			t.Fatalf("query %d failed: %v", i, err)
		}
	}

	if total := first.Queries() + second.Queries(); total != 100 {
		t.Errorf("servers saw %d queries, want 100", total)
	}

	snapshot := cluster.Stats()
	if snapshot.TotalRequests != 100 || snapshot.TotalFailures != 0 {
		t.Errorf("stats = %d/%d, want 100 requests, 0 failures", snapshot.TotalRequests, snapshot.TotalFailures)
	}
}

func TestOneContactPointRefusesConnections(t *testing.T) {
	live := testutil.NewServer(t)
	dead := testutil.NewServer(t)
	dead.Stop() // port allocated, nobody listening

	cluster := newTestCluster(t, Options{ContactPoints: []string{contactPoint(dead), contactPoint(live)}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cluster.Execute(NewQuery("SELECT 1", One), 2*time.Second).Result(ctx); err != nil {
		t.Fatalf("query via the live node failed: %v", err)
	}

	// Exactly the live node's bit may be set.
	if mask := cluster.pool.StatusMask(); mask != 0b10 {
		t.Errorf("status mask = %b, want 10", mask)
	}
}

func TestRowsResult(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Handle = func(stream int16, statement string) testutil.Response {
		return testutil.Response{Frame: testutil.RowsResultFrame(stream,
			[]string{"key_name", "value"},
			[][]string{{"setting_name", "false"}})}
	}
	cluster := newTestCluster(t, Options{ContactPoints: []string{contactPoint(srv)}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := cluster.Execute(NewQuery("SELECT * FROM test.settings", One), 2*time.Second).Result(ctx)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(result.Rows))
	}
	if result.Rows[0]["key_name"] != "setting_name" || result.Rows[0]["value"] != "false" {
		t.Errorf("row = %+v", result.Rows[0])
	}
}

func TestSchemaChangeResult(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Handle = func(stream int16, statement string) testutil.Response {
		return testutil.Response{Frame: testutil.SchemaChangeResultFrame(stream, "CREATED", "TABLE", "test", "settings")}
	}
	cluster := newTestCluster(t, Options{ContactPoints: []string{contactPoint(srv)}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := cluster.Execute(NewQuery("CREATE TABLE test.settings (k text PRIMARY KEY)", One), 2*time.Second).Result(ctx)
	if err != nil {
		t.Fatalf("DDL failed: %v", err)
	}
	if result.SchemaChange == nil {
		t.Fatal("expected a schema change event")
	}
	if result.SchemaChange.ChangeType != "CREATED" || result.SchemaChange.Keyspace != "test" || result.SchemaChange.Object != "settings" {
		t.Errorf("schema change = %+v", result.SchemaChange)
	}
}

func TestTimeoutSurfacesAfterBudget(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Handle = func(stream int16, statement string) testutil.Response {
		return testutil.Response{} // never reply
	}
	cluster := newTestCluster(t, Options{ContactPoints: []string{contactPoint(srv)}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cluster.Execute(NewQuery("SELECT 1", One), 100*time.Millisecond, 200*time.Millisecond).Result(ctx)

	var timeout *RequestTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected RequestTimeoutError, got %v", err)
	}
}

func TestCloseFailsOutstandingFutures(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Handle = func(stream int16, statement string) testutil.Response {
		return testutil.Response{}
	}
	cluster := newTestCluster(t, Options{ContactPoints: []string{contactPoint(srv)}})

	future := cluster.Execute(NewQuery("SELECT 1", One), 10*time.Second)
	cluster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := future.Result(ctx)
	var shutdown *ConnectionShutdownError
	if !errors.As(err, &shutdown) {
		t.Errorf("expected ConnectionShutdownError after close, got %v", err)
	}
}

func TestSnappyCompressedSession(t *testing.T) {
	srv := testutil.NewServer(t)
	cluster := newTestCluster(t, Options{
		ContactPoints: []string{contactPoint(srv)},
		Compression:   CompressionSnappy,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cluster.Execute(NewQuery("SELECT 1", One), 2*time.Second).Result(ctx); err != nil {
		t.Fatalf("compressed session query failed: %v", err)
	}
}

func TestLegacyProtocolVersion(t *testing.T) {
	srv := testutil.NewServer(t)
	cluster := newTestCluster(t, Options{
		ContactPoints:   []string{contactPoint(srv)},
		ProtocolVersion: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cluster.Execute(NewQuery("SELECT 1", One), 2*time.Second).Result(ctx); err != nil {
		t.Fatalf("v3 session query failed: %v", err)
	}
}
