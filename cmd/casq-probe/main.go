// casq-probe fires CQL queries at a cluster to verify connectivity and
// exercise the pool's retry and failover paths from the command line.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/time/rate"

	"github.com/thushan/casq"
	"github.com/thushan/casq/internal/config"
	"github.com/thushan/casq/internal/logger"
	"github.com/thushan/casq/internal/version"
)

func main() {
	vlog := log.New(log.Writer(), "", 0)
	version.PrintVersionInfo(false, vlog)

	app := cli.NewApp()
	app.Name = version.Name + "-probe"
	app.Usage = "fire queries at a Cassandra cluster through the casq pool"
	app.Version = version.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "hosts",
			Usage: "comma-separated contact points (host or host:port)",
		},
		cli.IntFlag{
			Name:  "port",
			Usage: "default CQL port for bare hosts",
			Value: 0,
		},
		cli.StringFlag{
			Name:  "query",
			Usage: "CQL statement to run",
			Value: "SELECT key FROM system.local",
		},
		cli.IntFlag{
			Name:  "count",
			Usage: "number of queries to send, 0 for unbounded",
			Value: 100,
		},
		cli.Float64Flag{
			Name:  "rate",
			Usage: "queries per second",
			Value: 10,
		},
		cli.StringFlag{
			Name:  "compression",
			Usage: "frame body compression (snappy)",
		},
		cli.IntFlag{
			Name:  "protocol",
			Usage: "CQL protocol version (3 or 4)",
			Value: 0,
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "casq-probe: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}
	applyFlags(cfg, c)

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		Theme:      cfg.Logging.Theme,
		LogDir:     cfg.Logging.LogDir,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		FileOutput: cfg.Logging.FileOutput,
		PrettyLogs: cfg.Logging.PrettyLogs,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	cluster, err := casq.NewCluster(casq.Options{
		ContactPoints:   cfg.Cluster.ContactPoints,
		Port:            cfg.Cluster.Port,
		ProtocolVersion: cfg.Cluster.ProtocolVersion,
		Compression:     cfg.Cluster.Compression,
		DialTimeout:     cfg.Cluster.DialTimeout,
		Logger:          logInstance,
		Theme:           cfg.Logging.Theme,
	})
	if err != nil {
		return err
	}
	defer cluster.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()
	if err := cluster.Init(initCtx); err != nil {
		return fmt.Errorf("cluster never became ready: %w", err)
	}
	styledLogger.InfoWithCount("cluster ready, contact points", len(cfg.Cluster.ContactPoints))

	query := casq.NewQuery(c.String("query"), casq.One)
	count := c.Int("count")
	limiter := rate.NewLimiter(rate.Limit(c.Float64("rate")), 1)

	var sent, failed int
	for count == 0 || sent < count {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		sent++

		future := cluster.Execute(query, cfg.Cluster.Timeouts...)
		result, err := future.Result(ctx)
		switch {
		case err != nil:
			failed++
			styledLogger.Warn("query failed", "error", err)
		case result != nil && result.Rows != nil:
			styledLogger.Debug("query ok", "rows", len(result.Rows))
		default:
			styledLogger.Debug("query ok")
		}
	}

	reportStats(styledLogger, cluster, sent, failed)
	return nil
}

func applyFlags(cfg *config.Config, c *cli.Context) {
	if hosts := c.String("hosts"); hosts != "" {
		cfg.Cluster.ContactPoints = strings.Split(hosts, ",")
	}
	if port := c.Int("port"); port > 0 {
		cfg.Cluster.Port = port
	}
	if compression := c.String("compression"); compression != "" {
		cfg.Cluster.Compression = compression
	}
	if protocol := c.Int("protocol"); protocol > 0 {
		cfg.Cluster.ProtocolVersion = protocol
	}
}

func reportStats(styledLogger *logger.StyledLogger, cluster *casq.Cluster, sent, failed int) {
	snapshot := cluster.Stats()

	styledLogger.Info("Probe finished",
		"sent", sent,
		"failed", failed,
		"pool_requests", snapshot.TotalRequests,
		"pool_failures", snapshot.TotalFailures,
	)
	for host, stats := range snapshot.Hosts {
		styledLogger.InfoWithHost("host stats for", host,
			"requests", stats.Requests,
			"failures", stats.Failures,
			"retries", stats.Retries,
		)
	}
}
