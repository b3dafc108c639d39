package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/malbeclabs/connectivity-metrics/internal/eventbuffer"
	"github.com/malbeclabs/connectivity-metrics/internal/ipconnectivity"
	"github.com/malbeclabs/connectivity-metrics/internal/metrics"
	"github.com/malbeclabs/connectivity-metrics/internal/netmetrics"
	"github.com/malbeclabs/connectivity-metrics/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	_ "net/http/pprof"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "127.0.0.1:8080"
	defaultMetricsAddr = ":9090"

	// bufferSizeEnv is re-read on every buffer reset so the capacity can be changed
	// without a restart.
	bufferSizeEnv = "BUFFER_SIZE"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)

	// Start pprof server
	if cfg.EnablePprof {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	// Start prometheus metrics server
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("Failed to start prometheus metrics server listener", "error", err)
				os.Exit(1)
			}
			log.Info("Prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("Failed to start prometheus metrics server", "error", err)
				os.Exit(1)
			}
		}()
	}

	svc, err := ipconnectivity.New(&ipconnectivity.Config{
		Logger: log,
		CapacityFunc: func() int {
			size, err := getenvInt(bufferSizeEnv, cfg.BufferSize)
			if err != nil {
				log.Warn("ignoring buffer size override", "error", err)
				return cfg.BufferSize
			}
			return size
		},
		Aggregator: netmetrics.AggregatorConfig{
			SnapshotSpan:    cfg.SnapshotSpan,
			SnapshotHistory: cfg.SnapshotHistory,
		},
		MaxUnknownInterfaces: uint64(cfg.MaxUnknownInterfaces),
	})
	if err != nil {
		return fmt.Errorf("failed to create connectivity service: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen tcp: %w", err)
	}
	log.Info("listening for TCP", "address", listener.Addr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(log, server.Config{
		Service:         svc,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxBatchSize:    cfg.MaxBatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	errCh := srv.Start(ctx, cancel, listener)

	select {
	case <-ctx.Done():
		log.Info("context cancelled, server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

type Config struct {
	ShowVersion bool
	Verbose     bool
	EnablePprof bool
	MetricsAddr string

	ListenAddr      string
	ShutdownTimeout time.Duration
	MaxBatchSize    int

	BufferSize           int
	MaxUnknownInterfaces int
	SnapshotSpan         time.Duration
	SnapshotHistory      int
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
func getenvInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return i, nil
}

func loadConfig() (Config, error) {
	var cfg Config

	bufferSize, err := getenvInt(bufferSizeEnv, eventbuffer.DefaultCapacity)
	if err != nil {
		return Config{}, err
	}
	maxUnknown, err := getenvInt("MAX_UNKNOWN_INTERFACES", 0)
	if err != nil {
		return Config{}, err
	}
	snapshotHistory, err := getenvInt("SNAPSHOT_HISTORY", 0)
	if err != nil {
		return Config{}, err
	}
	maxBatchSize, err := getenvInt("MAX_BATCH_SIZE", 0)
	if err != nil {
		return Config{}, err
	}

	flag.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	flag.BoolVar(&cfg.Verbose, "verbose", getenvBool("VERBOSE", false), "verbose mode - show debug logs (env: VERBOSE)")
	flag.BoolVar(&cfg.EnablePprof, "enable-pprof", false, "enable pprof server")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics (env: METRICS_ADDR)")
	flag.StringVar(&cfg.ListenAddr, "listen-addr", getenv("LISTEN_ADDR", defaultListenAddr), "address to listen on for the event api (env: LISTEN_ADDR)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	flag.IntVar(&cfg.MaxBatchSize, "max-batch-size", maxBatchSize, "max events per request, 0 for the default (env: MAX_BATCH_SIZE)")

	flag.IntVar(&cfg.BufferSize, "buffer-size", bufferSize, fmt.Sprintf("event buffer capacity, clamped to %d (env: %s, re-read on every flush)", eventbuffer.MaxCapacity, bufferSizeEnv))
	flag.IntVar(&cfg.MaxUnknownInterfaces, "max-unknown-interfaces", maxUnknown, "max retained unrecognized interface names, 0 for the default (env: MAX_UNKNOWN_INTERFACES)")
	flag.DurationVar(&cfg.SnapshotSpan, "snapshot-span", 0, "interval between network metrics snapshots, 0 for the default")
	flag.IntVar(&cfg.SnapshotHistory, "snapshot-history", snapshotHistory, "number of retained network metrics snapshots, 0 for the default (env: SNAPSHOT_HISTORY)")

	flag.Parse()

	if cfg.ShowVersion {
		return cfg, nil
	}

	if cfg.ListenAddr == "" {
		return Config{}, fmt.Errorf("listen address is empty (set LISTEN_ADDR or --listen-addr)")
	}
	if cfg.MaxUnknownInterfaces < 0 {
		return Config{}, fmt.Errorf("max unknown interfaces must be non-negative")
	}

	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
