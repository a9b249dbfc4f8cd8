package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/api"
	"github.com/runningman84/zfs-monitor/pkg/config"
	"github.com/runningman84/zfs-monitor/pkg/metrics"
	"github.com/runningman84/zfs-monitor/pkg/store"
)

// Version can be set at build time using -ldflags
// Example: go build -ldflags="-X main.Version=1.0.0"
var Version = "dev"

func main() {
	// Initialize klog first
	klog.InitFlags(nil)

	configFile := flag.String("config", "", "Path to a config file (default: config.yaml in . or /etc/zfsmon)")
	logLevel := flag.String("log-level", "", "Log level: info or debug (overrides config)")
	logFormat := flag.String("log-format", "", "Log format: text or json (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("zfsmon version %s\n", Version)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.LogFormat == "json" {
		// Configure zap for JSON logging
		var zapLog *zap.Logger
		if cfg.IsDebug() {
			zapLog, err = zap.NewDevelopment()
		} else {
			zapLog, err = zap.NewProduction()
		}
		if err != nil {
			klog.Fatalf("Failed to initialize JSON logger: %v", err)
		}
		defer zapLog.Sync()

		// Set klog to use zap backend for JSON output
		klog.SetLogger(zapr.NewLogger(zapLog))
	}

	// Set klog verbosity based on log level
	if cfg.IsDebug() {
		flag.Set("v", "1")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	klog.Infof("Starting zfsmon version %s with %s store and %s log level", Version, cfg.DBDriver, cfg.LogLevel)

	if err := run(cfg); err != nil {
		klog.Fatalf("zfsmon failed: %v", err)
	}
	klog.Flush()
}

func run(cfg *config.Config) error {
	s, err := store.Open(store.Options{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DBDSN,
		StaleAfter:   cfg.StaleAfter,
		MaxOpenConns: cfg.MaxOpenConns,
		LogLevel:     cfg.LogLevel,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Migrate(ctx); err != nil {
		return err
	}
	klog.Infof("Hosts count as stale after %s without a report", s.StaleAfter())

	opts := api.Options{}
	if cfg.MetricsEnabled {
		collector := metrics.NewCollector(s)
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collector,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Metrics = collector
		opts.Gatherer = registry
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(s, opts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		klog.Infof("Listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	klog.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
