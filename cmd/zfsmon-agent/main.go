package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/agent"
	"github.com/runningman84/zfs-monitor/pkg/config"
)

// Version can be set at build time using -ldflags
// Example: go build -ldflags="-X main.Version=1.0.0"
var Version = "dev"

func main() {
	// Initialize klog first
	klog.InitFlags(nil)

	// Parse command line flags
	configFile := flag.String("config", "", "Path to a config file (default: config.yaml in . or /etc/zfsmon)")
	mode := flag.String("mode", "", "Operation mode: test, direct, or chroot (overrides config)")
	server := flag.String("server", "", "URL of the zfsmon server (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: info or debug (overrides config)")
	logFormat := flag.String("log-format", "", "Log format: text or json (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("zfsmon-agent version %s\n", Version)
		return
	}

	cfg, err := config.LoadAgent(*configFile, *mode)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}
	if *server != "" {
		cfg.ServerURL = *server
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
	}

	klog.Infof("Starting zfsmon-agent version %s in %s mode with %s log level", Version, cfg.Mode, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := agent.NewAgent(cfg).Run(ctx); err != nil {
		klog.Fatalf("Agent failed: %v", err)
	}

	klog.Flush()
}
