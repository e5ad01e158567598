package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rfstore/internal/logger"
	"rfstore/internal/metrics"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "rfs",
	Short: "Replicated file store with two-phase commit",
	Long: `rfs runs the nodes of a replicated file store. A coordinator replicates
every write and delete to all participants with two-phase commit; reads are
served by one participant. The client subcommands talk to a coordinator.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override the log format (console, json)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger applies the global log flags over cfg.
func newLogger(cfg logger.Config) (*zap.Logger, error) {
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	return logger.New(cfg)
}

// newRegistry returns a registry with the Go runtime collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serveMetrics starts the metrics endpoint when addr is set. The returned
// func stops it.
func serveMetrics(addr string, reg *prometheus.Registry, status metrics.StatusFunc, log *zap.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	srv, err := metrics.Serve(addr, reg, status, log)
	if err != nil {
		return nil, err
	}
	return func() { srv.Close() }, nil
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal(log *zap.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))
}

// portArg parses a positional port argument.
func portArg(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}
