package main

import (
	"context"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rfstore/internal/config"
	"rfstore/internal/node"
	"rfstore/internal/recovery"
)

var (
	partDataDir       string
	partAdvertiseHost string
	partCoordinator   string
	partMetricsAddr   string
)

func init() {
	cmd := newParticipantCmd()
	cmd.Flags().StringVar(&partDataDir, "data-dir", "", "Directory holding the stored files and the transaction log")
	cmd.Flags().StringVar(&partAdvertiseHost, "advertise-host", "", "Host the coordinator calls back during recovery")
	cmd.Flags().StringVar(&partCoordinator, "coordinator", "", "Coordinator host:port used for recovery")
	cmd.Flags().StringVar(&partMetricsAddr, "metrics-addr", "", "Address for /metrics and /status")
	rootCmd.AddCommand(cmd)
}

func newParticipantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participant <id> [port]",
		Short: "Run a participant",
		Long: `The participant command stores replicated files in its data directory and
votes on transactions sent by the coordinator. Transactions left undecided
by a previous run are resolved with the coordinator at startup; if no
coordinator address is configured, the operator is asked for one.

Example:
  rfs participant p1 9091 --data-dir /srv/rfs/p1
  rfs participant p2 9092 --coordinator 10.0.0.1:9090`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := participantConfig(cmd, args)
			if err != nil {
				return err
			}
			return runParticipant(cmd.Context(), cfg)
		},
	}
	return cmd
}

func participantConfig(cmd *cobra.Command, args []string) (*config.ParticipantConfig, error) {
	cfg, err := config.LoadParticipantConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ID = args[0]
	if len(args) > 1 {
		port, err := portArg(args[1])
		if err != nil {
			return nil, err
		}
		host, _, _ := net.SplitHostPort(cfg.ListenAddr)
		cfg.ListenAddr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = partDataDir
	}
	if flags.Changed("advertise-host") {
		cfg.AdvertiseHost = partAdvertiseHost
	}
	if flags.Changed("coordinator") {
		cfg.CoordinatorAddr = partCoordinator
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = partMetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runParticipant(ctx context.Context, cfg *config.ParticipantConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With(zap.String("role", "participant"), zap.String("node", cfg.ID))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	reg := newRegistry()
	pn, err := node.NewParticipantNode(cfg, log, reg)
	if err != nil {
		return err
	}
	defer pn.Close()

	stopMetrics, err := serveMetrics(cfg.MetricsAddr, reg, pn.Status, log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	if err := pn.Listen(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- pn.Serve() }()

	// The coordinator pushes decisions back while recovery runs, so the
	// server must be up first.
	if pending := len(pn.Engine().Pending()); pending > 0 {
		var locate recovery.Locator
		if cfg.CoordinatorAddr == "" {
			log.Warn("pending transactions but no coordinator configured", zap.Int("pending", pending))
			locate = recovery.Prompt(os.Stdin, os.Stdout)
		}
		report, err := pn.Recover(ctx, locate)
		if err != nil {
			log.Error("recovery failed", zap.Error(err))
		} else {
			log.Info("recovery finished",
				zap.Int("pending", report.Pending),
				zap.Int("committed", len(report.Committed)),
				zap.Int("aborted", len(report.Aborted)),
				zap.Int64s("unresolved", report.Unresolved))
		}
	}

	go func() {
		waitForSignal(log)
		pn.Stop()
	}()
	return <-errc
}
