package main

import (
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rfstore/internal/config"
	"rfstore/internal/node"
)

var (
	coordLogPath         string
	coordParticipants    string
	coordPrepareTimeout  time.Duration
	coordDecisionTimeout time.Duration
	coordReadTimeout     time.Duration
	coordRecoveryWait    time.Duration
	coordFanout          int
	coordMetricsAddr     string
)

func init() {
	cmd := newCoordinatorCmd()
	cmd.Flags().StringVar(&coordLogPath, "log-path", "", "Transaction log file")
	cmd.Flags().StringVar(&coordParticipants, "participants", "", `Inline participant list "name=host:port,..."`)
	cmd.Flags().DurationVar(&coordPrepareTimeout, "prepare-timeout", 0, "Deadline for each vote request")
	cmd.Flags().DurationVar(&coordDecisionTimeout, "decision-timeout", 0, "Deadline for each decision delivery")
	cmd.Flags().DurationVar(&coordReadTimeout, "read-timeout", 0, "Deadline for each forwarded read")
	cmd.Flags().DurationVar(&coordRecoveryWait, "recovery-wait", 0, "How long a status query waits for an undecided transaction")
	cmd.Flags().IntVar(&coordFanout, "fanout", 0, "Participants contacted concurrently (1 is sequential)")
	cmd.Flags().StringVar(&coordMetricsAddr, "metrics-addr", "", "Address for /metrics and /status")
	rootCmd.AddCommand(cmd)
}

func newCoordinatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator [port] [participants-file]",
		Short: "Run the coordinator",
		Long: `The coordinator command serves client requests and replicates writes and
deletes to every participant. The participants file holds one participant
per line: "<name> <host> <port>".

Example:
  rfs coordinator 9090 participants.txt
  rfs coordinator --config coordinator.toml
  rfs coordinator 9090 --participants p1=10.0.0.1:9091,p2=10.0.0.2:9091 --fanout 2`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := coordinatorConfig(cmd, args)
			if err != nil {
				return err
			}
			return runCoordinator(cfg)
		},
	}
	return cmd
}

// coordinatorConfig layers positional args and set flags over the config
// file.
func coordinatorConfig(cmd *cobra.Command, args []string) (*config.CoordinatorConfig, error) {
	cfg, err := config.LoadCoordinatorConfig(configPath)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		port, err := portArg(args[0])
		if err != nil {
			return nil, err
		}
		host, _, _ := net.SplitHostPort(cfg.ListenAddr)
		cfg.ListenAddr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if len(args) > 1 {
		cfg.ParticipantsFile = args[1]
	}

	flags := cmd.Flags()
	if flags.Changed("log-path") {
		cfg.LogPath = coordLogPath
	}
	if flags.Changed("participants") {
		cfg.Participants = coordParticipants
		cfg.ParticipantsFile = ""
	}
	if flags.Changed("prepare-timeout") {
		cfg.PrepareTimeout.Duration = coordPrepareTimeout
	}
	if flags.Changed("decision-timeout") {
		cfg.DecisionTimeout.Duration = coordDecisionTimeout
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout.Duration = coordReadTimeout
	}
	if flags.Changed("recovery-wait") {
		cfg.RecoveryWait.Duration = coordRecoveryWait
	}
	if flags.Changed("fanout") {
		cfg.FanoutConcurrency = coordFanout
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = coordMetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCoordinator(cfg *config.CoordinatorConfig) error {
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With(zap.String("role", "coordinator"))

	participants, err := cfg.LoadParticipants()
	if err != nil {
		return err
	}
	for _, p := range participants {
		log.Info("participant", zap.String("name", p.Name), zap.String("addr", p.Addr()))
	}

	reg := newRegistry()
	coord, err := node.NewCoordinatorNode(cfg, participants, log, reg)
	if err != nil {
		return err
	}
	defer coord.Close()

	stopMetrics, err := serveMetrics(cfg.MetricsAddr, reg, coord.Status, log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	if err := coord.Listen(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- coord.Serve() }()

	go func() {
		waitForSignal(log)
		coord.Stop()
	}()
	return <-errc
}
