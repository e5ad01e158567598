package node

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"rfstore/internal/api"
	"rfstore/internal/config"
	"rfstore/internal/coordinator"
	"rfstore/internal/membership"
	"rfstore/internal/metrics"
	"rfstore/internal/recovery"
	"rfstore/internal/storage"
)

// CoordinatorNode is a node serving the FileStore service.
type CoordinatorNode struct {
	*Node
	engine  *coordinator.Engine
	store   *storage.Store
	clients *ClientManager
	members *membership.Table
}

// NewCoordinatorNode loads the coordinator's transaction log and builds
// the engine and server, and starts health-checking the participants.
// dialOpts apply to the connections to participants.
func NewCoordinatorNode(cfg *config.CoordinatorConfig, participants []config.Participant, log *zap.Logger, reg prometheus.Registerer, dialOpts ...grpc.DialOption) (*CoordinatorNode, error) {
	txlog, err := storage.OpenBoltLog(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(txlog)
	if err != nil {
		txlog.Close()
		return nil, err
	}
	recovery.LogSummary(log.Named("coordinator"), recovery.Summarize(store))

	m := metrics.NewCoordinator(reg)
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.Addr()] = p.Name
		m.ParticipantUp.WithLabelValues(p.Name).Set(1)
	}
	members := membership.New(participants, membership.Options{
		ProbeInterval: cfg.ProbeInterval.Duration,
		DeadAfter:     cfg.DeadAfter.Duration,
		Logger:        log,
		OnChange: func(mb membership.Member) {
			up := 1.0
			if mb.State == membership.Dead {
				up = 0
			}
			m.ParticipantUp.WithLabelValues(names[mb.Addr]).Set(up)
		},
	})

	clients := NewClientManager(dialOpts...)
	engine, err := coordinator.New(store, clients, coordinator.Options{
		Participants:      participants,
		PrepareTimeout:    cfg.PrepareTimeout.Duration,
		DecisionTimeout:   cfg.DecisionTimeout.Duration,
		ReadTimeout:       cfg.ReadTimeout.Duration,
		RecoveryWait:      cfg.RecoveryWait.Duration,
		FanoutConcurrency: cfg.FanoutConcurrency,
		Metrics:           m,
		Logger:            log,
		Members:           members,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	n := NewNode("coordinator", cfg.ListenAddr, log, metrics.NewRPC(reg))
	api.RegisterFileStoreServer(n.Server(), NewCoordinatorServer(engine))

	members.Start(clients.Probe)

	return &CoordinatorNode{
		Node:    n,
		engine:  engine,
		store:   store,
		clients: clients,
		members: members,
	}, nil
}

// Engine returns the coordinator engine.
func (c *CoordinatorNode) Engine() *coordinator.Engine { return c.engine }

// CoordinatorStatus is the coordinator's /status body.
type CoordinatorStatus struct {
	Role         string              `json:"role"`
	LastID       int64               `json:"last_id"`
	Pending      int                 `json:"pending"`
	Participants []membership.Member `json:"participants"`
}

// Status reports the last issued id, undecided transactions and
// participant liveness.
func (c *CoordinatorNode) Status() any {
	return CoordinatorStatus{
		Role:         "coordinator",
		LastID:       c.engine.LastID(),
		Pending:      len(c.store.Pending()),
		Participants: c.members.Snapshot(),
	}
}

// Close stops serving and releases connections and the transaction log.
func (c *CoordinatorNode) Close() error {
	c.Stop()
	c.members.Stop()
	return multierr.Combine(c.clients.Close(), c.store.Close())
}
