package node

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rfstore/internal/api"
	"rfstore/internal/config"
	"rfstore/internal/metrics"
	"rfstore/internal/participant"
	"rfstore/internal/recovery"
	"rfstore/internal/storage"
)

// ParticipantNode is a node serving the Participant service.
type ParticipantNode struct {
	*Node
	engine  *participant.Engine
	clients *ClientManager
	cfg     *config.ParticipantConfig
	log     *zap.Logger
}

// NewParticipantNode loads the participant's transaction log and builds
// the engine and server. cfg must have been validated.
func NewParticipantNode(cfg *config.ParticipantConfig, log *zap.Logger, reg prometheus.Registerer) (*ParticipantNode, error) {
	txlog, err := storage.OpenBoltLog(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(txlog)
	if err != nil {
		txlog.Close()
		return nil, err
	}

	engine, err := participant.New(store, participant.Options{
		ID:      cfg.ID,
		DataDir: cfg.DataDir,
		Metrics: metrics.NewParticipant(reg),
		Logger:  log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	n := NewNode(cfg.ID, cfg.ListenAddr, log, metrics.NewRPC(reg))
	api.RegisterParticipantServer(n.Server(), NewParticipantServer(engine))

	return &ParticipantNode{
		Node:    n,
		engine:  engine,
		clients: NewClientManager(),
		cfg:     cfg,
		log:     log,
	}, nil
}

// Engine returns the participant engine.
func (p *ParticipantNode) Engine() *participant.Engine { return p.engine }

// Recover resolves the transactions left pending by a previous run. The
// node must be listening so the coordinator can push decisions back. If
// locate is nil, the configured coordinator address is used.
func (p *ParticipantNode) Recover(ctx context.Context, locate recovery.Locator) (recovery.Report, error) {
	if locate == nil {
		locate = recovery.Static(p.cfg.CoordinatorAddr)
	}
	m := recovery.NewManager(p.engine, recovery.ParticipantConfig{
		AdvertiseHost: p.cfg.AdvertiseHost,
		Port:          p.Port(),
		Timeout:       p.cfg.RecoveryTimeout.Duration,
		Locate:        locate,
		Connect:       p.clients.FileStoreClient,
		Logger:        p.log.With(zap.String("node", p.cfg.ID)),
	})
	return m.Run(ctx)
}

// ParticipantStatus is a participant's /status body.
type ParticipantStatus struct {
	Role    string  `json:"role"`
	ID      string  `json:"id"`
	DataDir string  `json:"data_dir"`
	Pending []int64 `json:"pending"`
}

// Status reports the participant's undecided transactions.
func (p *ParticipantNode) Status() any {
	s := ParticipantStatus{Role: "participant", ID: p.cfg.ID, DataDir: p.cfg.DataDir, Pending: []int64{}}
	for _, t := range p.engine.Pending() {
		s.Pending = append(s.Pending, t.ID)
	}
	return s
}

// Close stops serving, then releases held locks without deciding them,
// as a crash would.
func (p *ParticipantNode) Close() error {
	p.Stop()
	return multierr.Combine(p.clients.Close(), p.engine.Close())
}
