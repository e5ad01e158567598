// Package it runs whole clusters in one process for end-to-end tests:
// real gRPC servers on loopback ports, bolt transaction logs and data
// directories on disk.
package it

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rfstore/internal/api"
	"rfstore/internal/config"
	"rfstore/internal/node"
	"rfstore/internal/recovery"
)

// Cluster is a coordinator and its participants.
type Cluster struct {
	dir          string
	log          *zap.Logger
	participants []*Participant
	coordCfg     *config.CoordinatorConfig
	coord        *node.CoordinatorNode
	clients      *node.ClientManager

	mu      sync.Mutex
	dropped map[string]bool
}

// Participant is one participant of a Cluster.
type Participant struct {
	Name string
	Addr string
	cfg  *config.ParticipantConfig
	node *node.ParticipantNode
}

// NewCluster starts n participants and a coordinator under dir. mutate,
// if set, adjusts the coordinator config before it starts.
func NewCluster(dir string, n int, log *zap.Logger, mutate func(*config.CoordinatorConfig)) (*Cluster, error) {
	c := &Cluster{
		dir:     dir,
		log:     log,
		clients: node.NewClientManager(),
		dropped: make(map[string]bool),
	}

	var list []string
	for i := 1; i <= n; i++ {
		cfg := config.NewDefaultParticipantConfig()
		cfg.ID = fmt.Sprintf("p%d", i)
		cfg.ListenAddr = "127.0.0.1:0"
		cfg.DataDir = filepath.Join(dir, cfg.ID)
		cfg.RecoveryTimeout = config.Duration{Duration: 5 * time.Second}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		p := &Participant{Name: cfg.ID, cfg: cfg}
		if err := p.start(log); err != nil {
			c.Stop()
			return nil, err
		}
		// Restarts must come back on the same port.
		p.Addr = p.node.Addr().String()
		cfg.ListenAddr = p.Addr
		c.participants = append(c.participants, p)
		list = append(list, p.Name+"="+p.Addr)
	}

	cfg := config.NewDefaultCoordinatorConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.LogPath = filepath.Join(dir, "coordinator-txlog.db")
	cfg.Participants = strings.Join(list, ",")
	cfg.PrepareTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.DecisionTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.ReadTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.RecoveryWait = config.Duration{Duration: 200 * time.Millisecond}
	// Probes would put connections to crashed participants into backoff
	// and fail the first calls after a restart.
	cfg.ProbeInterval = config.Duration{}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		c.Stop()
		return nil, err
	}
	c.coordCfg = cfg

	if err := c.startCoordinator(); err != nil {
		c.Stop()
		return nil, err
	}
	return c, nil
}

func (p *Participant) start(log *zap.Logger) error {
	pn, err := node.NewParticipantNode(p.cfg, log, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("start participant %s: %w", p.Name, err)
	}
	if err := pn.Listen(); err != nil {
		pn.Close()
		return err
	}
	go pn.Serve()
	p.node = pn
	return nil
}

func (c *Cluster) startCoordinator() error {
	participants, err := c.coordCfg.LoadParticipants()
	if err != nil {
		return err
	}
	coord, err := node.NewCoordinatorNode(c.coordCfg, participants, c.log, prometheus.NewRegistry(),
		grpc.WithChainUnaryInterceptor(c.dropDecisions))
	if err != nil {
		return err
	}
	if err := coord.Listen(); err != nil {
		coord.Close()
		return err
	}
	go coord.Serve()
	c.coord = coord
	c.coordCfg.ListenAddr = coord.Addr().String()
	return nil
}

// dropDecisions fails phase-2 calls to participants whose decisions are
// being dropped, as if the network lost them.
func (c *Cluster) dropDecisions(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if method == api.Participant_DoCommit_FullMethodName || method == api.Participant_DoAbort_FullMethodName {
		c.mu.Lock()
		drop := c.dropped[cc.Target()]
		c.mu.Unlock()
		if drop {
			return status.Error(codes.Unavailable, "decision dropped")
		}
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// DropDecisions makes the coordinator's decisions to participant i fail
// (drop=true) or go through again (drop=false).
func (c *Cluster) DropDecisions(i int, drop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[c.participants[i].Addr] = drop
}

// Client returns a FileStore client connected to the coordinator.
func (c *Cluster) Client() (api.FileStoreClient, error) {
	return c.clients.FileStoreClient(c.coord.Addr().String())
}

// Coordinator returns the running coordinator.
func (c *Cluster) Coordinator() *node.CoordinatorNode { return c.coord }

// Participant returns participant i, counting from 0.
func (c *Cluster) Participant(i int) *Participant { return c.participants[i] }

// Node returns the participant's running node.
func (p *Participant) Node() *node.ParticipantNode { return p.node }

// Path returns the on-disk path of a stored file.
func (p *Participant) Path(name string) string {
	return filepath.Join(p.cfg.DataDir, name)
}

// ReadFile reads a stored file straight from disk.
func (p *Participant) ReadFile(name string) (string, error) {
	b, err := os.ReadFile(p.Path(name))
	return string(b), err
}

// Crash stops participant i without deciding its pending transactions.
func (c *Cluster) Crash(i int) error {
	p := c.participants[i]
	if p.node == nil {
		return nil
	}
	err := p.node.Close()
	p.node = nil
	return err
}

// Restart starts a crashed participant on its old port and runs recovery
// against the coordinator.
func (c *Cluster) Restart(ctx context.Context, i int) (recovery.Report, error) {
	p := c.participants[i]
	if err := p.start(c.log); err != nil {
		return recovery.Report{}, err
	}
	return p.node.Recover(ctx, recovery.Static(c.coord.Addr().String()))
}

// Stop shuts the whole cluster down.
func (c *Cluster) Stop() {
	if c.coord != nil {
		c.coord.Close()
	}
	for _, p := range c.participants {
		if p.node != nil {
			p.node.Close()
		}
	}
	c.clients.Close()
}
