// Package metrics defines the prometheus collectors of the coordinator and
// the participants and serves them over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rfstore"

// Coordinator holds the coordinator's collectors.
type Coordinator struct {
	Transactions     *prometheus.CounterVec
	Votes            *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	RecoveryQueries  *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	// ParticipantUp is 1 while a participant is not known to be dead.
	ParticipantUp *prometheus.GaugeVec
}

// NewCoordinator registers the coordinator collectors on reg. A nil reg
// gets a private registry.
func NewCoordinator(reg prometheus.Registerer) *Coordinator {
	f := promauto.With(registerer(reg))
	return &Coordinator{
		Transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "transactions_total",
			Help:      "Transactions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		Votes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "votes_total",
			Help:      "Phase-1 votes received, by vote.",
		}, []string{"vote"}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "decision_delivery_failures_total",
			Help:      "Phase-2 decisions that could not be delivered.",
		}),
		RecoveryQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "recovery_queries_total",
			Help:      "Transaction status queries from recovering participants, by answered status.",
		}, []string{"status"}),
		PersistFailures: persistFailures(f),
		ParticipantUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "participant_up",
			Help:      "Whether a participant is considered reachable.",
		}, []string{"participant"}),
	}
}

// Participant holds a participant's collectors.
type Participant struct {
	Votes           *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	PendingEntries  *prometheus.GaugeVec
	Reads           *prometheus.CounterVec
	PersistFailures prometheus.Counter
}

// NewParticipant registers the participant collectors on reg. A nil reg
// gets a private registry.
func NewParticipant(reg prometheus.Registerer) *Participant {
	f := promauto.With(registerer(reg))
	return &Participant{
		Votes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "votes_total",
			Help:      "Votes cast, by operation and vote.",
		}, []string{"operation", "vote"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "decisions_total",
			Help:      "Decisions applied, by decision.",
		}, []string{"decision"}),
		PendingEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "pending_entries",
			Help:      "Locked files waiting for a decision, by table.",
		}, []string{"table"}),
		Reads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "reads_total",
			Help:      "File reads, by result.",
		}, []string{"result"}),
		PersistFailures: persistFailures(f),
	}
}

// RPC holds the gRPC server collectors.
type RPC struct {
	Handled  *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewRPC registers the gRPC server collectors on reg. A nil reg gets a
// private registry.
func NewRPC(reg prometheus.Registerer) *RPC {
	f := promauto.With(registerer(reg))
	return &RPC{
		Handled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc_server",
			Name:      "handled_total",
			Help:      "RPCs completed on the server, by method and code.",
		}, []string{"method", "code"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc_server",
			Name:      "duration_seconds",
			Help:      "RPC handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func persistFailures(f promauto.Factory) prometheus.Counter {
	return f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "txlog",
		Name:      "persist_failures_total",
		Help:      "Transaction log writes that failed.",
	})
}

func registerer(reg prometheus.Registerer) prometheus.Registerer {
	if reg == nil {
		return prometheus.NewRegistry()
	}
	return reg
}
