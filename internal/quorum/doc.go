// Package quorum provides the fan-out logic of two-phase commit: collecting
// a unanimous vote from every participant, then broadcasting the decision.
// It handles bounded concurrency, per-participant timeouts and aggregation
// of per-participant failures.
package quorum
