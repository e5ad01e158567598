// Package lock implements the non-blocking advisory file locks a participant
// holds between its vote and the coordinator's decision, and the tables that
// track which transaction owns which locked file.
//
// Locks are flock(2) locks. Each Handle owns its own open file description,
// so two handles on the same path conflict even inside a single process.
// Locks never survive a restart; recovery re-acquires them explicitly.
package lock
