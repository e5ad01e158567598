// Package storage provides the transaction record store used by both the
// coordinator and the participants. Records are kept in memory in arrival
// order and every mutation is mirrored to a durable Log before it becomes
// visible, so the in-memory view never runs ahead of what survives a crash.
package storage
