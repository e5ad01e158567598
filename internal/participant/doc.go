// Package participant implements the replica side of two-phase commit.
//
// On CanCommit a participant takes a non-blocking exclusive lock on the
// target file, remembers the pending operation and votes. The lock is held
// until the coordinator's decision arrives: DoCommit applies the operation
// to disk, DoAbort discards it. Every vote and every decision is written to
// the participant's transaction log before the engine acts on it, so a
// restarted participant knows which transactions are still undecided.
package participant
