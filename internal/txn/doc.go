// Package txn defines the transaction record shared by the coordinator and
// the participants: one file operation, tracked end to end by a unique id
// and a status that moves from Pending to Commit or Abort exactly once.
package txn
