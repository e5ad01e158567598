// Package coordinator implements the coordinator side of two-phase commit.
//
// Every client request becomes a transaction with a fresh id, logged
// durably before any participant is contacted. Writes and deletes commit
// only when every participant votes yes; the decision is logged before it
// is broadcast. Reads are served by one participant chosen at random.
//
// Recovering participants ask the coordinator for the fate of transactions
// they voted on. A transaction that is still undecided when asked is
// given a bounded grace period and then aborted.
package coordinator
