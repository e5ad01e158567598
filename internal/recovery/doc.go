// Package recovery brings a restarted node back in line with the
// coordinator's decisions.
//
// A participant that crashed between voting and hearing the decision finds
// the transaction Pending in its log. On boot it re-acquires the file lock,
// asks the coordinator for the transaction's status and applies the answer.
// The coordinator pushes the decision back as well, so whichever arrives
// first wins and the second is a no-op.
package recovery
