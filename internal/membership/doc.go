// Package membership tracks which participants the coordinator can reach.
//
// Every participant starts Alive. A failed call marks it Suspect, and a
// Suspect that stays unreachable for DeadAfter becomes Dead. Any
// successful call or health probe brings it back to Alive. The table only
// steers reads; writes and deletes always ask every participant.
package membership
