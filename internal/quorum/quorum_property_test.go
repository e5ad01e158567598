package quorum

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// TestQuorum_CommitIffAllVoteYes checks that the vote is unanimous iff
// every participant votes yes, for every concurrency setting.
func TestQuorum_CommitIffAllVoteYes(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		yes         int
		concurrency int
		unanimous   bool
	}{
		{"1 of 1, sequential", 1, 1, 1, true},
		{"3 of 3, sequential", 3, 3, 1, true},
		{"2 of 3, sequential", 3, 2, 1, false},
		{"0 of 3, sequential", 3, 0, 1, false},
		{"5 of 5, parallel", 5, 5, 5, true},
		{"4 of 5, parallel", 5, 4, 5, false},
		{"4 of 5, limit 2", 5, 4, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			participants := make([]string, tt.total)
			index := make(map[string]int, tt.total)
			for i := range participants {
				participants[i] = fmt.Sprintf("p%d", i)
				index[participants[i]] = i
			}

			voteFn := func(ctx context.Context, participant string) (bool, error) {
				return index[participant] < tt.yes, nil
			}

			result := CollectVotes(context.Background(), participants, Options{Concurrency: tt.concurrency}, voteFn)

			if result.Unanimous != tt.unanimous {
				t.Errorf("Unanimous = %v, want %v (votes=%d)", result.Unanimous, tt.unanimous, result.Votes)
			}
			if result.Votes != tt.yes {
				t.Errorf("Votes = %d, want %d", result.Votes, tt.yes)
			}
		})
	}
}

// TestQuorum_ConcurrencyLimit checks that no more than the configured
// number of calls are in flight at once.
func TestQuorum_ConcurrencyLimit(t *testing.T) {
	participants := make([]string, 12)
	for i := range participants {
		participants[i] = fmt.Sprintf("p%d", i)
	}

	for _, limit := range []int{0, 1, 3, 12} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			var inFlight, peak atomic.Int32
			deliverFn := func(ctx context.Context, participant string) error {
				n := inFlight.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			}

			result := Broadcast(context.Background(), participants, Options{Concurrency: limit}, deliverFn)

			want := int32(limit)
			if limit <= 0 {
				want = 1
			}
			if peak.Load() > want {
				t.Errorf("peak in-flight = %d, want <= %d", peak.Load(), want)
			}
			if result.Delivered != len(participants) {
				t.Errorf("Delivered = %d, want %d", result.Delivered, len(participants))
			}
		})
	}
}
