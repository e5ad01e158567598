package quorum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// VoteResult represents the result of phase 1.
type VoteResult struct {
	// Unanimous is true iff every participant voted yes.
	Unanimous    bool
	Votes        int
	Participants int
	// Errors holds the transport failures; a failed call is a non-vote.
	Errors       []error
	ErrorMessage string
}

// DeliveryResult represents the result of phase 2.
type DeliveryResult struct {
	Delivered    int
	Participants int
	// Err aggregates every failed delivery, nil if all succeeded.
	Err error
}

// VoteFunc asks a single participant for its vote.
type VoteFunc func(ctx context.Context, participant string) (bool, error)

// DeliverFunc delivers the decision to a single participant.
type DeliverFunc func(ctx context.Context, participant string) error

// Options bound the fan-out. Zero values mean sequential calls without a
// per-call timeout.
type Options struct {
	// Concurrency is the maximum number of in-flight calls.
	Concurrency int
	// PerCallTimeout bounds each participant call.
	PerCallTimeout time.Duration
}

func (o Options) limit() int {
	if o.Concurrency <= 0 {
		return 1
	}
	return o.Concurrency
}

func (o Options) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.PerCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.PerCallTimeout)
}

// CollectVotes asks every participant for its vote. Every participant is
// asked even after a no vote, so each one learns of the transaction and
// receives the decision afterwards.
func CollectVotes(ctx context.Context, participants []string, opts Options, voteFn VoteFunc) VoteResult {
	if len(participants) == 0 {
		return VoteResult{ErrorMessage: "no participants provided"}
	}

	var (
		mu    sync.Mutex
		votes int
		errs  []error
		g     errgroup.Group
	)
	g.SetLimit(opts.limit())

	for _, p := range participants {
		g.Go(func() error {
			callCtx, cancel := opts.callContext(ctx)
			defer cancel()

			yes, err := voteFn(callCtx, p)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, fmt.Errorf("participant %s: %w", p, err))
			} else if yes {
				votes++
			}
			return nil
		})
	}
	g.Wait()

	result := VoteResult{
		Unanimous:    votes == len(participants),
		Votes:        votes,
		Participants: len(participants),
		Errors:       errs,
	}
	if !result.Unanimous {
		result.ErrorMessage = fmt.Sprintf("vote not unanimous: votes=%d participants=%d", votes, len(participants))
		if len(errs) > 0 {
			result.ErrorMessage += fmt.Sprintf(" errors=%v", errs[:min(3, len(errs))])
		}
	}
	return result
}

// Broadcast delivers a decision to every participant. A failed delivery
// does not stop the others.
func Broadcast(ctx context.Context, participants []string, opts Options, deliverFn DeliverFunc) DeliveryResult {
	var (
		mu        sync.Mutex
		delivered int
		err       error
		g         errgroup.Group
	)
	g.SetLimit(opts.limit())

	for _, p := range participants {
		g.Go(func() error {
			callCtx, cancel := opts.callContext(ctx)
			defer cancel()

			deliverErr := deliverFn(callCtx, p)
			mu.Lock()
			defer mu.Unlock()

			if deliverErr != nil {
				err = multierr.Append(err, fmt.Errorf("participant %s: %w", p, deliverErr))
			} else {
				delivered++
			}
			return nil
		})
	}
	g.Wait()

	return DeliveryResult{
		Delivered:    delivered,
		Participants: len(participants),
		Err:          err,
	}
}
