package probe

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunFleet runs independent runners concurrently, at most limit at a time,
// and returns their outcomes in input order. Each runner owns its session
// and trace; nothing is shared between them. A limit <= 0 means no limit.
func RunFleet(ctx context.Context, runners []*Runner, limit int) []Outcome {
	outcomes := make([]Outcome, len(runners))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, r := range runners {
		g.Go(func() error {
			outcomes[i] = r.Run(gctx)
			return nil
		})
	}
	_ = g.Wait() // runners report failures in their traces

	return outcomes
}
