package reconcile

import (
	"context"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Adjuster applies a signed quantity change to one inventory entry.
type Adjuster interface {
	AdjustInventory(ctx context.Context, description string, delta int) error
}

// Result is the outcome of one delta.
type Result struct {
	Description string
	Delta       int
	Err         error
}

// Report collects the per-description outcomes of Apply, sorted by description.
type Report struct {
	Results []Result
}

// Applied returns the deltas that succeeded.
func (r Report) Applied() Deltas {
	out := Deltas{}
	for _, res := range r.Results {
		if res.Err == nil {
			out[res.Description] = res.Delta
		}
	}
	return out
}

// Failed returns the results that carry an error.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err combines every failure, or nil when all deltas were applied.
func (r Report) Err() error {
	var err error
	for _, res := range r.Failed() {
		err = multierr.Append(err, &AdjustmentError{Description: res.Description, Delta: res.Delta, Err: res.Err})
	}
	return err
}

// AdjustmentError wraps the failure of a single inventory delta.
type AdjustmentError struct {
	Description string
	Delta       int
	Err         error
}

func (e *AdjustmentError) Error() string {
	return "adjust inventory " + e.Description + ": " + e.Err.Error()
}

func (e *AdjustmentError) Unwrap() error { return e.Err }

// Apply issues every delta concurrently and waits for all of them to settle.
// A failure for one description never stops the others; nothing is rolled back.
func Apply(ctx context.Context, adj Adjuster, deltas Deltas) Report {
	keys := deltas.Keys()
	results := make([]Result, len(keys))

	var g errgroup.Group
	for i, desc := range keys {
		delta := deltas[desc]
		g.Go(func() error {
			results[i] = Result{
				Description: desc,
				Delta:       delta,
				Err:         adj.AdjustInventory(ctx, desc, delta),
			}
			return nil
		})
	}
	_ = g.Wait()

	return Report{Results: results}
}
