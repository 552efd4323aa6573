// Package batch evaluates aggregate groups concurrently.
package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/panbanda/p95agg/pkg/aggregate"
	"github.com/sourcegraph/conc/pool"
)

// DefaultWorkerMultiplier is the multiplier applied to NumCPU for worker count.
const DefaultWorkerMultiplier = 2

// ProgressFunc is called after each group is processed.
type ProgressFunc func()

// GroupError represents an error that occurred while evaluating a group.
type GroupError struct {
	Key string
	Err error
}

func (e GroupError) Error() string {
	return fmt.Sprintf("group %q: %v", e.Key, e.Err)
}

func (e GroupError) Unwrap() error {
	return e.Err
}

// GroupErrors collects multiple group evaluation errors.
type GroupErrors struct {
	Errors []GroupError
	mu     sync.Mutex
}

// Add appends an error to the collection (thread-safe).
func (e *GroupErrors) Add(key string, err error) {
	e.mu.Lock()
	e.Errors = append(e.Errors, GroupError{Key: key, Err: err})
	e.mu.Unlock()
}

// HasErrors returns true if any errors were collected.
func (e *GroupErrors) HasErrors() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Errors) > 0
}

// Error implements the error interface.
func (e *GroupErrors) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d groups failed (first: %v)", len(e.Errors), e.Errors[0])
}

// Workers resolves a configured worker count, defaulting to 2x NumCPU.
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU() * DefaultWorkerMultiplier
	}
	return n
}

// MapGroups calls fn for every group on a bounded pool and returns the
// results in the same order as groups. Groups not yet started when ctx is
// cancelled are skipped and ctx.Err() is returned. Errors from fn are
// collected into a *GroupErrors; results for failed groups are zero values.
func MapGroups[T any](ctx context.Context, groups []aggregate.Group, maxWorkers int, fn func(aggregate.Group) (T, error), onProgress ProgressFunc) ([]T, error) {
	if len(groups) == 0 {
		return nil, ctx.Err()
	}

	results := make([]T, len(groups))
	errs := &GroupErrors{}

	p := pool.New().WithMaxGoroutines(Workers(maxWorkers)).WithContext(ctx)
	for i, g := range groups {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			// Each index is written by exactly one goroutine.
			result, err := fn(g)
			if err != nil {
				errs.Add(g.Key, err)
			} else {
				results[i] = result
			}

			if onProgress != nil {
				onProgress()
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
		return results, err
	}

	if errs.HasErrors() {
		return results, errs
	}
	return results, nil
}

// Evaluate computes fn's final value for every group in parallel. Each
// worker allocates its own partial result; AggFunc implementations hold no
// shared mutable state.
func Evaluate(ctx context.Context, fn aggregate.AggFunc, groups []aggregate.Group, maxWorkers int, onProgress ProgressFunc) (*aggregate.Column, error) {
	values, err := MapGroups(ctx, groups, maxWorkers, func(g aggregate.Group) (*aggregate.Column, error) {
		pr := fn.AllocPartialResult()
		if err := fn.UpdatePartialResult(g.Values, pr); err != nil {
			return nil, err
		}
		col := &aggregate.Column{}
		if err := fn.AppendFinalResult(pr, col); err != nil {
			return nil, err
		}
		return col, nil
	}, onProgress)
	if err != nil {
		return nil, err
	}

	out := &aggregate.Column{}
	for _, col := range values {
		v := col.Get(0)
		if v.Valid {
			out.AppendInt64(v.Int64)
		} else {
			out.AppendNull()
		}
	}
	return out, nil
}
