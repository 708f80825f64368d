// Package worker provides the bounded fan-out pool and the periodic job scheduler.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when a pool is created with a non-positive limit
const DefaultConcurrency = 10

// Pool bounds the number of concurrently processed items
type Pool struct {
	limit int
}

// NewPool creates a pool running at most limit items at once
func NewPool(limit int) *Pool {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Pool{limit: limit}
}

// Limit returns the concurrency limit
func (p *Pool) Limit() int {
	return p.limit
}

// Result is the outcome of one item
type Result[In, Out any] struct {
	Item  In
	Value Out
	Err   error
}

// Map runs fn for every item and waits for all of them. A failing item never cancels the
// others; each failure is reported in its own Result. Results keep the input order.
func Map[In, Out any](ctx context.Context, p *Pool, items []In, fn func(ctx context.Context, item In) (Out, error)) []Result[In, Out] {
	results := make([]Result[In, Out], len(items))
	if len(items) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(p.limit)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = Result[In, Out]{Item: item}
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Value, results[i].Err = safeCall(ctx, item, fn)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func safeCall[In, Out any](ctx context.Context, item In, fn func(ctx context.Context, item In) (Out, error)) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}

// Summary counts successes and failures of a batch
type Summary struct {
	Successful int
	Failed     int
}

// Summarize counts the results of a Map call
func Summarize[In, Out any](results []Result[In, Out]) Summary {
	var s Summary
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
		} else {
			s.Successful++
		}
	}
	return s
}
