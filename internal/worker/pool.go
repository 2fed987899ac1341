// Package worker applies batches of lifecycle transitions in parallel.
// Each request goes through the engine on its own; a request that loses a
// version race is retried against the fresh state.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// Outcome statuses.
const (
	StatusApplied  = "applied"  // Committed
	StatusRejected = "rejected" // Engine said no: invalid, forbidden, missing reason, ...
	StatusFailed   = "failed"   // Storage error, retries exhausted or cancelled
)

// Applier is the part of the engine the pool needs.
type Applier interface {
	ApplyTransition(ctx context.Context, req lifecycle.TransitionRequest) (lifecycle.Result, error)
}

// TaskResult holds the outcome of a single request.
type TaskResult struct {
	Request  lifecycle.TransitionRequest
	Result   lifecycle.Result
	Status   string
	Attempts int
	Duration time.Duration
	Error    error
	Log      []string // Collected log messages.
}

// Pool manages parallel transition execution.
type Pool struct {
	engine     Applier
	maxWorkers int
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// PoolConfig holds configuration for creating a worker pool.
type PoolConfig struct {
	Engine     Applier
	MaxWorkers int           // <= 1 runs sequentially
	MaxRetries int           // Extra attempts after a concurrent modification
	Backoff    time.Duration // Wait before each retry, multiplied by the attempt
	Logger     *slog.Logger
}

// NewPool creates a new worker pool.
func NewPool(pc PoolConfig) *Pool {
	logger := pc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := pc.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Pool{
		engine:     pc.Engine,
		maxWorkers: pc.MaxWorkers,
		maxRetries: retries,
		backoff:    pc.Backoff,
		logger:     logger,
	}
}

// Run applies every request (up to maxWorkers at a time) and returns
// results in input order.
func (p *Pool) Run(ctx context.Context, reqs []lifecycle.TransitionRequest) []TaskResult {
	if p.maxWorkers <= 1 || len(reqs) <= 1 {
		return p.runSequential(ctx, reqs)
	}
	return p.runParallel(ctx, reqs)
}

// runSequential applies requests one by one.
func (p *Pool) runSequential(ctx context.Context, reqs []lifecycle.TransitionRequest) []TaskResult {
	results := make([]TaskResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, p.execute(ctx, req))
	}
	return results
}

// runParallel applies requests concurrently with a semaphore.
func (p *Pool) runParallel(ctx context.Context, reqs []lifecycle.TransitionRequest) []TaskResult {
	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup

	results := make([]TaskResult, len(reqs))

	for i, req := range reqs {
		select {
		case sem <- struct{}{}: // Acquire worker slot.
		case <-ctx.Done():
			results[i] = cancelled(req, ctx.Err())
			continue
		}

		wg.Add(1)
		go func(idx int, r lifecycle.TransitionRequest) {
			defer wg.Done()
			defer func() { <-sem }() // Release worker slot.
			results[idx] = p.execute(ctx, r)
		}(i, req)
	}

	wg.Wait()
	return results
}

func cancelled(req lifecycle.TransitionRequest, err error) TaskResult {
	return TaskResult{
		Request: req,
		Status:  StatusFailed,
		Error:   err,
		Log:     []string{"not started: " + err.Error()},
	}
}

// execute applies one request, retrying concurrent modifications.
func (p *Pool) execute(ctx context.Context, req lifecycle.TransitionRequest) TaskResult {
	start := time.Now()
	r := TaskResult{Request: req}

	logf := func(format string, args ...any) {
		r.Log = append(r.Log, fmt.Sprintf(format, args...))
	}

	for attempt := 1; attempt <= p.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			r.Status, r.Error = StatusFailed, err
			logf("cancelled before attempt %d", attempt)
			break
		}
		r.Attempts = attempt

		res, err := p.engine.ApplyTransition(ctx, req)
		if err == nil {
			r.Result, r.Status, r.Error = res, StatusApplied, nil
			logf("%s: %s -> %s", res.Ref, res.From, res.State)
			break
		}
		r.Error = err

		if lifecycle.IsRetryable(err) && attempt <= p.maxRetries {
			logf("attempt %d lost a race, retrying", attempt)
			p.logger.Debug("retrying transition",
				"entity", req.Ref.String(), "to", req.To, "attempt", attempt)
			if !p.wait(ctx, attempt) {
				r.Status, r.Error = StatusFailed, ctx.Err()
				break
			}
			continue
		}

		switch lifecycle.ErrorCode(err) {
		case "", lifecycle.CodeStorageUnavailable, lifecycle.CodeConcurrentModification:
			r.Status = StatusFailed
		default:
			r.Status = StatusRejected
		}
		logf("%s", err)
		break
	}

	r.Duration = time.Since(start)
	return r
}

func (p *Pool) wait(ctx context.Context, attempt int) bool {
	if p.backoff <= 0 {
		return true
	}
	t := time.NewTimer(p.backoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Summary counts results by status.
func Summary(results []TaskResult) map[string]int {
	out := make(map[string]int, 3)
	for _, r := range results {
		out[r.Status]++
	}
	return out
}
