// package batch implements the bounded-concurrency, rate-limited, retried
// batch executor shared by every connector (§4.C). It generalizes the
// worker-pool + golang.org/x/time/rate pattern from
// internal/tasks/bulk_export.go's exportWorker/jobs-channel pair from
// "export N playlists" to an arbitrary item/result type pair, and adds an
// exponential-backoff-with-jitter retry loop per item that the teacher's
// bulk export does not need (a single failed export there is terminal for
// that playlist; connectors need to retry transient failures).
package batch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/narada/internal/shared"
)

// EventType identifies a progress callback event.
type EventType string

const (
	EventItemSucceeded EventType = "item_succeeded"
	EventItemFailed    EventType = "item_failed"
	EventBatchStarted  EventType = "batch_started"
	EventGiveUp        EventType = "give_up"
)

// Event is passed to an Options.Progress callback after each item or batch
// boundary, matching §6's progress-event shape.
type Event struct {
	Type      EventType
	TaskName  string
	Processed int
	Total     int
}

// Result carries fn's output or error for one input item. Input order is
// preserved within a batch chunk; completion order across concurrent
// workers is not guaranteed (§5 "Ordering guarantees").
type Result[O any] struct {
	Value O
	Err   error
}

// Options configures Process. Zero values fall back to conservative
// defaults so callers that only care about one knob don't need to set
// the rest.
type Options struct {
	// Concurrency bounds the number of in-flight fn calls. Default 5.
	Concurrency int
	// RateLimit caps outbound calls per second, shared across all workers
	// in this Process call. Zero disables rate limiting.
	RateLimit float64
	// BatchSize chunks items so memory stays bounded on large inputs.
	// Default: all items in one chunk.
	BatchSize int
	// RetryCount is the number of retries after the first attempt.
	// Default 0 (no retry).
	RetryCount int
	// BaseDelay is the first retry's backoff ceiling; the first retry
	// waits between BaseDelay/2 and BaseDelay. Default 250ms.
	BaseDelay time.Duration
	// MaxDelay caps backoff growth. Default 30s.
	MaxDelay time.Duration
	// TaskName labels progress events.
	TaskName string
	// Progress, if non-nil, is invoked synchronously after each item
	// completes and at each batch boundary.
	Progress func(Event)
	// Logger receives give-up and per-item failure logs. Defaults to a
	// package-level logger if nil.
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 250 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = shared.NewLogger(nil)
	}
	return o
}

// Process runs fn over items with bounded concurrency, an optional shared
// rate limiter, per-item retry with exponential backoff and jitter, and
// batching so memory stays bounded on large inputs. One item's exhausted
// retries are recorded as a Result with Err set; they never abort sibling
// items or the batch (§4.C "Error containment").
func Process[I, O any](ctx context.Context, items []I, fn func(context.Context, I) (O, error), opts Options) []Result[O] {
	opts = opts.withDefaults()

	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > len(items) {
		batchSize = len(items)
	}
	if batchSize == 0 {
		return nil
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	results := make([]Result[O], len(items))
	processed := 0

	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		chunk := items[start:end]

		if opts.Progress != nil {
			opts.Progress(Event{Type: EventBatchStarted, TaskName: opts.TaskName, Processed: processed, Total: len(items)})
		}

		chunkResults := processChunk(ctx, chunk, fn, opts, limiter)
		copy(results[start:end], chunkResults)

		for i, r := range chunkResults {
			processed++
			evt := Event{Type: EventItemSucceeded, TaskName: opts.TaskName, Processed: processed, Total: len(items)}
			if r.Err != nil {
				evt.Type = EventItemFailed
			}
			if opts.Progress != nil {
				opts.Progress(evt)
			}
			_ = i
		}
	}

	return results
}

func processChunk[I, O any](ctx context.Context, chunk []I, fn func(context.Context, I) (O, error), opts Options, limiter *rate.Limiter) []Result[O] {
	results := make([]Result[O], len(chunk))
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup

	for i, item := range chunk {
		wg.Add(1)
		go func(i int, item I) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = runWithRetry(ctx, item, fn, opts, limiter)
		}(i, item)
	}

	wg.Wait()
	return results
}

func runWithRetry[I, O any](ctx context.Context, item I, fn func(context.Context, I) (O, error), opts Options, limiter *rate.Limiter) Result[O] {
	var lastErr error

	for attempt := 0; attempt <= opts.RetryCount; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return Result[O]{Err: fmt.Errorf("%w: rate limiter wait: %v", shared.ErrTransientExternal, err)}
			}
		}

		value, err := fn(ctx, item)
		if err == nil {
			return Result[O]{Value: value}
		}
		lastErr = err

		if attempt == opts.RetryCount {
			break
		}

		delay := backoffWithJitter(attempt, opts.BaseDelay, opts.MaxDelay)
		select {
		case <-ctx.Done():
			return Result[O]{Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	opts.Logger.Warn("batch item gave up after retries", "task", opts.TaskName, "retries", opts.RetryCount, "error", lastErr)
	if opts.Progress != nil {
		opts.Progress(Event{Type: EventGiveUp, TaskName: opts.TaskName})
	}
	return Result[O]{Err: lastErr}
}

// backoffWithJitter computes an exponential delay d = base * 2^attempt,
// capped at maxDelay, and returns a random duration in [d/2, d) so
// concurrent workers do not retry in lockstep.
func backoffWithJitter(attempt int, base, maxDelay time.Duration) time.Duration {
	d := base * time.Duration(1<<uint(attempt))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	return d/2 + jitter
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
