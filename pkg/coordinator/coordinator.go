// Package coordinator executes notebook cells against session instances. Calls
// for one session run in submission order; different sessions run
// concurrently.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/quire/pkg/errors"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
	"github.com/TFMV/quire/pkg/instance"
	"github.com/TFMV/quire/pkg/registry"
)

// Notifier is told when a session lost its state to a backend fault.
type Notifier interface {
	SessionReset(key registry.Key)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(key registry.Key)

func (f NotifierFunc) SessionReset(key registry.Key) { f(key) }

type noopNotifier struct{}

func (noopNotifier) SessionReset(registry.Key) {}

type job struct {
	ctx  context.Context
	run  func(ctx context.Context) Output
	done chan Output
}

// queue is the FIFO of one session. Its worker exits once the queue drains.
type queue struct {
	pending []*job
}

// Coordinator serializes cells per session and maps backend outcomes to
// outputs.
type Coordinator struct {
	registry *registry.Registry
	notifier Notifier
	logger   zerolog.Logger
	metrics  metrics.Collector

	order atomic.Int64

	mu     sync.Mutex
	queues map[registry.Key]*queue
	closed bool
	wg     sync.WaitGroup
}

// New creates a coordinator over reg. A nil notifier discards resets.
func New(reg *registry.Registry, notifier Notifier, collector metrics.Collector, logger zerolog.Logger) *Coordinator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Coordinator{
		registry: reg,
		notifier: notifier,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		metrics:  metrics.OrNoOp(collector),
		queues:   make(map[registry.Key]*queue),
	}
}

// Execute runs text in the session for key and returns its output. It never
// returns a Go error: every failure is an error Output.
func (c *Coordinator) Execute(ctx context.Context, key registry.Key, text string) Output {
	jobs, err := c.submit(ctx, key, text)
	if err != nil {
		return c.failed(err)
	}
	return c.await(jobs[0])
}

// ExecuteBatch runs cells back to back in the session for key. No other call
// on that session interleaves with the batch.
func (c *Coordinator) ExecuteBatch(ctx context.Context, key registry.Key, cells []string) []Output {
	outputs := make([]Output, len(cells))
	if len(cells) == 0 {
		return outputs
	}

	jobs, err := c.submit(ctx, key, cells...)
	if err != nil {
		for i := range outputs {
			outputs[i] = c.failed(err)
		}
		return outputs
	}
	for i, j := range jobs {
		outputs[i] = c.await(j)
	}
	return outputs
}

// OnDocumentClosed disposes the session of a closed document once its queued
// cells have run. Shared sessions outlive documents and are left alone.
func (c *Coordinator) OnDocumentClosed(ctx context.Context, key registry.Key) bool {
	if c.registry.Mode() == registry.ModeShared {
		return false
	}

	removed := false
	j := &job{
		ctx: ctx,
		run: func(context.Context) Output {
			removed = c.registry.Remove(key)
			return Output{}
		},
		done: make(chan Output, 1),
	}
	if err := c.enqueue(key, j); err != nil {
		return false
	}
	<-j.done
	return removed
}

// Reset discards every session. Later cells start from fresh instances.
func (c *Coordinator) Reset(ctx context.Context) error {
	return c.registry.ResetAll(ctx)
}

// Sessions returns a snapshot of the live sessions.
func (c *Coordinator) Sessions() []instance.Stats {
	return c.registry.Stats()
}

// Close waits for queued cells and tears down every session.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	return c.registry.Close(ctx)
}

func (c *Coordinator) submit(ctx context.Context, key registry.Key, texts ...string) ([]*job, error) {
	jobs := make([]*job, len(texts))
	for i, text := range texts {
		jobs[i] = &job{
			ctx: ctx,
			run: func(ctx context.Context) Output {
				return c.execute(ctx, key, text)
			},
			done: make(chan Output, 1),
		}
	}
	if err := c.enqueue(key, jobs...); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Coordinator) enqueue(key registry.Key, jobs ...*job) error {
	key = c.registry.Resolve(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return pkgerrors.ErrRegistryClosed
	}
	q, ok := c.queues[key]
	if !ok {
		q = &queue{}
		c.queues[key] = q
		c.wg.Add(1)
		go c.work(key, q)
	}
	q.pending = append(q.pending, jobs...)
	return nil
}

// work drains q in order and removes it once empty.
func (c *Coordinator) work(key registry.Key, q *queue) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if len(q.pending) == 0 {
			delete(c.queues, key)
			c.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		c.mu.Unlock()

		j.done <- j.run(j.ctx)
	}
}

// await returns the job's output. The cell still runs when the caller gives up
// waiting; only the wait is abandoned.
func (c *Coordinator) await(j *job) Output {
	select {
	case out := <-j.done:
		return out
	case <-j.ctx.Done():
		return c.failed(j.ctx.Err())
	}
}

func (c *Coordinator) execute(ctx context.Context, key registry.Key, text string) Output {
	out := Output{
		ExecutionOrder: c.order.Add(1),
		Started:        time.Now(),
	}
	logger := c.logger.With().
		Str("key", string(key)).
		Int64("execution_order", out.ExecutionOrder).
		Logger()

	timer := c.metrics.StartTimer(metrics.QueryDurationSeconds)
	defer timer.Stop()

	finish := func(kind Kind, label string) Output {
		out.Kind = kind
		out.Ended = time.Now()
		c.metrics.IncrementCounter(metrics.QueriesTotal, "outcome", label)
		return out
	}

	if ctx.Err() != nil {
		out.Message = ctx.Err().Error()
		return finish(KindError, "abandoned")
	}

	inst, err := c.registry.GetOrCreate(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("No instance for session")
		out.Message = pkgerrors.GetMessage(err)
		return finish(KindError, "error")
	}

	outcome, err := inst.Run(ctx, text)
	switch {
	case err == nil && !outcome.IsError():
		out.Payload = payloadOf(outcome.Results)
		logger.Debug().Dur("duration", time.Since(out.Started)).Msg("Cell succeeded")
		return finish(KindSuccess, "success")

	case err == nil:
		out.Message = outcome.Message
		logger.Debug().Str("message", outcome.Message).Msg("Cell failed")
		return finish(KindError, "error")

	case pkgerrors.IsFault(err):
		logger.Error().Err(err).Msg("Backend fault, resetting session")
		c.reset(ctx, key)
		out.Message = fmt.Sprintf("%s; the session was reset", pkgerrors.GetMessage(err))
		return finish(KindError, "fault")

	default:
		logger.Warn().Err(err).Msg("Cell ended without an outcome")
		out.Message = pkgerrors.GetMessage(err)
		return finish(KindError, "error")
	}
}

// reset notifies once and swaps in a fresh instance for key.
func (c *Coordinator) reset(ctx context.Context, key registry.Key) {
	c.metrics.IncrementCounter(metrics.SessionResetsTotal)
	c.notifier.SessionReset(key)

	if _, err := c.registry.Replace(context.WithoutCancel(ctx), key); err != nil {
		c.logger.Warn().Err(err).Str("key", string(key)).Msg("Failed to replace instance")
	}
}

func (c *Coordinator) failed(err error) Output {
	now := time.Now()
	return Output{
		Kind:    KindError,
		Message: pkgerrors.GetMessage(err),
		Started: now,
		Ended:   now,
	}
}
