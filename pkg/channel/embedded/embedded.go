// Package embedded runs the DuckDB engine in-process on a dedicated worker
// goroutine.
package embedded

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TFMV/quire/pkg/channel"
	"github.com/TFMV/quire/pkg/engine"
	pkgerrors "github.com/TFMV/quire/pkg/errors"
	"github.com/TFMV/quire/pkg/models"
)

// Engine is what the worker hosts.
type Engine interface {
	Run(ctx context.Context, text string) ([]models.ResultSet, error)
	Close() error
}

// EngineFactory opens an engine bound to the default namespace.
type EngineFactory func(ctx context.Context, logger zerolog.Logger) (Engine, error)

// DuckDB opens an in-memory DuckDB engine.
func DuckDB(cfg engine.Config) EngineFactory {
	return func(ctx context.Context, logger zerolog.Logger) (Engine, error) {
		return engine.Open(ctx, cfg, logger)
	}
}

type request struct {
	text  string
	reply chan reply
}

type reply struct {
	outcome models.Outcome
	err     error
}

// Channel hands queries to one worker goroutine that owns the engine. A panic
// escaping the engine kills the worker and is reported as a boundary fault.
type Channel struct {
	logger  zerolog.Logger
	factory EngineFactory

	requests chan *request
	ready    *channel.Readiness
	faults   chan error

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}

	// dead is closed when the worker exits; deadErr is written before.
	dead    chan struct{}
	deadErr error
}

var _ channel.Channel = (*Channel)(nil)

// New creates an unstarted embedded channel.
func New(factory EngineFactory, logger zerolog.Logger) *Channel {
	return &Channel{
		logger:   logger.With().Str("component", "embedded").Logger(),
		factory:  factory,
		requests: make(chan *request),
		ready:    channel.NewReadiness(),
		faults:   make(chan error, 1),
		stop:     make(chan struct{}),
		dead:     make(chan struct{}),
	}
}

// NewFactory returns a channel.Factory producing embedded channels.
func NewFactory(factory EngineFactory, logger zerolog.Logger) channel.Factory {
	return func() channel.Channel {
		return New(factory, logger)
	}
}

// Start launches the worker. The engine is opened on the worker itself.
func (c *Channel) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		go c.work()
	})
	return nil
}

func (c *Channel) Ready() *channel.Readiness { return c.ready }

func (c *Channel) Faults() <-chan error { return c.faults }

func (c *Channel) Kind() string { return channel.BackendEmbedded }

// RunSQL waits for readiness and hands the preamble-prefixed text to the
// worker. Engine errors come back as Error outcomes.
func (c *Channel) RunSQL(ctx context.Context, text string) (models.Outcome, error) {
	if err := c.ready.Wait(ctx); err != nil {
		if pkgerrors.IsTerminal(err) || ctx.Err() != nil {
			return models.Outcome{}, err
		}
		return models.NewError(fmt.Sprintf("engine unavailable: %v", err), err), nil
	}

	req := &request{
		text:  engine.Preamble + "\n" + text,
		reply: make(chan reply, 1),
	}

	select {
	case c.requests <- req:
	case <-c.stop:
		return models.Outcome{}, pkgerrors.ErrTerminated
	case <-c.dead:
		return models.Outcome{}, c.deadErr
	case <-ctx.Done():
		return models.Outcome{}, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep.outcome, rep.err
	case <-c.dead:
		select {
		case rep := <-req.reply:
			return rep.outcome, rep.err
		default:
		}
		return models.Outcome{}, c.deadErr
	case <-c.stop:
		return models.Outcome{}, pkgerrors.ErrTerminated
	case <-ctx.Done():
		return models.Outcome{}, ctx.Err()
	}
}

// Terminate stops the worker after its current query and rejects readiness if
// still pending. Idempotent.
func (c *Channel) Terminate() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.ready.Reject(pkgerrors.ErrTerminated)
		// Never started: nobody else will close dead.
		c.startOnce.Do(func() {
			c.deadErr = pkgerrors.ErrTerminated
			close(c.dead)
		})
		c.logger.Debug().Msg("Embedded channel terminated")
	})
}

// Done is closed once the worker has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.dead
}

func (c *Channel) work() {
	eng, err := c.open()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to open engine")
		c.ready.Reject(err)
		c.deadErr = pkgerrors.Wrap(err, pkgerrors.CodeTerminated, "engine failed to open")
		close(c.dead)
		return
	}

	select {
	case <-c.stop:
		c.closeEngine(eng)
		c.deadErr = pkgerrors.ErrTerminated
		close(c.dead)
		return
	default:
	}

	c.ready.Resolve()
	c.logger.Debug().Msg("Embedded engine ready")

	fault := c.loop(eng)
	if fault == nil {
		c.closeEngine(eng)
		c.deadErr = pkgerrors.ErrTerminated
		close(c.dead)
		return
	}

	c.logger.Error().Err(fault).Msg("Embedded engine fault")
	c.deadErr = fault
	close(c.dead)
	c.faults <- fault
	// The engine state is unknown after a panic; release it best effort.
	c.closeEngine(eng)
}

func (c *Channel) open() (eng Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked while opening: %v", r)
		}
	}()
	return c.factory(context.Background(), c.logger)
}

// loop serves requests until stop. It returns a fault when the engine panics.
func (c *Channel) loop(eng Engine) (fault error) {
	var current *request

	defer func() {
		if r := recover(); r != nil {
			fault = pkgerrors.Wrap(fmt.Errorf("engine panic: %v", r), pkgerrors.CodeChannelFault, "embedded engine crashed")
			if current != nil {
				current.reply <- reply{err: fault}
			}
		}
	}()

	for {
		select {
		case <-c.stop:
			return nil
		case req := <-c.requests:
			current = req
			req.reply <- reply{outcome: c.execute(eng, req.text)}
			current = nil
		}
	}
}

func (c *Channel) execute(eng Engine, text string) models.Outcome {
	// Queries run to completion: the caller's context only bounds its own wait.
	results, err := eng.Run(context.Background(), text)
	if err != nil {
		return models.NewError(err.Error(), err)
	}
	return models.NewResult(results)
}

func (c *Channel) closeEngine(eng Engine) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn().Interface("panic", r).Msg("Engine panicked while closing")
		}
	}()
	if err := eng.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close engine")
	}
}
