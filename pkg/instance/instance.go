// Package instance supervises one backend channel: it tracks readiness,
// replaces the channel after a boundary fault and numbers each channel with a
// strictly increasing generation.
package instance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TFMV/quire/pkg/channel"
	pkgerrors "github.com/TFMV/quire/pkg/errors"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
	"github.com/TFMV/quire/pkg/models"
)

// State is the lifecycle state of an Instance.
type State int

const (
	// StateStarting means the current channel is not ready yet; calls wait.
	StateStarting State = iota
	// StateReady means calls are forwarded immediately.
	StateReady
	// StateFaulted is held while a faulted channel is being replaced.
	StateFaulted
	// StateUnavailable means the current channel will never serve queries.
	// Calls still complete, each with an Error outcome.
	StateUnavailable
	// StateDisposed is terminal.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	case StateUnavailable:
		return "unavailable"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// generation is one channel and the number it was started under.
type generation struct {
	n        uint64
	ch       channel.Channel
	retired  chan struct{}
	launched sync.Once
}

// Stats is a snapshot of an Instance.
type Stats struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Backend    string    `json:"backend"`
	State      string    `json:"state"`
	Generation uint64    `json:"generation"`
	Restarts   int       `json:"restarts"`
	Created    time.Time `json:"created"`
}

// Instance owns exactly one live channel at a time.
type Instance struct {
	id      string
	key     string
	factory channel.Factory
	logger  zerolog.Logger
	metrics metrics.Collector
	created time.Time

	mu       sync.Mutex
	state    State
	current  *generation
	restarts int
	started  bool

	watchers sync.WaitGroup
}

// New creates an Instance for key. Nothing runs until Start.
func New(key string, factory channel.Factory, collector metrics.Collector, logger zerolog.Logger) *Instance {
	id := uuid.NewString()
	return &Instance{
		id:      id,
		key:     key,
		factory: factory,
		logger: logger.With().
			Str("component", "instance").
			Str("instance", id).
			Str("key", key).
			Logger(),
		metrics: metrics.OrNoOp(collector),
		created: time.Now(),
		state:   StateStarting,
	}
}

// ID returns the instance's unique id.
func (i *Instance) ID() string { return i.id }

// Key returns the session key the instance serves.
func (i *Instance) Key() string { return i.key }

// Start launches the first channel. Calling it again is a no-op.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.state == StateDisposed {
		i.mu.Unlock()
		return pkgerrors.ErrDisposed
	}
	if i.started {
		i.mu.Unlock()
		return nil
	}
	i.started = true
	g := &generation{n: 1, ch: i.factory(), retired: make(chan struct{})}
	i.current = g
	i.mu.Unlock()

	return i.launch(ctx, g)
}

// launch starts g's channel once, unless g was retired before anyone needed it.
func (i *Instance) launch(ctx context.Context, g *generation) error {
	var err error
	g.launched.Do(func() {
		i.mu.Lock()
		if i.state == StateDisposed || i.current != g {
			i.mu.Unlock()
			return
		}
		i.watchers.Add(1)
		i.mu.Unlock()

		i.logger.Debug().
			Uint64("generation", g.n).
			Str("backend", g.ch.Kind()).
			Msg("Starting channel")

		go i.watch(g)
		if err = g.ch.Start(ctx); err != nil {
			g.ch.Ready().Reject(err)
		}
	})
	return err
}

// watch tracks readiness of g and hands a published fault to handleFault.
func (i *Instance) watch(g *generation) {
	defer i.watchers.Done()

	select {
	case <-g.ch.Ready().Done():
		_, err := g.ch.Ready().Settled()
		i.mu.Lock()
		if i.current == g && i.state == StateStarting {
			if err == nil {
				i.state = StateReady
			} else {
				i.state = StateUnavailable
			}
		}
		i.mu.Unlock()

		if err != nil {
			i.logger.Warn().Err(err).Uint64("generation", g.n).Msg("Channel failed to become ready")
		} else {
			i.logger.Debug().Uint64("generation", g.n).Msg("Channel ready")
		}
	case <-g.retired:
		return
	}

	select {
	case err := <-g.ch.Faults():
		i.handleFault(g.n, err)
	case <-g.retired:
	}
}

// Run forwards text to the current channel. Query errors are Error outcomes;
// a non-nil error is a fault, disposal or an abandoned wait.
func (i *Instance) Run(ctx context.Context, text string) (models.Outcome, error) {
	i.mu.Lock()
	if i.state == StateDisposed {
		i.mu.Unlock()
		return models.Outcome{}, pkgerrors.ErrDisposed
	}
	if !i.started {
		i.mu.Unlock()
		return models.Outcome{}, pkgerrors.ErrNotReady
	}
	g := i.current
	i.mu.Unlock()

	if err := i.launch(context.Background(), g); err != nil {
		i.logger.Error().Err(err).Uint64("generation", g.n).Msg("Failed to start channel")
	}
	out, err := g.ch.RunSQL(ctx, text)
	switch {
	case err == nil:
		if i.Generation() != g.n {
			// The channel was replaced under this call; its answer is stale.
			i.logger.Debug().Uint64("generation", g.n).Msg("Dropping stale response")
			return models.Outcome{}, pkgerrors.Fault(nil, g.n)
		}
		return out, nil

	case pkgerrors.IsFault(err):
		i.handleFault(g.n, err)
		return models.Outcome{}, pkgerrors.Fault(err, g.n)

	case ctx.Err() != nil:
		return models.Outcome{}, err

	default:
		i.mu.Lock()
		disposed := i.state == StateDisposed
		i.mu.Unlock()
		if disposed {
			return models.Outcome{}, pkgerrors.ErrDisposed
		}
		// Terminated by a restart triggered elsewhere.
		return models.Outcome{}, pkgerrors.Fault(err, g.n)
	}
}

// handleFault replaces the channel of generation gen. Faults of any other
// generation are stale and ignored. Reports whether a restart happened.
//
// The replacement starts on its first use, so an owner that disposes the
// instance right after a fault never pays for a backend it will not use.
func (i *Instance) handleFault(gen uint64, cause error) bool {
	i.mu.Lock()
	if i.state == StateDisposed || i.current == nil || i.current.n != gen {
		i.mu.Unlock()
		i.logger.Debug().Uint64("generation", gen).Msg("Ignoring stale fault")
		return false
	}

	old := i.current
	next := &generation{n: gen + 1, ch: i.factory(), retired: make(chan struct{})}
	i.state = StateFaulted
	i.current = next
	i.restarts++
	i.mu.Unlock()

	i.logger.Error().
		Err(cause).
		Uint64("generation", gen).
		Uint64("next_generation", next.n).
		Msg("Channel fault, restarting")
	i.metrics.IncrementCounter(metrics.ChannelFaultsTotal, "backend", old.ch.Kind())
	i.metrics.IncrementCounter(metrics.InstanceRestartsTotal)

	// The old channel is gone before the new one starts.
	close(old.retired)
	old.ch.Terminate()

	i.mu.Lock()
	if i.state != StateDisposed && i.current == next {
		i.state = StateStarting
	}
	i.mu.Unlock()
	return true
}

// Dispose terminates the channel. Queued and later calls fail with
// ErrDisposed. Idempotent.
func (i *Instance) Dispose() {
	i.mu.Lock()
	if i.state == StateDisposed {
		i.mu.Unlock()
		return
	}
	i.state = StateDisposed
	g := i.current
	i.mu.Unlock()

	if g != nil {
		close(g.retired)
		g.ch.Terminate()
	}
	i.watchers.Wait()

	i.logger.Debug().Msg("Instance disposed")
}

// WaitReady blocks until the current channel is ready or ctx is done.
func (i *Instance) WaitReady(ctx context.Context) error {
	i.mu.Lock()
	if i.state == StateDisposed {
		i.mu.Unlock()
		return pkgerrors.ErrDisposed
	}
	g := i.current
	i.mu.Unlock()

	if g == nil {
		return pkgerrors.ErrNotReady
	}
	if err := i.launch(context.Background(), g); err != nil {
		return err
	}
	return g.ch.Ready().Wait(ctx)
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stateLocked()
}

// stateLocked reports a ready channel that has since given up as unavailable.
func (i *Instance) stateLocked() State {
	if i.state != StateReady || i.current == nil {
		return i.state
	}
	if a, ok := i.current.ch.(channel.Availability); ok && a.Unavailable() != nil {
		return StateUnavailable
	}
	return i.state
}

// Generation returns the generation of the current channel, 0 before Start.
func (i *Instance) Generation() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return 0
	}
	return i.current.n
}

// Stats returns a snapshot of the instance.
func (i *Instance) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()

	s := Stats{
		ID:       i.id,
		Key:      i.key,
		State:    i.stateLocked().String(),
		Restarts: i.restarts,
		Created:  i.created,
	}
	if i.current != nil {
		s.Generation = i.current.n
		s.Backend = i.current.ch.Kind()
	}
	return s
}
