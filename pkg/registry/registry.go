// Package registry maps session keys to instances.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/quire/pkg/channel"
	pkgerrors "github.com/TFMV/quire/pkg/errors"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
	"github.com/TFMV/quire/pkg/instance"
)

// Key identifies a session.
type Key string

// Session addressing modes.
const (
	// ModePerDocument keys instances by document identity.
	ModePerDocument = "per-document"
	// ModeShared routes every key to one process-wide instance.
	ModeShared = "shared"
)

// SharedKey is the key every session resolves to in shared mode.
const SharedKey Key = "shared"

// Config selects the addressing mode and the channel factory. Both are fixed
// for the registry's lifetime.
type Config struct {
	Mode    string
	Factory channel.Factory
}

// Registry owns the instances. The map is guarded by a single mutex.
type Registry struct {
	mode    string
	factory channel.Factory
	logger  zerolog.Logger
	metrics metrics.Collector

	mu        sync.Mutex
	instances map[Key]*instance.Instance
	closed    bool
}

// New creates an empty registry.
func New(cfg Config, collector metrics.Collector, logger zerolog.Logger) *Registry {
	if cfg.Mode == "" {
		cfg.Mode = ModePerDocument
	}
	return &Registry{
		mode:      cfg.Mode,
		factory:   cfg.Factory,
		logger:    logger.With().Str("component", "registry").Str("mode", cfg.Mode).Logger(),
		metrics:   metrics.OrNoOp(collector),
		instances: make(map[Key]*instance.Instance),
	}
}

// Mode returns the addressing mode.
func (r *Registry) Mode() string { return r.mode }

// Resolve maps a caller key to the registry key.
func (r *Registry) Resolve(key Key) Key {
	if r.mode == ModeShared {
		return SharedKey
	}
	return key
}

// GetOrCreate returns the instance for key, creating and starting one when
// the key is unseen. It fails with ErrRegistryClosed after Close.
func (r *Registry) GetOrCreate(ctx context.Context, key Key) (*instance.Instance, error) {
	key = r.Resolve(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, pkgerrors.ErrRegistryClosed
	}
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	inst, err := r.start(ctx, key)
	if err != nil {
		return nil, err
	}
	r.instances[key] = inst
	r.recordLive()

	r.logger.Info().Str("key", string(key)).Str("instance", inst.ID()).Msg("Created instance")
	return inst, nil
}

// Replace swaps the instance for key with a fresh one and disposes the old
// one. The new instance is started before Replace returns.
func (r *Registry) Replace(ctx context.Context, key Key) (*instance.Instance, error) {
	key = r.Resolve(key)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, pkgerrors.ErrRegistryClosed
	}
	old := r.instances[key]
	inst, err := r.start(ctx, key)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.instances[key] = inst
	r.recordLive()
	r.mu.Unlock()

	if old != nil {
		old.Dispose()
	}

	r.logger.Info().Str("key", string(key)).Str("instance", inst.ID()).Msg("Replaced instance")
	return inst, nil
}

// Remove disposes the instance for key. Reports whether one existed.
func (r *Registry) Remove(key Key) bool {
	key = r.Resolve(key)

	r.mu.Lock()
	inst, ok := r.instances[key]
	if ok {
		delete(r.instances, key)
		r.recordLive()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	inst.Dispose()
	r.logger.Info().Str("key", string(key)).Msg("Removed instance")
	return true
}

// ResetAll disposes every instance in parallel. Later calls create fresh
// instances.
func (r *Registry) ResetAll(ctx context.Context) error {
	return r.reset(ctx, false)
}

// Close disposes every instance and rejects later use. Idempotent.
func (r *Registry) Close(ctx context.Context) error {
	return r.reset(ctx, true)
}

func (r *Registry) reset(ctx context.Context, closing bool) error {
	r.mu.Lock()
	if closing {
		r.closed = true
	}
	victims := r.instances
	r.instances = make(map[Key]*instance.Instance)
	r.recordLive()
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for key, inst := range victims {
		g.Go(func() error {
			inst.Dispose()
			r.logger.Debug().Str("key", string(key)).Msg("Disposed instance")
			return ctx.Err()
		})
	}
	err := g.Wait()

	r.logger.Info().
		Int("disposed", len(victims)).
		Bool("closed", closing).
		Msg("Reset instances")
	return err
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Keys returns the live keys in sorted order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.instances))
	for k := range r.instances {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Stats returns a snapshot of every live instance, ordered by key.
func (r *Registry) Stats() []instance.Stats {
	r.mu.Lock()
	insts := make([]*instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		insts = append(insts, inst)
	}
	r.mu.Unlock()

	stats := make([]instance.Stats, 0, len(insts))
	for _, inst := range insts {
		stats = append(stats, inst.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

// start must be called with mu held.
func (r *Registry) start(ctx context.Context, key Key) (*instance.Instance, error) {
	inst := instance.New(string(key), r.factory, r.metrics, r.logger)
	if err := inst.Start(ctx); err != nil {
		inst.Dispose()
		return nil, pkgerrors.Wrapf(err, pkgerrors.CodeUnavailable, "failed to start instance for %q", key)
	}
	return inst, nil
}

// recordLive must be called with mu held.
func (r *Registry) recordLive() {
	r.metrics.RecordGauge(metrics.LiveInstances, float64(len(r.instances)))
}
