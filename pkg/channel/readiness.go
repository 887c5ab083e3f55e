package channel

import (
	"context"
	"sync"
)

// Readiness is a one-shot signal that resolves or rejects exactly once.
type Readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewReadiness creates a pending readiness signal.
func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// Resolve marks the signal ready. Returns false if it was already settled.
func (r *Readiness) Resolve() bool {
	return r.settle(nil)
}

// Reject settles the signal with err. Returns false if it was already settled.
func (r *Readiness) Reject(err error) bool {
	return r.settle(err)
}

func (r *Readiness) settle(err error) bool {
	settled := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		settled = true
	})
	return settled
}

// Done is closed once the signal is settled.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the signal settles or ctx is done.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settled reports whether the signal has resolved or rejected, and with what.
func (r *Readiness) Settled() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}
