// Package channel defines the transport between an instance and the backend
// that actually runs queries.
package channel

import (
	"context"

	"github.com/TFMV/quire/pkg/models"
)

// Backend kinds.
const (
	BackendEmbedded = "embedded"
	BackendExternal = "external"
)

// Channel is a request/response transport to one backend.
//
// RunSQL returns an Outcome for anything the backend answered, including query
// errors. A non-nil error means the call ended without an answer: a boundary
// fault (errors.ErrChannelFault), termination (errors.ErrTerminated) or an
// abandoned wait (the context error).
type Channel interface {
	// Start launches the backend. Readiness resolves asynchronously.
	Start(ctx context.Context) error
	// Ready resolves once the backend accepts requests, or is rejected when it
	// never will.
	Ready() *Readiness
	// RunSQL submits text, prefixed with the namespace preamble.
	RunSQL(ctx context.Context, text string) (models.Outcome, error)
	// Faults delivers at most one boundary fault.
	Faults() <-chan error
	// Terminate stops the backend. Idempotent.
	Terminate()
	// Kind returns the backend kind.
	Kind() string
}

// Availability is implemented by channels that can stop serving after they
// became ready. Unavailable returns the reason, or nil while serving.
type Availability interface {
	Unavailable() error
}

// Factory creates a fresh, unstarted Channel.
type Factory func() Channel
