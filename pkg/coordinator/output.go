package coordinator

import (
	"time"

	"github.com/TFMV/quire/pkg/models"
)

// Kind tags an Output.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Output is what a notebook cell displays after execution.
//
// A success Payload is a single models.ResultSet when the query held exactly
// one statement, otherwise a []models.ResultSet (possibly empty). The preamble's
// result is never part of it.
type Output struct {
	Kind           Kind      `json:"kind"`
	Payload        any       `json:"payload,omitempty"`
	Message        string    `json:"message,omitempty"`
	ExecutionOrder int64     `json:"execution_order"`
	Started        time.Time `json:"started"`
	Ended          time.Time `json:"ended"`
}

// IsError reports whether the output is an error.
func (o Output) IsError() bool { return o.Kind == KindError }

// Duration returns how long the cell ran.
func (o Output) Duration() time.Duration { return o.Ended.Sub(o.Started) }

// ResultSets returns the payload as a slice regardless of unwrapping.
func (o Output) ResultSets() []models.ResultSet {
	switch p := o.Payload.(type) {
	case models.ResultSet:
		return []models.ResultSet{p}
	case []models.ResultSet:
		return p
	default:
		return nil
	}
}

// payloadOf drops the preamble's result and unwraps a lone remaining set.
func payloadOf(results []models.ResultSet) any {
	if len(results) > 0 {
		results = results[1:]
	}
	if len(results) == 1 {
		return results[0]
	}
	if results == nil {
		results = []models.ResultSet{}
	}
	return results
}
