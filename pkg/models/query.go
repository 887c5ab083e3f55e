// Package models provides data structures used throughout the query supervisor.
package models

import (
	"time"
)

// OutcomeKind tags an Outcome.
type OutcomeKind string

const (
	// OutcomeResult means every statement ran and produced a ResultSet.
	OutcomeResult OutcomeKind = "result"
	// OutcomeError means the backend rejected or failed the query.
	OutcomeError OutcomeKind = "error"
)

// ResultSet is the output of one top-level statement. Types holds the
// engine's column type names, parallel to Columns.
type ResultSet struct {
	Statement    string           `json:"statement"`
	Columns      []string         `json:"columns,omitempty"`
	Types        []string         `json:"types,omitempty"`
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected,omitempty"`
	Duration     time.Duration    `json:"duration"`
}

// Outcome is what a backend returns for one submitted query.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Results []ResultSet `json:"results,omitempty"`
	Message string      `json:"message,omitempty"`
	Cause   error       `json:"-"`
}

// NewResult creates a successful outcome.
func NewResult(results []ResultSet) Outcome {
	if results == nil {
		results = []ResultSet{}
	}
	return Outcome{Kind: OutcomeResult, Results: results}
}

// NewError creates an error outcome. The message is never empty.
func NewError(message string, cause error) Outcome {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	if message == "" {
		message = "query failed"
	}
	return Outcome{Kind: OutcomeError, Message: message, Cause: cause}
}

// IsError reports whether the outcome is an error.
func (o Outcome) IsError() bool {
	return o.Kind == OutcomeError
}
