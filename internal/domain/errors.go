package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is the sentinel for single-row lookups that matched nothing.
// Structured variants below carry the offending kind and token so the CLI
// can render an actionable message.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a token that matched no entity of the given kind.
type NotFoundError struct {
	Kind  EntityKind
	Token string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Token)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// AmbiguousError reports a token that matched more than one entity. The
// caller must surface the candidates and refuse to act.
type AmbiguousError struct {
	Kind       EntityKind
	Token      string
	Candidates []EntityRef
}

func (e AmbiguousError) Error() string {
	refs := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		refs[i] = c.Ref()
	}
	return fmt.Sprintf("%s %q is ambiguous: matches %s", e.Kind, e.Token, strings.Join(refs, ", "))
}

// CycleError reports a dependency edge that would close a cycle.
type CycleError struct {
	ItemID      string
	DependsOnID string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.ItemID, e.DependsOnID)
}

// TransitionError reports a disallowed work item status transition.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// AlreadyAssignedError reports a claim on an item that a different worker
// holds.
type AlreadyAssignedError struct {
	ItemID   string
	WorkerID string
}

func (e AlreadyAssignedError) Error() string {
	return fmt.Sprintf("item %s already assigned to worker %s", e.ItemID, e.WorkerID)
}

// ConstraintError reports a referential-integrity or uniqueness violation.
type ConstraintError struct {
	Reason string
}

func (e ConstraintError) Error() string { return e.Reason }

// MigrationError reports a migration that failed to apply. The whole run is
// rolled back, so the recorded schema version is unchanged.
type MigrationError struct {
	Version int
	Err     error
}

func (e MigrationError) Error() string {
	return fmt.Sprintf("migration %d failed: %v", e.Version, e.Err)
}

func (e MigrationError) Unwrap() error { return e.Err }

// BatchError wraps the first failure inside a batch operation with the index
// and id that caused it. Nothing in the batch is applied.
type BatchError struct {
	Index int
	ID    string
	Err   error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch failed at index %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e BatchError) Unwrap() error { return e.Err }
