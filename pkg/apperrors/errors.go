package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrUnsupportedEntityType = errors.New("entity type does not support rollback")
	ErrEmptyDiff             = errors.New("no tracked fields changed")
	ErrLockTimeout           = errors.New("entity lock acquisition timed out")
)

// SchemaDriftError reports a mismatch between the tracked-field set recorded
// when a ledger entry was written and the entity type's current tracked-field
// set. Rollback to a stale shape is refused rather than attempted.
type SchemaDriftError struct {
	EntityType    string
	MissingFields []string // tracked at entry time, gone now
	ExtraFields   []string // tracked now, absent at entry time
}

func (e *SchemaDriftError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, fmt.Sprintf("fields no longer tracked: %s", strings.Join(e.MissingFields, ", ")))
	}
	if len(e.ExtraFields) > 0 {
		parts = append(parts, fmt.Sprintf("fields added since entry: %s", strings.Join(e.ExtraFields, ", ")))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("tracked-field set for %q changed since entry was written", e.EntityType)
	}
	return fmt.Sprintf("tracked-field set for %q changed since entry was written (%s)", e.EntityType, strings.Join(parts, "; "))
}

// StateConflictError reports that the entity's current existence does not
// match what the requested rollback expects (e.g. undeleting an entity that
// already exists again).
type StateConflictError struct {
	EntityType string
	EntityID   string
	Exists     bool // current state
	WantExists bool // what the rollback requires
}

func (e *StateConflictError) Error() string {
	if e.WantExists {
		return fmt.Sprintf("%s %s no longer exists; cannot roll back to a prior state", e.EntityType, e.EntityID)
	}
	return fmt.Sprintf("%s %s already exists; cannot undelete over a live entity", e.EntityType, e.EntityID)
}
