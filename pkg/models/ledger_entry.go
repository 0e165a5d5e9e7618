// Package models contains domain types for ledger-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent represents the kind of lifecycle transition a ledger entry records.
const (
	LedgerEventCreate = "create"
	LedgerEventUpdate = "update"
	LedgerEventDelete = "delete"
)

// Attributes is a canonical attribute mapping (key -> normalized value)
// as produced by snapshot.Normalize. Stored as JSONB.
type Attributes map[string]any

// MediaRefs maps media field names to lists of opaque file-reference
// identifiers. The engine never touches file bytes.
type MediaRefs map[string][]string

// LedgerEntry is one immutable record of a single entity's state transition.
// Stored in engine_ledger_entries. Entries are never updated or deleted;
// corrections are expressed as new entries.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`

	// Polymorphic entity reference. No foreign key: the set of auditable
	// entity types is open-ended.
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`

	Event string `json:"event"` // 'create', 'update', 'delete'

	// Version is unique and gapless per (project, entity_type, entity_id),
	// strictly increasing, starting at 1.
	Version int64 `json:"version"`

	Before Attributes `json:"before,omitempty"` // nil for create
	After  Attributes `json:"after,omitempty"`  // nil for delete

	// ChangedFields is the sorted set of attribute names that differ between
	// Before and After. Empty for create; full Before key set for delete.
	ChangedFields []string `json:"changed_fields,omitempty"`

	MediaBefore MediaRefs `json:"media_before,omitempty"`
	MediaAfter  MediaRefs `json:"media_after,omitempty"`

	// Who/what caused the change. Nil for system-initiated events.
	ActorType *string `json:"actor_type,omitempty"`
	ActorID   *string `json:"actor_id,omitempty"`

	// BatchID correlates entries written as one logical operation.
	BatchID *uuid.UUID `json:"batch_id,omitempty"`

	// RolledBackFromID references the entry this entry reverses. Present
	// only on rollback-produced entries.
	RolledBackFromID *uuid.UUID `json:"rolled_back_from_id,omitempty"`

	// SchemaSignature fingerprints the entity type's tracked-field set at
	// write time. Compared at rollback time to detect drift.
	SchemaSignature string `json:"schema_signature"`

	Meta map[string]string `json:"meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasScalarChanges reports whether the entry records any scalar attribute
// change. Create and delete entries always do.
func (e *LedgerEntry) HasScalarChanges() bool {
	return e.Event != LedgerEventUpdate || len(e.ChangedFields) > 0
}

// LedgerFilter narrows a ledger listing. Zero values mean "no constraint".
type LedgerFilter struct {
	EntityType    string
	EntityID      string
	Event         string
	ActorType     string
	ActorID       string
	BatchID       *uuid.UUID
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Page describes offset pagination for ledger listings, newest first.
type Page struct {
	Number  int
	PerPage int
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	n := p.Number
	if n < 1 {
		n = 1
	}
	return (n - 1) * p.Limit()
}

// Limit returns the row limit for the page.
func (p Page) Limit() int {
	if p.PerPage < 1 {
		return 50
	}
	return p.PerPage
}
