package services

import (
	"github.com/ekaya-inc/ledger-engine/pkg/config"
	"github.com/ekaya-inc/ledger-engine/pkg/snapshot"
)

// defaultExcludedFields are housekeeping columns no entity type audits.
var defaultExcludedFields = []string{"created_at", "updated_at"}

// Registry resolves per-entity-type audit policy: which attributes are
// excluded from snapshots, which lifecycle events are captured, and whether
// and how rollback applies. Built once from configuration at startup; an
// entity type absent from the registry is not audited at all.
type Registry struct {
	types map[string]config.EntityTypeConfig
}

// NewRegistry creates a Registry from the configured entity type map.
func NewRegistry(types map[string]config.EntityTypeConfig) *Registry {
	if types == nil {
		types = map[string]config.EntityTypeConfig{}
	}
	return &Registry{types: types}
}

// Lookup returns the audit policy for an entity type.
func (r *Registry) Lookup(entityType string) (config.EntityTypeConfig, bool) {
	cfg, ok := r.types[entityType]
	return cfg, ok
}

// Excluded returns the excluded-field set for an entity type, always
// including the housekeeping defaults.
func (r *Registry) Excluded(entityType string) map[string]bool {
	excluded := make(map[string]bool, len(defaultExcludedFields))
	for _, f := range defaultExcludedFields {
		excluded[f] = true
	}
	if cfg, ok := r.types[entityType]; ok {
		for _, f := range cfg.ExcludedFields {
			excluded[f] = true
		}
	}
	return excluded
}

// Captures reports whether the given lifecycle event is recorded for the
// entity type. Types may opt out of specific event kinds.
func (r *Registry) Captures(entityType, event string) bool {
	cfg, ok := r.types[entityType]
	if !ok {
		return false
	}
	if len(cfg.CapturedEvents) == 0 {
		return true
	}
	for _, e := range cfg.CapturedEvents {
		if e == event {
			return true
		}
	}
	return false
}

// Signature returns the current schema signature for an entity type's
// tracked-field set.
func (r *Registry) Signature(entityType string) string {
	cfg, ok := r.types[entityType]
	if !ok {
		return ""
	}
	return snapshot.Signature(entityType, cfg.TrackedFields)
}

// RollbackFields returns which attributes a rollback restores for the type.
// An empty configured list means all tracked fields.
func (r *Registry) RollbackFields(entityType string) []string {
	cfg, ok := r.types[entityType]
	if !ok {
		return nil
	}
	if len(cfg.RollbackFields) > 0 {
		return cfg.RollbackFields
	}
	return cfg.TrackedFields
}
