package models

import (
	"context"

	"github.com/google/uuid"
)

// ActorContext carries the identity of whoever is performing the current
// operation, plus an optional batch id grouping related writes. Actor fields
// are nil for system-initiated changes (imports, scheduled jobs).
type ActorContext struct {
	ActorType *string
	ActorID   *string

	// BatchID is shared by all ledger entries written as part of one
	// logical operation (e.g. a cascading update).
	BatchID *uuid.UUID
}

type actorKey struct{}

// WithActor returns a new context with actor information attached.
func WithActor(ctx context.Context, a ActorContext) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// GetActor retrieves actor information from the context. Returns a zero
// value and false if not present; callers treat that as a system actor.
func GetActor(ctx context.Context) (ActorContext, bool) {
	a, ok := ctx.Value(actorKey{}).(ActorContext)
	return a, ok
}

// WithUserActor returns a context with a user actor set. Use this for HTTP
// handlers serving authenticated requests.
func WithUserActor(ctx context.Context, userID string) context.Context {
	t := "user"
	return WithActor(ctx, ActorContext{ActorType: &t, ActorID: &userID})
}

// WithBatch returns a context whose actor carries the given batch id,
// preserving any actor identity already present.
func WithBatch(ctx context.Context, batchID uuid.UUID) context.Context {
	a, _ := GetActor(ctx)
	a.BatchID = &batchID
	return WithActor(ctx, a)
}

type rollbackKey struct{}

// WithRollbackProvenance marks the context as executing a rollback of the
// given ledger entry. The capture pipeline stamps the resulting entry's
// RolledBackFromID from this marker.
func WithRollbackProvenance(ctx context.Context, entryID uuid.UUID) context.Context {
	return context.WithValue(ctx, rollbackKey{}, entryID)
}

// GetRollbackProvenance retrieves the rollback marker from the context.
func GetRollbackProvenance(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(rollbackKey{}).(uuid.UUID)
	return id, ok
}
