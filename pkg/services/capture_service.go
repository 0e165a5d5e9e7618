package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/repositories"
	"github.com/ekaya-inc/ledger-engine/pkg/snapshot"
)

// Capture holds the normalized pre-mutation state of one in-flight entity
// operation. The entity write path takes a snapshot before applying its
// mutation and hands it back to Record afterwards, so no global state keys
// in-flight operations.
type Capture struct {
	projectID   uuid.UUID
	entityType  string
	entityID    string
	before      models.Attributes
	mediaBefore models.MediaRefs
	existed     bool
}

// CaptureService orchestrates normalization, diffing, version allocation and
// ledger writes around entity lifecycle transitions. It is the integration
// point every auditable entity type plugs into.
type CaptureService interface {
	// Snapshot normalizes an entity's current state before a mutation.
	Snapshot(projectID uuid.UUID, entityType, entityID string, attrs map[string]any, media models.MediaRefs) *Capture

	// SnapshotAbsent records that the entity does not exist yet. Used for
	// pending creates, where the business key may not exist yet.
	SnapshotAbsent(projectID uuid.UUID, entityType, entityID string) *Capture

	// Record finishes the capture after the mutation: it normalizes the
	// post-mutation state, diffs it against the snapshot, allocates the next
	// version and appends a ledger entry. An update whose scalar and media
	// diffs are both empty is discarded silently: no entry, no version.
	// Record must run inside the same transaction as the entity mutation.
	// Returns nil without error when nothing was recorded.
	Record(ctx context.Context, cap *Capture, event string, after map[string]any, mediaAfter models.MediaRefs) (*models.LedgerEntry, error)
}

type captureService struct {
	registry  *Registry
	allocator repositories.VersionAllocator
	ledger    repositories.LedgerRepository
	logger    *zap.Logger
}

// NewCaptureService creates a new CaptureService.
func NewCaptureService(registry *Registry, allocator repositories.VersionAllocator, ledger repositories.LedgerRepository, logger *zap.Logger) CaptureService {
	return &captureService{
		registry:  registry,
		allocator: allocator,
		ledger:    ledger,
		logger:    logger.Named("capture-service"),
	}
}

var _ CaptureService = (*captureService)(nil)

func (s *captureService) Snapshot(projectID uuid.UUID, entityType, entityID string, attrs map[string]any, media models.MediaRefs) *Capture {
	return &Capture{
		projectID:   projectID,
		entityType:  entityType,
		entityID:    entityID,
		before:      models.Attributes(snapshot.Normalize(attrs, s.registry.Excluded(entityType))),
		mediaBefore: cloneMedia(media),
		existed:     true,
	}
}

func (s *captureService) SnapshotAbsent(projectID uuid.UUID, entityType, entityID string) *Capture {
	return &Capture{
		projectID:  projectID,
		entityType: entityType,
		entityID:   entityID,
	}
}

func (s *captureService) Record(ctx context.Context, cap *Capture, event string, after map[string]any, mediaAfter models.MediaRefs) (*models.LedgerEntry, error) {
	if _, audited := s.registry.Lookup(cap.entityType); !audited || !s.registry.Captures(cap.entityType, event) {
		return nil, nil
	}

	var afterNorm models.Attributes
	if event != models.LedgerEventDelete {
		afterNorm = models.Attributes(snapshot.Normalize(after, s.registry.Excluded(cap.entityType)))
	}

	var changed []string
	switch event {
	case models.LedgerEventCreate:
		// The full after snapshot is the record; no field list is kept.
	case models.LedgerEventDelete:
		changed = snapshot.Keys(cap.before)
	case models.LedgerEventUpdate:
		changed = snapshot.Diff(cap.before, afterNorm)
		if len(changed) == 0 && snapshot.MediaEqual(cap.mediaBefore, mediaAfter) {
			// Save didn't change tracked data: no entry, no version consumed.
			s.logger.Debug("Suppressing no-op update capture",
				zap.String("entity_type", cap.entityType),
				zap.String("entity_id", cap.entityID))
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unknown ledger event %q", event)
	}

	version, err := s.allocator.NextVersion(ctx, cap.projectID, cap.entityType, cap.entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate version: %w", err)
	}

	entry := &models.LedgerEntry{
		ProjectID:       cap.projectID,
		EntityType:      cap.entityType,
		EntityID:        cap.entityID,
		Event:           event,
		Version:         version,
		Before:          cap.before,
		After:           afterNorm,
		ChangedFields:   changed,
		MediaBefore:     cap.mediaBefore,
		MediaAfter:      cloneMedia(mediaAfter),
		SchemaSignature: s.registry.Signature(cap.entityType),
	}

	if actor, ok := models.GetActor(ctx); ok {
		entry.ActorType = actor.ActorType
		entry.ActorID = actor.ActorID
		entry.BatchID = actor.BatchID
	}
	if rolledBackFrom, ok := models.GetRollbackProvenance(ctx); ok {
		entry.RolledBackFromID = &rolledBackFrom
	}

	if err := s.ledger.Append(ctx, entry); err != nil {
		// The caller's transaction rolls back with us: an entity mutation
		// without its audit trail must never commit.
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	s.logger.Info("Captured entity transition",
		zap.String("entity_type", cap.entityType),
		zap.String("entity_id", cap.entityID),
		zap.String("event", event),
		zap.Int64("version", version),
		zap.Int("changed_fields", len(changed)),
		zap.Bool("media_only", !entry.HasScalarChanges()))

	return entry, nil
}

func cloneMedia(media models.MediaRefs) models.MediaRefs {
	if media == nil {
		return nil
	}
	out := make(models.MediaRefs, len(media))
	for field, refs := range media {
		out[field] = append([]string(nil), refs...)
	}
	return out
}
