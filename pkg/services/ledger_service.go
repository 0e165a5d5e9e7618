package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/repositories"
)

// Capability codes checked against the permission collaborator.
const (
	CapabilityLedgerRead     = "ledger.read"
	CapabilityLedgerRollback = "ledger.rollback"
)

// UpdateCapability returns the entity-type-specific update capability code.
func UpdateCapability(entityType string) string {
	return entityType + ".update"
}

// ReadCapability returns the entity-type-specific read capability code.
func ReadCapability(entityType string) string {
	return entityType + ".read"
}

// AccessChecker is the consumed permission collaborator. Implementations
// answer whether the context's actor holds a capability.
type AccessChecker interface {
	ActorCan(ctx context.Context, capability string) bool
}

// LedgerService provides read access to the change ledger.
type LedgerService interface {
	// List returns ledger entries matching the filter, newest first.
	List(ctx context.Context, projectID uuid.UUID, filter models.LedgerFilter, page models.Page) ([]*models.LedgerEntry, error)

	// Get returns a single ledger entry.
	Get(ctx context.Context, projectID, id uuid.UUID) (*models.LedgerEntry, error)
}

type ledgerService struct {
	repo   repositories.LedgerRepository
	access AccessChecker
	logger *zap.Logger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(repo repositories.LedgerRepository, access AccessChecker, logger *zap.Logger) LedgerService {
	return &ledgerService{
		repo:   repo,
		access: access,
		logger: logger.Named("ledger-service"),
	}
}

var _ LedgerService = (*ledgerService)(nil)

func (s *ledgerService) List(ctx context.Context, projectID uuid.UUID, filter models.LedgerFilter, page models.Page) ([]*models.LedgerEntry, error) {
	if !s.access.ActorCan(ctx, CapabilityLedgerRead) {
		return nil, fmt.Errorf("list ledger entries: %w", apperrors.ErrForbidden)
	}

	entries, err := s.repo.List(ctx, projectID, filter, page)
	if err != nil {
		s.logger.Error("Failed to list ledger entries",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

func (s *ledgerService) Get(ctx context.Context, projectID, id uuid.UUID) (*models.LedgerEntry, error) {
	if !s.access.ActorCan(ctx, CapabilityLedgerRead) {
		return nil, fmt.Errorf("get ledger entry: %w", apperrors.ErrForbidden)
	}

	entry, err := s.repo.GetByID(ctx, projectID, id)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}
