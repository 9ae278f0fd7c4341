package db

import (
	"context"

	"github.com/kimhsiao/pagesync/backend/internal/models"
)

// SyncStatusRepository defines operations for sync status persistence.
type SyncStatusRepository interface {
	// GetSyncStatus retrieves the status of one resource.
	GetSyncStatus(ctx context.Context, userID, resourceID string) (*models.SyncStatus, error)

	// ClaimSyncStatus moves the status to in_progress unless a claim
	// updated at or after staleBefore holds it.
	ClaimSyncStatus(ctx context.Context, userID, resourceID string, direction models.Direction, now, staleBefore int64) (*models.SyncStatus, error)

	// ReleaseSyncStatus moves an in_progress status to failed.
	ReleaseSyncStatus(ctx context.Context, userID, resourceID, message string, now int64) (bool, error)

	// SaveSyncStatus writes a status back.
	SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error

	// ListRecentSyncStatuses returns a user's most recently updated statuses.
	ListRecentSyncStatuses(ctx context.Context, userID string, limit int) ([]*models.SyncStatus, error)
}

// ItemRepository defines operations for item persistence.
type ItemRepository interface {
	ListItems(ctx context.Context, userID, resourceID string) ([]*models.Item, error)
	SaveItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, id models.UUID) error
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	// CreateConflictLog creates a new conflict log entry.
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
}

// SubscriptionRepository defines operations for notification routing.
type SubscriptionRepository interface {
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	FindSubscription(ctx context.Context, workspaceID, resourceID string) (*models.Subscription, error)
}

// SyncRepository combines repositories needed for sync operations.
type SyncRepository interface {
	SyncStatusRepository
	ItemRepository
	ConflictLogRepository
	SubscriptionRepository
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ SyncStatusRepository   = (*Repository)(nil)
	_ ItemRepository         = (*Repository)(nil)
	_ ConflictLogRepository  = (*Repository)(nil)
	_ SubscriptionRepository = (*Repository)(nil)
	_ SyncRepository         = (*Repository)(nil)
)
