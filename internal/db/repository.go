package db

import (
	"context"
	"fmt"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/uuid"
)

// Repository provides typed operations for the sync tables over a Store.
type Repository struct {
	store Store
}

// NewRepository creates a new Repository instance.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying table store.
func (r *Repository) Store() Store {
	return r.store
}

// =====================================================
// SyncStatus Operations
// =====================================================

// GetSyncStatus returns the status for (userID, resourceID), or an
// ErrNotFound error.
func (r *Repository) GetSyncStatus(ctx context.Context, userID, resourceID string) (*models.SyncStatus, error) {
	rows, err := r.store.Get(ctx, TableSyncStatus, Query{
		Where: []Cond{Eq("user_id", userID), Eq("resource_id", resourceID)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New(errors.ErrNotFound,
			fmt.Sprintf("no sync status for %s/%s", userID, resourceID))
	}
	return models.SyncStatusFromRecord(rows[0]), nil
}

// ClaimSyncStatus atomically moves the status for (userID, resourceID) to
// in_progress, creating a pending record first if none exists. It fails
// with ErrSyncInProgress when another sync already holds the claim.
//
// A claim last updated before staleBefore is abandoned and may be taken
// over. A zero staleBefore never takes over a claim.
func (r *Repository) ClaimSyncStatus(ctx context.Context, userID, resourceID string, direction models.Direction, now, staleBefore int64) (*models.SyncStatus, error) {
	pending := &models.SyncStatus{
		ID:         models.UUID(uuid.New()),
		UserID:     userID,
		ResourceID: resourceID,
		Direction:  direction,
		Status:     models.StatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.Insert(ctx, TableSyncStatus, pending.ToRecord()); err != nil && !IsDuplicate(err) {
		return nil, err
	}

	claim := Record{
		"status":     string(models.StatusInProgress),
		"direction":  string(direction),
		"updated_at": now,
	}
	n, err := r.store.Update(ctx, TableSyncStatus,
		[]Cond{
			Eq("user_id", userID),
			Eq("resource_id", resourceID),
			Ne("status", string(models.StatusInProgress)),
		}, claim)
	if err != nil {
		return nil, err
	}
	if n == 0 && staleBefore > 0 {
		n, err = r.store.Update(ctx, TableSyncStatus,
			[]Cond{
				Eq("user_id", userID),
				Eq("resource_id", resourceID),
				Eq("status", string(models.StatusInProgress)),
				Lt("updated_at", staleBefore),
			}, claim)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			logging.Warn("Took over stale sync claim",
				map[string]interface{}{"user_id": userID, "resource_id": resourceID})
		}
	}
	if n == 0 {
		return nil, errors.New(errors.ErrSyncInProgress,
			fmt.Sprintf("sync already in progress for %s/%s", userID, resourceID))
	}

	return r.GetSyncStatus(ctx, userID, resourceID)
}

// ReleaseSyncStatus marks an in_progress status as failed with message.
// It reports whether a claim was released.
func (r *Repository) ReleaseSyncStatus(ctx context.Context, userID, resourceID, message string, now int64) (bool, error) {
	n, err := r.store.Update(ctx, TableSyncStatus,
		[]Cond{
			Eq("user_id", userID),
			Eq("resource_id", resourceID),
			Eq("status", string(models.StatusInProgress)),
		},
		Record{
			"status":        string(models.StatusFailed),
			"error_message": message,
			"updated_at":    now,
		})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveSyncStatus writes every mutable field of status.
func (r *Repository) SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error {
	patch := status.ToRecord()
	delete(patch, "id")
	delete(patch, "user_id")
	delete(patch, "resource_id")
	delete(patch, "created_at")

	n, err := r.store.Update(ctx, TableSyncStatus,
		[]Cond{Eq("user_id", status.UserID), Eq("resource_id", status.ResourceID)}, patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New(errors.ErrNotFound,
			fmt.Sprintf("no sync status for %s/%s", status.UserID, status.ResourceID))
	}
	return nil
}

// ListRecentSyncStatuses returns up to limit statuses for userID, most
// recently updated first.
func (r *Repository) ListRecentSyncStatuses(ctx context.Context, userID string, limit int) ([]*models.SyncStatus, error) {
	rows, err := r.store.Get(ctx, TableSyncStatus, Query{
		Where:   []Cond{Eq("user_id", userID)},
		OrderBy: "updated_at",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.SyncStatus, 0, len(rows))
	for _, rec := range rows {
		out = append(out, models.SyncStatusFromRecord(rec))
	}
	return out, nil
}

// =====================================================
// Item Operations
// =====================================================

// ListItems returns the items tied to (userID, resourceID).
func (r *Repository) ListItems(ctx context.Context, userID, resourceID string) ([]*models.Item, error) {
	rows, err := r.store.Get(ctx, TableItems, Query{
		Where:   []Cond{Eq("user_id", userID), Eq("resource_id", resourceID)},
		OrderBy: "id",
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Item, 0, len(rows))
	for _, rec := range rows {
		out = append(out, models.ItemFromRecord(rec))
	}
	return out, nil
}

// SaveItem updates the item with item.ID, inserting it when absent.
func (r *Repository) SaveItem(ctx context.Context, item *models.Item) error {
	patch := item.ToRecord()
	delete(patch, "id")

	n, err := r.store.Update(ctx, TableItems, []Cond{Eq("id", string(item.ID))}, patch)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.store.Insert(ctx, TableItems, item.ToRecord())
}

// DeleteItem removes an item by ID.
func (r *Repository) DeleteItem(ctx context.Context, id models.UUID) error {
	_, err := r.store.Delete(ctx, TableItems, []Cond{Eq("id", string(id))})
	return err
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	if log.ID == "" {
		log.ID = models.UUID(uuid.New())
	}
	return r.store.Insert(ctx, TableConflictLog, log.ToRecord())
}

// ListConflictLogs returns the conflict history of a resource, newest first.
func (r *Repository) ListConflictLogs(ctx context.Context, userID, resourceID string) ([]*models.ConflictLog, error) {
	rows, err := r.store.Get(ctx, TableConflictLog, Query{
		Where:   []Cond{Eq("user_id", userID), Eq("resource_id", resourceID)},
		OrderBy: "resolved_at",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.ConflictLog, 0, len(rows))
	for _, rec := range rows {
		out = append(out, models.ConflictLogFromRecord(rec))
	}
	return out, nil
}

// =====================================================
// Subscription Operations
// =====================================================

// SaveSubscription registers sub, replacing the user of an existing mapping.
func (r *Repository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	err := r.store.Insert(ctx, TableSubscriptions, sub.ToRecord())
	if err == nil || !IsDuplicate(err) {
		return err
	}
	_, err = r.store.Update(ctx, TableSubscriptions,
		[]Cond{Eq("workspace_id", sub.WorkspaceID), Eq("resource_id", sub.ResourceID)},
		Record{"user_id": sub.UserID})
	return err
}

// FindSubscription resolves a notification target to its subscription.
// An empty workspaceID matches any workspace. It returns an ErrNotFound
// error when nothing matches.
func (r *Repository) FindSubscription(ctx context.Context, workspaceID, resourceID string) (*models.Subscription, error) {
	where := []Cond{Eq("resource_id", resourceID)}
	if workspaceID != "" {
		where = append(where, Eq("workspace_id", workspaceID))
	}

	rows, err := r.store.Get(ctx, TableSubscriptions, Query{Where: where, OrderBy: "created_at", Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New(errors.ErrNotFound,
			fmt.Sprintf("no subscription for %s/%s", workspaceID, resourceID))
	}
	return models.SubscriptionFromRecord(rows[0]), nil
}
