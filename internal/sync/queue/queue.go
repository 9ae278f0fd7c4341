// Package queue persists deferred sync retries and runs them periodically.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/clock"
	"github.com/kimhsiao/pagesync/backend/internal/db"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/uuid"
)

// RetryQueue stores RetryTasks in the sync_retries table.
type RetryQueue struct {
	store db.Store
	clock clock.Clock
}

// NewRetryQueue creates a RetryQueue. A nil clock uses the system clock.
func NewRetryQueue(store db.Store, clk clock.Clock) *RetryQueue {
	if clk == nil {
		clk = clock.New()
	}
	return &RetryQueue{store: store, clock: clk}
}

// Schedule persists task, assigning an ID and creation time when unset.
func (q *RetryQueue) Schedule(ctx context.Context, task *models.RetryTask) error {
	if task.UserID == "" || task.ResourceID == "" {
		return errors.New(errors.ErrInvalid, "retry task needs a user and a resource")
	}
	if task.Attempt <= 0 {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid retry attempt %d", task.Attempt))
	}
	if task.ID == "" {
		task.ID = models.UUID(uuid.New())
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = models.Millis(q.clock.Now())
	}

	if err := q.store.Insert(ctx, db.TableSyncRetries, task.ToRecord()); err != nil {
		return err
	}

	logging.Info("Retry scheduled",
		map[string]interface{}{
			"user_id":      task.UserID,
			"resource_id":  task.ResourceID,
			"attempt":      task.Attempt,
			"scheduled_at": task.ScheduledTime().Format(time.RFC3339),
		})
	return nil
}

// Due returns the tasks scheduled at or before now, oldest first.
func (q *RetryQueue) Due(ctx context.Context, now time.Time) ([]*models.RetryTask, error) {
	return q.list(ctx, db.Query{
		Where:   []db.Cond{db.Lte("scheduled_at", models.Millis(now))},
		OrderBy: "scheduled_at",
	})
}

// Consume deletes the task with id. It reports false when another pass
// already consumed it.
func (q *RetryQueue) Consume(ctx context.Context, id models.UUID) (bool, error) {
	n, err := q.store.Delete(ctx, db.TableSyncRetries, []db.Cond{db.Eq("id", string(id))})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PendingCount returns the number of queued tasks for userID.
func (q *RetryQueue) PendingCount(ctx context.Context, userID string) (int, error) {
	tasks, err := q.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// List returns every queued task for userID in schedule order.
func (q *RetryQueue) List(ctx context.Context, userID string) ([]*models.RetryTask, error) {
	return q.list(ctx, db.Query{
		Where:   []db.Cond{db.Eq("user_id", userID)},
		OrderBy: "scheduled_at",
	})
}

func (q *RetryQueue) list(ctx context.Context, query db.Query) ([]*models.RetryTask, error) {
	rows, err := q.store.Get(ctx, db.TableSyncRetries, query)
	if err != nil {
		return nil, err
	}
	tasks := make([]*models.RetryTask, 0, len(rows))
	for _, rec := range rows {
		tasks = append(tasks, models.RetryTaskFromRecord(rec))
	}
	return tasks, nil
}
