package sync

import (
	"context"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/gateway"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/sync/conflict"
)

// HealthStatus classifies a user's recent sync success rate.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health thresholds on the success rate.
const (
	healthyRate  = 0.9
	degradedRate = 0.7
)

// SyncHealth summarizes a user's recent syncs.
type SyncHealth struct {
	Status         HealthStatus `json:"status"`
	SuccessRate    float64      `json:"success_rate"`
	PendingRetries int          `json:"pending_retries"`
	Total          int          `json:"total"`
}

// ClassifyHealth maps a success rate to a HealthStatus.
func ClassifyHealth(rate float64) HealthStatus {
	switch {
	case rate >= healthyRate:
		return HealthHealthy
	case rate >= degradedRate:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// GetSyncHealth computes the success rate over the user's most recently
// updated statuses. Pending and in-progress statuses are not counted.
func (m *Manager) GetSyncHealth(ctx context.Context, userID string) (*SyncHealth, error) {
	if userID == "" {
		return nil, errors.New(errors.ErrInvalid, "health needs a user")
	}

	statuses, err := m.repo.ListRecentSyncStatuses(ctx, userID, m.config.HealthWindow)
	if err != nil {
		return nil, err
	}
	pending, err := m.retries.PendingCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var total, succeeded int
	for _, s := range statuses {
		switch {
		case s.Status.Succeeded():
			succeeded++
			total++
		case s.Status == models.StatusFailed:
			total++
		}
	}

	h := &SyncHealth{SuccessRate: 1.0, PendingRetries: pending, Total: total}
	if total > 0 {
		h.SuccessRate = float64(succeeded) / float64(total)
	}
	h.Status = ClassifyHealth(h.SuccessRate)
	return h, nil
}

// ProcessRetries re-runs every retry task that is due and returns how many
// were consumed. Each task is removed before its sync runs, so a failing
// sync schedules a fresh task rather than re-running the old one.
func (m *Manager) ProcessRetries(ctx context.Context) (int, error) {
	tasks, err := m.retries.Due(ctx, m.clock.Now())
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		ok, err := m.retries.Consume(ctx, task.ID)
		if err != nil {
			return processed, err
		}
		if !ok {
			// consumed by another pass
			continue
		}
		processed++

		fields := map[string]interface{}{
			"user_id":     task.UserID,
			"resource_id": task.ResourceID,
			"attempt":     task.Attempt,
		}
		logging.Info("Running sync retry", fields)

		// The task is consumed, so the sync runs to completion even if ctx
		// is cancelled meanwhile; the next task is not started.
		_, err = m.SyncResource(context.WithoutCancel(ctx), SyncRequest{
			UserID:     task.UserID,
			ResourceID: task.ResourceID,
			Direction:  task.Direction,
			Strategy:   conflict.Strategy(task.ConflictStrategy),
			Priority:   gateway.PriorityBackground,
		})
		if err != nil {
			logging.Warn("Sync retry failed",
				map[string]interface{}{
					"user_id":     task.UserID,
					"resource_id": task.ResourceID,
					"attempt":     task.Attempt,
					"error":       err.Error(),
				})
		}
	}
	return processed, nil
}
