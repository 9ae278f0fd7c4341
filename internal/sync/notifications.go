package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/gateway"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/models"
)

// ChangeEvent is an inbound notification that a remote resource changed.
type ChangeEvent struct {
	Type           string    `json:"type"`
	ResourceID     string    `json:"resource_id"`
	LastEditedTime time.Time `json:"last_edited_time"`
	WorkspaceID    string    `json:"workspace_id,omitempty"`
}

// AckAction tells what a change notification led to.
type AckAction string

const (
	AckNoSubscriber AckAction = "no_subscriber"
	AckEcho         AckAction = "echo"
	AckDebounced    AckAction = "debounced"
	AckTriggered    AckAction = "triggered"
	AckError        AckAction = "error"
)

// AckResult is returned for every notification; notifications are always
// acknowledged so the sender does not redeliver them.
type AckResult struct {
	Acknowledged bool      `json:"acknowledged"`
	Action       AckAction `json:"action"`
	Note         string    `json:"note,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
}

// Subscribe routes notifications for sub's workspace resource to sub's user.
func (m *Manager) Subscribe(ctx context.Context, sub *models.Subscription) error {
	if sub == nil || sub.ResourceID == "" || sub.UserID == "" {
		return errors.New(errors.ErrInvalid, "subscription needs a resource and a user")
	}
	if sub.CreatedAt == 0 {
		sub.CreatedAt = models.Millis(m.clock.Now())
	}
	if err := m.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}
	logging.Info("Subscription saved",
		map[string]interface{}{
			"workspace_id": sub.WorkspaceID,
			"resource_id":  sub.ResourceID,
			"user_id":      sub.UserID,
		})
	return nil
}

// HandleChangeNotification decides whether a change notification needs a
// sync and, if so, starts one in the background. It never blocks on the
// sync itself.
func (m *Manager) HandleChangeNotification(ctx context.Context, event ChangeEvent) AckResult {
	ack := AckResult{Acknowledged: true}
	fields := map[string]interface{}{
		"type":         event.Type,
		"resource_id":  event.ResourceID,
		"workspace_id": event.WorkspaceID,
	}

	if event.ResourceID == "" {
		ack.Action = AckError
		ack.Note = "missing resource id"
		logging.Warn("Change notification without resource", fields)
		return ack
	}

	sub, err := m.repo.FindSubscription(ctx, event.WorkspaceID, event.ResourceID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			ack.Action = AckNoSubscriber
			ack.Note = "no subscriber"
			logging.Debug("Change notification has no subscriber", fields)
			return ack
		}
		ack.Action = AckError
		ack.Note = err.Error()
		logging.Error("Failed to route change notification", err, fields)
		return ack
	}
	ack.UserID = sub.UserID
	fields["user_id"] = sub.UserID

	eventMs := models.Millis(event.LastEditedTime)
	status, err := m.repo.GetSyncStatus(ctx, sub.UserID, event.ResourceID)
	switch {
	case err == nil:
		if eventMs != 0 && eventMs <= status.LastSyncTime {
			ack.Action = AckEcho
			ack.Note = "change already applied"
			logging.Debug("Change notification is an echo", fields)
			return ack
		}
		if status.Status.Succeeded() && within(eventMs, status.LastSuccessAt, m.config.DebounceWindow) {
			ack.Action = AckDebounced
			ack.Note = "recently synced"
			logging.Debug("Change notification debounced", fields)
			return ack
		}
	case !errors.Is(err, errors.ErrNotFound):
		ack.Action = AckError
		ack.Note = err.Error()
		logging.Error("Failed to load sync status", err, fields)
		return ack
	}

	m.trigger(ctx, SyncRequest{
		UserID:     sub.UserID,
		ResourceID: event.ResourceID,
		Direction:  models.DirectionRemoteToLocal,
		Priority:   gateway.PriorityNotification,
	})
	ack.Action = AckTriggered
	logging.Info("Change notification triggered sync", fields)
	return ack
}

func within(a, b int64, window time.Duration) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < window.Milliseconds()
}

// trigger runs SyncResource in the background. Triggers for a resource that
// is already syncing join the running flight.
func (m *Manager) trigger(ctx context.Context, req SyncRequest) {
	key := req.UserID + "|" + req.ResourceID
	bg := context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, err, shared := m.flights.Do(key, func() (interface{}, error) {
			return m.SyncResource(bg, req)
		})
		if err != nil && !shared && !errors.Is(err, errors.ErrSyncInProgress) {
			logging.Error("Triggered sync failed", err,
				map[string]interface{}{"user_id": req.UserID, "resource_id": req.ResourceID})
		}
	}()
}

// Wait blocks until every background sync started by notifications has
// finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
