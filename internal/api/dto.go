package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/sync"
)

// Notification. The body is decoded by the handler so a malformed
// notification is still acknowledged.
type notificationInput struct {
	RawBody []byte `contentType:"application/json"`
}

type notificationOutput struct {
	Body sync.AckResult
}

// NotificationRequest is a change notification from the integration.
// LastEditedTime is an RFC 3339 string or Unix milliseconds.
type NotificationRequest struct {
	Type           string          `json:"type,omitempty"`
	ResourceID     string          `json:"resource_id,omitempty"`
	WorkspaceID    string          `json:"workspace_id,omitempty"`
	LastEditedTime json.RawMessage `json:"last_edited_time,omitempty"`
}

// parseNotification decodes a notification body into a change event.
func parseNotification(body []byte) (sync.ChangeEvent, error) {
	var req NotificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return sync.ChangeEvent{}, errors.Wrap(errors.ErrInvalid, "malformed notification body", err)
	}
	edited, err := parseEditTime(req.LastEditedTime)
	if err != nil {
		return sync.ChangeEvent{}, errors.Wrap(errors.ErrInvalid, "invalid last_edited_time", err)
	}
	return sync.ChangeEvent{
		Type:           req.Type,
		ResourceID:     req.ResourceID,
		WorkspaceID:    req.WorkspaceID,
		LastEditedTime: edited,
	}, nil
}

func parseEditTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("want a date-time or Unix milliseconds, got %s", raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Manual sync
type syncInput struct {
	Body SyncRequest
}

type syncOutput struct {
	Body SyncResponse
}

// SyncRequest triggers a sync of one resource.
type SyncRequest struct {
	UserID     string `json:"user_id" minLength:"1"`
	ResourceID string `json:"resource_id" minLength:"1"`
	Direction  string `json:"direction,omitempty" enum:"remote_to_local,local_to_remote,bidirectional"`
	Strategy   string `json:"strategy,omitempty" enum:"remote_wins,local_wins,merge"`
	Full       bool   `json:"full,omitempty" doc:"Skip the incremental check"`
}

// SyncResponse is the status left by a sync.
type SyncResponse struct {
	Status *models.SyncStatus `json:"status"`
}

// Sync health
type syncHealthInput struct {
	UserID string `path:"userId" minLength:"1"`
}

type syncHealthOutput struct {
	Body sync.SyncHealth
}

// Subscriptions
type subscriptionInput struct {
	Body SubscriptionRequest
}

type subscriptionOutput struct {
	Body models.Subscription
}

// SubscriptionRequest routes a workspace resource to a user.
type SubscriptionRequest struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	ResourceID  string `json:"resource_id" minLength:"1"`
	UserID      string `json:"user_id" minLength:"1"`
}

// Service health
type healthInput struct{}

type healthOutput struct {
	Body HealthResponse
}

// HealthResponse reports the service liveness.
type HealthResponse struct {
	Status  string `json:"status" example:"OK" doc:"Health status of the service"`
	Clients int    `json:"clients" doc:"Connected event stream clients"`
}
