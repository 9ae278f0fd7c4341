package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a resource sync.
type Status string

const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in_progress"
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
	StatusConflictResolved Status = "conflict_resolved"
)

// Succeeded reports whether s is a successful terminal state.
func (s Status) Succeeded() bool {
	return s == StatusSuccess || s == StatusConflictResolved
}

// Direction selects which side of a sync is authoritative.
type Direction string

const (
	DirectionRemoteToLocal Direction = "remote_to_local"
	DirectionLocalToRemote Direction = "local_to_remote"
	DirectionBidirectional Direction = "bidirectional"
)

// ParseDirection validates a direction name. Empty means remote_to_local.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return DirectionRemoteToLocal, nil
	case DirectionRemoteToLocal, DirectionLocalToRemote, DirectionBidirectional:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown sync direction %q", s)
}

// SyncStatus is the persisted sync state of one (user, resource) pair.
type SyncStatus struct {
	ID                UUID      `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	ResourceID        string    `db:"resource_id" json:"resource_id"`
	LastSyncTime      int64     `db:"last_sync_time" json:"last_sync_time"` // remote last-modified of the last applied sync
	Direction         Direction `db:"direction" json:"direction"`
	Status            Status    `db:"status" json:"status"`
	ErrorMessage      string    `db:"error_message" json:"error_message,omitempty"`
	ItemsSynced       int       `db:"items_synced" json:"items_synced"`
	ConflictsResolved int       `db:"conflicts_resolved" json:"conflicts_resolved"`
	RetryCount        int       `db:"retry_count" json:"retry_count"`
	Version           int       `db:"version" json:"version"`
	LastSuccessAt     int64     `db:"last_success_at" json:"last_success_at"` // wall time of the last successful completion
	CreatedAt         int64     `db:"created_at" json:"created_at"`
	UpdatedAt         int64     `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncStatus.
func (SyncStatus) TableName() string {
	return "sync_status"
}

// LastSyncAt returns LastSyncTime as time.Time.
func (s *SyncStatus) LastSyncAt() time.Time {
	return FromMillis(s.LastSyncTime)
}

// LastSuccessTime returns LastSuccessAt as time.Time.
func (s *SyncStatus) LastSuccessTime() time.Time {
	return FromMillis(s.LastSuccessAt)
}

// ToRecord converts the status to a store record.
func (s *SyncStatus) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":                 string(s.ID),
		"user_id":            s.UserID,
		"resource_id":        s.ResourceID,
		"last_sync_time":     s.LastSyncTime,
		"direction":          string(s.Direction),
		"status":             string(s.Status),
		"error_message":      s.ErrorMessage,
		"items_synced":       int64(s.ItemsSynced),
		"conflicts_resolved": int64(s.ConflictsResolved),
		"retry_count":        int64(s.RetryCount),
		"version":            int64(s.Version),
		"last_success_at":    s.LastSuccessAt,
		"created_at":         s.CreatedAt,
		"updated_at":         s.UpdatedAt,
	}
}

// SyncStatusFromRecord converts a store record to a SyncStatus.
func SyncStatusFromRecord(rec map[string]interface{}) *SyncStatus {
	return &SyncStatus{
		ID:                UUID(recString(rec, "id")),
		UserID:            recString(rec, "user_id"),
		ResourceID:        recString(rec, "resource_id"),
		LastSyncTime:      recInt64(rec, "last_sync_time"),
		Direction:         Direction(recString(rec, "direction")),
		Status:            Status(recString(rec, "status")),
		ErrorMessage:      recString(rec, "error_message"),
		ItemsSynced:       recInt(rec, "items_synced"),
		ConflictsResolved: recInt(rec, "conflicts_resolved"),
		RetryCount:        recInt(rec, "retry_count"),
		Version:           recInt(rec, "version"),
		LastSuccessAt:     recInt64(rec, "last_success_at"),
		CreatedAt:         recInt64(rec, "created_at"),
		UpdatedAt:         recInt64(rec, "updated_at"),
	}
}
