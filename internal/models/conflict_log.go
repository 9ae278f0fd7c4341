package models

import "time"

// ConflictLog records a resolved concurrent edit for audit.
type ConflictLog struct {
	ID              UUID   `db:"id" json:"id"`
	UserID          string `db:"user_id" json:"user_id"`
	ResourceID      string `db:"resource_id" json:"resource_id"`
	ItemID          UUID   `db:"item_id" json:"item_id"`
	LocalUpdatedAt  int64  `db:"local_updated_at" json:"local_updated_at"`
	RemoteUpdatedAt int64  `db:"remote_updated_at" json:"remote_updated_at"`
	Strategy        string `db:"strategy" json:"strategy"` // remote_wins, local_wins, merge
	ResolvedBy      string `db:"resolved_by" json:"resolved_by"`
	ResolvedAt      int64  `db:"resolved_at" json:"resolved_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// ResolvedAtTime returns the ResolvedAt as time.Time.
func (c *ConflictLog) ResolvedAtTime() time.Time {
	return FromMillis(c.ResolvedAt)
}

// ToRecord converts the log entry to a store record.
func (c *ConflictLog) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":                string(c.ID),
		"user_id":           c.UserID,
		"resource_id":       c.ResourceID,
		"item_id":           string(c.ItemID),
		"local_updated_at":  c.LocalUpdatedAt,
		"remote_updated_at": c.RemoteUpdatedAt,
		"strategy":          c.Strategy,
		"resolved_by":       c.ResolvedBy,
		"resolved_at":       c.ResolvedAt,
	}
}

// ConflictLogFromRecord converts a store record to a ConflictLog.
func ConflictLogFromRecord(rec map[string]interface{}) *ConflictLog {
	return &ConflictLog{
		ID:              UUID(recString(rec, "id")),
		UserID:          recString(rec, "user_id"),
		ResourceID:      recString(rec, "resource_id"),
		ItemID:          UUID(recString(rec, "item_id")),
		LocalUpdatedAt:  recInt64(rec, "local_updated_at"),
		RemoteUpdatedAt: recInt64(rec, "remote_updated_at"),
		Strategy:        recString(rec, "strategy"),
		ResolvedBy:      recString(rec, "resolved_by"),
		ResolvedAt:      recInt64(rec, "resolved_at"),
	}
}
