package models

import "time"

// RetryTask is a deferred re-run of a failed sync.
type RetryTask struct {
	ID               UUID      `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	ResourceID       string    `db:"resource_id" json:"resource_id"`
	Direction        Direction `db:"direction" json:"direction"`
	ConflictStrategy string    `db:"conflict_strategy" json:"conflict_strategy"`
	ScheduledAt      int64     `db:"scheduled_at" json:"scheduled_at"`
	Attempt          int       `db:"attempt" json:"attempt"`
	CreatedAt        int64     `db:"created_at" json:"created_at"`
}

// TableName returns the table name for RetryTask.
func (RetryTask) TableName() string {
	return "sync_retries"
}

// ScheduledTime returns ScheduledAt as time.Time.
func (r *RetryTask) ScheduledTime() time.Time {
	return FromMillis(r.ScheduledAt)
}

// ToRecord converts the task to a store record.
func (r *RetryTask) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":                string(r.ID),
		"user_id":           r.UserID,
		"resource_id":       r.ResourceID,
		"direction":         string(r.Direction),
		"conflict_strategy": r.ConflictStrategy,
		"scheduled_at":      r.ScheduledAt,
		"attempt":           int64(r.Attempt),
		"created_at":        r.CreatedAt,
	}
}

// RetryTaskFromRecord converts a store record to a RetryTask.
func RetryTaskFromRecord(rec map[string]interface{}) *RetryTask {
	return &RetryTask{
		ID:               UUID(recString(rec, "id")),
		UserID:           recString(rec, "user_id"),
		ResourceID:       recString(rec, "resource_id"),
		Direction:        Direction(recString(rec, "direction")),
		ConflictStrategy: recString(rec, "conflict_strategy"),
		ScheduledAt:      recInt64(rec, "scheduled_at"),
		Attempt:          recInt(rec, "attempt"),
		CreatedAt:        recInt64(rec, "created_at"),
	}
}
