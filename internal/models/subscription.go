package models

// Subscription routes change notifications for a workspace resource to a user.
type Subscription struct {
	WorkspaceID string `db:"workspace_id" json:"workspace_id"`
	ResourceID  string `db:"resource_id" json:"resource_id"`
	UserID      string `db:"user_id" json:"user_id"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for Subscription.
func (Subscription) TableName() string {
	return "sync_subscriptions"
}

// ToRecord converts the subscription to a store record.
func (s *Subscription) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"workspace_id": s.WorkspaceID,
		"resource_id":  s.ResourceID,
		"user_id":      s.UserID,
		"created_at":   s.CreatedAt,
	}
}

// SubscriptionFromRecord converts a store record to a Subscription.
func SubscriptionFromRecord(rec map[string]interface{}) *Subscription {
	return &Subscription{
		WorkspaceID: recString(rec, "workspace_id"),
		ResourceID:  recString(rec, "resource_id"),
		UserID:      recString(rec, "user_id"),
		CreatedAt:   recInt64(rec, "created_at"),
	}
}
