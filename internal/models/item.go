package models

import "time"

// Item is a study item generated from a synced resource.
type Item struct {
	ID         UUID     `db:"id" json:"id"`
	UserID     string   `db:"user_id" json:"user_id"`
	ResourceID string   `db:"resource_id" json:"resource_id"`
	Question   string   `db:"question" json:"question"`
	Answer     string   `db:"answer" json:"answer"`
	Tags       []string `db:"tags" json:"tags"` // JSON array in storage
	Difficulty string   `db:"difficulty" json:"difficulty"`
	Content    string   `db:"content" json:"content"`       // resource text the item was built from or edited to
	UpdatedAt  int64    `db:"updated_at" json:"updated_at"` // local edit time
	SyncedAt   int64    `db:"synced_at" json:"synced_at"`   // remote last-modified it was synced from
}

// TableName returns the table name for Item.
func (Item) TableName() string {
	return "items"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (i *Item) UpdatedAtTime() time.Time {
	return FromMillis(i.UpdatedAt)
}

// SyncedAtTime returns the SyncedAt as time.Time.
func (i *Item) SyncedAtTime() time.Time {
	return FromMillis(i.SyncedAt)
}

// ChangedSinceSync reports whether the item was edited locally after its last sync.
func (i *Item) ChangedSinceSync() bool {
	return i.UpdatedAt > i.SyncedAt
}

// ToRecord converts the item to a store record.
func (i *Item) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":          string(i.ID),
		"user_id":     i.UserID,
		"resource_id": i.ResourceID,
		"question":    i.Question,
		"answer":      i.Answer,
		"tags":        encodeTags(i.Tags),
		"difficulty":  i.Difficulty,
		"content":     i.Content,
		"updated_at":  i.UpdatedAt,
		"synced_at":   i.SyncedAt,
	}
}

// ItemFromRecord converts a store record to an Item.
func ItemFromRecord(rec map[string]interface{}) *Item {
	return &Item{
		ID:         UUID(recString(rec, "id")),
		UserID:     recString(rec, "user_id"),
		ResourceID: recString(rec, "resource_id"),
		Question:   recString(rec, "question"),
		Answer:     recString(rec, "answer"),
		Tags:       decodeTags(recString(rec, "tags")),
		Difficulty: recString(rec, "difficulty"),
		Content:    recString(rec, "content"),
		UpdatedAt:  recInt64(rec, "updated_at"),
		SyncedAt:   recInt64(rec, "synced_at"),
	}
}

// GeneratedItem is a study item produced from resource content, before it
// is tied to a user and stamped for sync.
type GeneratedItem struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Tags       []string `json:"tags"`
	Difficulty string   `json:"difficulty"`
}
