package db

import (
	"fmt"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
)

// Table names.
const (
	TableSyncStatus    = "sync_status"
	TableSyncRetries   = "sync_retries"
	TableItems         = "items"
	TableSubscriptions = "sync_subscriptions"
	TableConflictLog   = "conflict_log"
)

// Table describes the columns and unique keys of a table. The SQL backend
// only accepts column names listed here; the memory backend enforces the
// unique keys.
type Table struct {
	Name    string
	Columns []string
	Unique  [][]string
}

// Schema lists every table the sync core persists to. It mirrors the SQL
// migrations.
var Schema = map[string]Table{
	TableSyncStatus: {
		Name: TableSyncStatus,
		Columns: []string{
			"id", "user_id", "resource_id", "last_sync_time", "direction", "status",
			"error_message", "items_synced", "conflicts_resolved", "retry_count",
			"version", "last_success_at", "created_at", "updated_at",
		},
		Unique: [][]string{{"id"}, {"user_id", "resource_id"}},
	},
	TableSyncRetries: {
		Name: TableSyncRetries,
		Columns: []string{
			"id", "user_id", "resource_id", "direction", "conflict_strategy",
			"scheduled_at", "attempt", "created_at",
		},
		Unique: [][]string{{"id"}},
	},
	TableItems: {
		Name: TableItems,
		Columns: []string{
			"id", "user_id", "resource_id", "question", "answer", "tags",
			"difficulty", "content", "updated_at", "synced_at",
		},
		Unique: [][]string{{"id"}},
	},
	TableSubscriptions: {
		Name:    TableSubscriptions,
		Columns: []string{"workspace_id", "resource_id", "user_id", "created_at"},
		Unique:  [][]string{{"workspace_id", "resource_id"}},
	},
	TableConflictLog: {
		Name: TableConflictLog,
		Columns: []string{
			"id", "user_id", "resource_id", "item_id", "local_updated_at",
			"remote_updated_at", "strategy", "resolved_by", "resolved_at",
		},
		Unique: [][]string{{"id"}},
	},
}

func lookupTable(name string) (Table, error) {
	t, ok := Schema[name]
	if !ok {
		return Table{}, errors.New(errors.ErrInvalid, fmt.Sprintf("unknown table %q", name))
	}
	return t, nil
}

// HasColumn reports whether the table declares column.
func (t Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func (t Table) checkColumns(columns ...string) error {
	for _, c := range columns {
		if !t.HasColumn(c) {
			return errors.New(errors.ErrInvalid, fmt.Sprintf("unknown column %q in table %s", c, t.Name))
		}
	}
	return nil
}

func (t Table) checkConds(conds []Cond) error {
	for _, c := range conds {
		if err := t.checkColumns(c.Column); err != nil {
			return err
		}
		if !validOp(c.Op) {
			return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid operator %q", c.Op))
		}
	}
	return nil
}
