package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. It honours the same schema, unique
// keys and value normalisation as the SQL backend.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Record)}
}

var _ Store = (*MemoryStore)(nil)

// Get returns copies of the matching rows.
func (m *MemoryStore) Get(ctx context.Context, table string, q Query) ([]Record, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := t.checkConds(q.Where); err != nil {
		return nil, err
	}
	if q.OrderBy != "" {
		if err := t.checkColumns(q.OrderBy); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var out []Record
	for _, row := range m.tables[table] {
		if matches(row, q.Where) {
			out = append(out, copyRecord(t, row))
		}
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c, _ := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert adds rec, failing with ErrDuplicate on a unique-key clash.
func (m *MemoryStore) Insert(ctx context.Context, table string, rec Record) error {
	t, err := lookupTable(table)
	if err != nil {
		return err
	}
	row := make(Record, len(rec))
	for k, v := range rec {
		if err := t.checkColumns(k); err != nil {
			return err
		}
		row[k] = normalizeValue(v)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tables[table] {
		if key := clash(t, existing, row); key != nil {
			return duplicateErr(table, fmt.Errorf("unique key %v", key))
		}
	}
	m.tables[table] = append(m.tables[table], row)
	return nil
}

// Update patches the matching rows. The whole update is rejected if it
// would break a unique key.
func (m *MemoryStore) Update(ctx context.Context, table string, where []Cond, patch Record) (int64, error) {
	t, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	if err := t.checkConds(where); err != nil {
		return 0, err
	}
	normalized := make(Record, len(patch))
	for k, v := range patch {
		if err := t.checkColumns(k); err != nil {
			return 0, err
		}
		normalized[k] = normalizeValue(v)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	updated := make([]Record, len(rows))
	var changed []int
	for i, row := range rows {
		updated[i] = row
		if !matches(row, where) {
			continue
		}
		next := make(Record, len(row)+len(normalized))
		for k, v := range row {
			next[k] = v
		}
		for k, v := range normalized {
			next[k] = v
		}
		updated[i] = next
		changed = append(changed, i)
	}

	for _, i := range changed {
		for j := range updated {
			if i == j {
				continue
			}
			if key := clash(t, updated[i], updated[j]); key != nil {
				return 0, duplicateErr(table, fmt.Errorf("unique key %v", key))
			}
		}
	}

	m.tables[table] = updated
	return int64(len(changed)), nil
}

// Delete removes the matching rows.
func (m *MemoryStore) Delete(ctx context.Context, table string, where []Cond) (int64, error) {
	t, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	if err := t.checkConds(where); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	kept := rows[:0:0]
	for _, row := range rows {
		if !matches(row, where) {
			kept = append(kept, row)
		}
	}
	removed := int64(len(rows) - len(kept))
	m.tables[table] = kept
	return removed, nil
}

// copyRecord returns row with every schema column present.
func copyRecord(t Table, row Record) Record {
	out := make(Record, len(t.Columns))
	for _, c := range t.Columns {
		out[c] = row[c]
	}
	return out
}

// clash returns the unique key on which a and b collide, or nil.
func clash(t Table, a, b Record) []string {
	for _, key := range t.Unique {
		same := true
		for _, col := range key {
			av, bv := a[col], b[col]
			if av == nil || bv == nil {
				same = false
				break
			}
			if c, ok := compare(av, bv); !ok || c != 0 {
				same = false
				break
			}
		}
		if same {
			return key
		}
	}
	return nil
}

func matches(row Record, where []Cond) bool {
	for _, cond := range where {
		c, ok := compare(row[cond.Column], normalizeValue(cond.Value))
		if !ok {
			return false
		}
		switch cond.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpNe:
			if c == 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		}
	}
	return true
}

// compare orders two normalised values. ok is false when either is NULL or
// the types are not comparable, mirroring SQL where such comparisons never match.
func compare(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpInt(av, bv), true
		case float64:
			return cmpFloat(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return cmpFloat(av, float64(bv)), true
		case float64:
			return cmpFloat(av, bv), true
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
