package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// SQLStore implements Store over database/sql. Table and column names are
// checked against Schema before they are interpolated into SQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore creates a Store backed by db.
func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{db: db.DB, dialect: db.Dialect}
}

var _ Store = (*SQLStore)(nil)

// Get runs a SELECT over the table's declared columns.
func (s *SQLStore) Get(ctx context.Context, table string, q Query) ([]Record, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := t.checkConds(q.Where); err != nil {
		return nil, err
	}

	var b strings.Builder
	args := make([]interface{}, 0, len(q.Where))
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(t.Columns, ", "), t.Name)
	args = s.writeWhere(&b, q.Where, args)

	if q.OrderBy != "" {
		if err := t.checkColumns(q.OrderBy); err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, " ORDER BY %s", q.OrderBy)
		if q.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "select from "+table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		values := make([]interface{}, len(t.Columns))
		ptrs := make([]interface{}, len(t.Columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan "+table, err)
		}
		rec := make(Record, len(t.Columns))
		for i, c := range t.Columns {
			rec[c] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "iterate "+table, err)
	}
	return out, nil
}

// Insert writes one row.
func (s *SQLStore) Insert(ctx context.Context, table string, rec Record) error {
	t, err := lookupTable(table)
	if err != nil {
		return err
	}
	columns := sortedKeys(rec)
	if len(columns) == 0 {
		return errors.New(errors.ErrInvalid, "empty record for "+table)
	}
	if err := t.checkColumns(columns...); err != nil {
		return err
	}

	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, c := range columns {
		placeholders[i] = s.placeholder(i + 1)
		args[i] = normalizeValue(rec[c])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return duplicateErr(table, err)
		}
		return errors.Wrap(errors.ErrDatabase, "insert into "+table, err)
	}
	return nil
}

// Update patches the matching rows.
func (s *SQLStore) Update(ctx context.Context, table string, where []Cond, patch Record) (int64, error) {
	t, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	columns := sortedKeys(patch)
	if len(columns) == 0 {
		return 0, errors.New(errors.ErrInvalid, "empty patch for "+table)
	}
	if err := t.checkColumns(columns...); err != nil {
		return 0, err
	}
	if err := t.checkConds(where); err != nil {
		return 0, err
	}

	var b strings.Builder
	args := make([]interface{}, 0, len(columns)+len(where))
	fmt.Fprintf(&b, "UPDATE %s SET ", t.Name)
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		args = append(args, normalizeValue(patch[c]))
		fmt.Fprintf(&b, "%s = %s", c, s.placeholder(len(args)))
	}
	args = s.writeWhere(&b, where, args)

	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, duplicateErr(table, err)
		}
		return 0, errors.Wrap(errors.ErrDatabase, "update "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "rows affected", err)
	}
	return n, nil
}

// Delete removes the matching rows.
func (s *SQLStore) Delete(ctx context.Context, table string, where []Cond) (int64, error) {
	t, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	if err := t.checkConds(where); err != nil {
		return 0, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s", t.Name)
	args := s.writeWhere(&b, where, nil)

	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "delete from "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "rows affected", err)
	}
	return n, nil
}

func (s *SQLStore) writeWhere(b *strings.Builder, where []Cond, args []interface{}) []interface{} {
	for i, c := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, normalizeValue(c.Value))
		fmt.Fprintf(b, "%s %s %s", c.Column, c.Op, s.placeholder(len(args)))
	}
	return args
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func sortedKeys(rec Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if stderrors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
