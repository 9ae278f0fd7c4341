package db

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
)

// Record is one row keyed by column name.
type Record = map[string]interface{}

// Op is a comparison operator in a condition.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "<>"
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Cond is a single column comparison. Conditions in a list are ANDed.
type Cond struct {
	Column string
	Op     Op
	Value  interface{}
}

// Eq builds column = value.
func Eq(column string, value interface{}) Cond { return Cond{column, OpEq, value} }

// Ne builds column <> value.
func Ne(column string, value interface{}) Cond { return Cond{column, OpNe, value} }

// Lt builds column < value.
func Lt(column string, value interface{}) Cond { return Cond{column, OpLt, value} }

// Lte builds column <= value.
func Lte(column string, value interface{}) Cond { return Cond{column, OpLte, value} }

// Gt builds column > value.
func Gt(column string, value interface{}) Cond { return Cond{column, OpGt, value} }

// Gte builds column >= value.
func Gte(column string, value interface{}) Cond { return Cond{column, OpGte, value} }

// Query selects rows from a table.
type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int // 0 means no limit
}

// Where is a shorthand for a Query with only conditions.
func Where(conds ...Cond) Query {
	return Query{Where: conds}
}

// Store is CRUD over named tables. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, table string, q Query) ([]Record, error)
	Insert(ctx context.Context, table string, rec Record) error
	// Update applies patch to every row matching where and returns the number of rows changed.
	Update(ctx context.Context, table string, where []Cond, patch Record) (int64, error)
	// Delete removes every row matching where and returns the number of rows removed.
	Delete(ctx context.Context, table string, where []Cond) (int64, error)
}

// ErrDuplicate is returned by Insert and Update on a unique-key violation.
var ErrDuplicate = errors.New(errors.ErrDuplicate, "duplicate record")

// IsDuplicate reports whether err is a unique-key violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, errors.ErrDuplicate)
}

func duplicateErr(table string, cause error) error {
	return errors.Wrap(errors.ErrDuplicate, fmt.Sprintf("duplicate record in %s", table), cause)
}

func validOp(op Op) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// normalizeValue maps named string, integer and float kinds onto string,
// int64 and float64 so the backends compare and return uniform types.
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case nil, string, int64, float64:
		return n
	case []byte:
		return string(n)
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}
