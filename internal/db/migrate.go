package db

import (
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrator is the subset of *migrate.Migrate used here.
type Migrator interface {
	Up() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Close() (srcErr error, dbErr error)
}

// MigrationEngine builds a Migrator for db from a migration source.
type MigrationEngine func(db *DB, src source.Driver) (Migrator, error)

// Migration applies the embedded schema migrations for a database.
type Migration struct {
	db     *DB
	engine MigrationEngine
}

// NewMigration creates a Migration. A nil engine selects DefaultEngine.
func NewMigration(db *DB, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{db: db, engine: engine}
}

// Migrate applies all pending migrations to db.
func Migrate(db *DB) error {
	return NewMigration(db, nil).Up()
}

// DefaultEngine opens a dedicated migration connection from the database
// URL. An in-memory sqlite database has no URL to reopen, so it is migrated
// through the existing handle, which is left open.
func DefaultEngine(db *DB, src source.Driver) (Migrator, error) {
	if db.Dialect == DialectSQLite && db.DSN == ":memory:" {
		driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
		if err != nil {
			return nil, err
		}
		m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
		if err != nil {
			return nil, err
		}
		return sharedMigrator{m}, nil
	}

	url, err := DatabaseURL(db.Dialect, db.DSN)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, url)
}

// sharedMigrator leaves the caller's database handle open on Close.
type sharedMigrator struct {
	*migrate.Migrate
}

func (sharedMigrator) Close() (error, error) {
	return nil, nil
}

// DatabaseURL converts a configured DSN into a golang-migrate database URL.
func DatabaseURL(dialect Dialect, dsn string) (string, error) {
	switch dialect {
	case DialectSQLite:
		if dsn == ":memory:" {
			return "", fmt.Errorf("in-memory sqlite has no database url")
		}
		return "sqlite://" + dsn, nil
	case DialectPostgres:
		for _, prefix := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, prefix) {
				return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
			}
		}
		return "", fmt.Errorf("postgres dsn must be a postgres:// url")
	}
	return "", fmt.Errorf("unsupported dialect %q", dialect)
}

// Up applies all pending migrations. No pending migrations is not an error.
func (mg *Migration) Up() error {
	return mg.run(func(m Migrator) error {
		if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	})
}

// Down rolls back the last applied migration.
func (mg *Migration) Down() error {
	return mg.run(func(m Migrator) error {
		return m.Steps(-1)
	})
}

// Version returns the current schema version.
func (mg *Migration) Version() (version uint, dirty bool, err error) {
	err = mg.run(func(m Migrator) error {
		v, d, verr := m.Version()
		if stderrors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		version, dirty = v, d
		return verr
	})
	return version, dirty, err
}

func (mg *Migration) run(fn func(Migrator) error) (err error) {
	sub, err := fs.Sub(migrationsFS, "migrations/"+string(mg.db.Dialect))
	if err != nil {
		return errors.Wrap(errors.ErrMigration, "open migrations", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return errors.Wrap(errors.ErrMigration, "open migrations", err)
	}

	m, err := mg.engine(mg.db, src)
	if err != nil {
		return errors.Wrap(errors.ErrMigration, "init migrator", err)
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()

	if err := fn(m); err != nil {
		return errors.Wrap(errors.ErrMigration, "migrate "+string(mg.db.Dialect), err)
	}
	return nil
}
