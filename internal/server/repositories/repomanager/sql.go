// Package repomanager wires repository constructors and goose migrations
// for the supported SQL dialects.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/quickide/internal/dbx"
	"github.com/dmitrijs2005/quickide/internal/server/migrations"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/projects"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLitePrefix marks a DSN as a SQLite database path ("sqlite:quickide.db",
// "sqlite::memory:"). Any other DSN is handed to pgx.
const SQLitePrefix = "sqlite:"

// Dialect describes how to open and migrate one SQL backend.
type Dialect struct {
	Name         string
	DriverName   string
	GooseDialect string
	MigrationDir string
}

var (
	Postgres = Dialect{Name: "postgres", DriverName: "pgx", GooseDialect: "pgx", MigrationDir: "postgres"}
	SQLite   = Dialect{Name: "sqlite", DriverName: "sqlite", GooseDialect: "sqlite3", MigrationDir: "sqlite"}
)

// DialectFor picks the dialect and driver DSN for a configured database URI.
func DialectFor(dsn string) (Dialect, string) {
	if rest, ok := strings.CutPrefix(dsn, SQLitePrefix); ok {
		return SQLite, rest
	}
	return Postgres, dsn
}

// SQLRepositoryManager vends SQL repository implementations. The same
// queries serve both dialects; only migrations differ.
type SQLRepositoryManager struct {
	dialect Dialect
}

func NewSQLRepositoryManager(d Dialect) *SQLRepositoryManager {
	return &SQLRepositoryManager{dialect: d}
}

func (m *SQLRepositoryManager) Dialect() Dialect {
	return m.dialect
}

func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Projects(db dbx.DBTX) projects.Repository {
	return projects.NewSQLRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations for the manager's dialect.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(m.dialect.GooseDialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, m.dialect.MigrationDir); err != nil {
		return err
	}
	return nil
}

// Open connects to the database named by dsn and returns a manager for its
// dialect. The connection is pinged before returning.
func Open(ctx context.Context, dsn string) (*sql.DB, *SQLRepositoryManager, error) {
	dialect, driverDSN := DialectFor(dsn)

	db, err := sql.Open(dialect.DriverName, driverDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}

	if dialect == SQLite {
		// one writer, and keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}

	return db, NewSQLRepositoryManager(dialect), nil
}
