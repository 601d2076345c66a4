package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/server/models"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/projects"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		dsn     string
		dialect Dialect
		driver  string
	}{
		{"postgres://u:p@localhost:5432/quickide?sslmode=disable", Postgres, "postgres://u:p@localhost:5432/quickide?sslmode=disable"},
		{"sqlite:quickide.db", SQLite, "quickide.db"},
		{"sqlite::memory:", SQLite, ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			d, dsn := DialectFor(tt.dsn)
			assert.Equal(t, tt.dialect, d)
			assert.Equal(t, tt.driver, dsn)
		})
	}
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m := NewSQLRepositoryManager(Postgres)

	if u := m.Users(db); u == nil {
		t.Fatal("Users() nil")
	}
	if p := m.Projects(db); p == nil {
		t.Fatal("Projects() nil")
	}

	var _ users.Repository = m.Users(db)
	var _ projects.Repository = m.Projects(db)
	var _ RepositoryManager = m
}

func TestRunMigrations_UsesDialectDir(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	for _, d := range []Dialect{Postgres, SQLite} {
		t.Run(d.Name, func(t *testing.T) {
			orig := gooseUpContext
			defer func() { gooseUpContext = orig }()

			var gotDir string
			gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
				gotDir = dir
				return nil
			}

			require.NoError(t, NewSQLRepositoryManager(d).RunMigrations(context.Background(), db))
			assert.Equal(t, d.MigrationDir, gotDir)
		})
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m := NewSQLRepositoryManager(Postgres)
	if err := m.RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunMigrations_BadDialect(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m := NewSQLRepositoryManager(Dialect{Name: "x", GooseDialect: "nope", MigrationDir: "x"})
	require.Error(t, m.RunMigrations(context.Background(), db))
}

func TestOpen_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()

	db, m, err := Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, SQLite, m.Dialect())

	require.NoError(t, m.RunMigrations(ctx, db))

	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &models.User{ID: "u1", Email: "a@b.c", PasswordHash: "h", CreatedAt: now}
	_, err = m.Users(db).Create(ctx, u)
	require.NoError(t, err)

	_, err = m.Users(db).Create(ctx, &models.User{ID: "u2", Email: "a@b.c", PasswordHash: "h", CreatedAt: now})
	assert.ErrorIs(t, err, common.ErrConflict)

	got, err := m.Users(db).GetUserByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.True(t, got.CreatedAt.Equal(now))

	older := &models.Project{ID: "p1", OwnerID: "u1", Name: "old", Code: "x", CreatedAt: now}
	newer := &models.Project{ID: "p2", OwnerID: "u1", Name: "new", Code: "y", CreatedAt: now.Add(time.Second)}
	_, err = m.Projects(db).Create(ctx, older)
	require.NoError(t, err)
	_, err = m.Projects(db).Create(ctx, newer)
	require.NoError(t, err)

	list, err := m.Projects(db).ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID)
	assert.Equal(t, "p1", list[1].ID)

	_, err = m.Projects(db).GetByID(ctx, "p1", "u2")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// owner_id must reference an existing user
	_, err = m.Projects(db).Create(ctx, &models.Project{ID: "p3", OwnerID: "ghost", Name: "n", Code: "c", CreatedAt: now})
	assert.Error(t, err)
}
