package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/dbx"
	"github.com/dmitrijs2005/quickide/internal/server/auth"
	"github.com/dmitrijs2005/quickide/internal/server/models"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/projects"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService(t *testing.T) (*UserService, *sql.DB) {
	t.Helper()
	db, rm := newTestDB(t)
	s, err := NewUserService(db, rm, testConfig())
	require.NoError(t, err)
	return s, db
}

func TestRegisterLoginVerify_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newUserService(t)

	id, err := s.Register(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	before := time.Now()
	token, err := s.Login(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)

	identity, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, identity.UserID)

	claims := &auth.Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(7*24*time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestRegister_StoresHashNotPlaintext(t *testing.T) {
	ctx := context.Background()
	s, db := newUserService(t)

	_, err := s.Register(ctx, "bob@example.com", "plain-password")
	require.NoError(t, err)

	var hash string
	require.NoError(t, db.QueryRow("SELECT password_hash FROM users WHERE email = $1", "bob@example.com").Scan(&hash))
	assert.NotEqual(t, "plain-password", hash)
	assert.True(t, strings.HasPrefix(hash, "$2"))
	assert.True(t, auth.CheckPassword(hash, "plain-password"))
}

func TestRegister_DuplicateLeavesOneRecord(t *testing.T) {
	ctx := context.Background()
	s, db := newUserService(t)

	_, err := s.Register(ctx, "dup@example.com", "first")
	require.NoError(t, err)

	_, err = s.Register(ctx, "dup@example.com", "second")
	assert.ErrorIs(t, err, common.ErrConflict)

	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM users WHERE email = $1", "dup@example.com"))

	// the original password still works
	_, err = s.Login(ctx, "dup@example.com", "first")
	require.NoError(t, err)
}

func TestRegister_EmailIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s, _ := newUserService(t)

	_, err := s.Register(ctx, "Carol@example.com", "pw")
	require.NoError(t, err)
	_, err = s.Register(ctx, "carol@example.com", "pw")
	require.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newUserService(t)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "pw"},
		{"blank email", "   ", "pw"},
		{"empty password", "a@b.c", ""},
		{"password too long", "a@b.c", strings.Repeat("x", 73)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, common.ErrorValidation)
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	ctx := context.Background()
	s, _ := newUserService(t)

	_, err := s.Register(ctx, "dave@example.com", "right")
	require.NoError(t, err)

	_, err = s.Login(ctx, "dave@example.com", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = s.Login(ctx, "nobody@example.com", "right")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = s.Login(ctx, "", "")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestVerify_Failures(t *testing.T) {
	ctx := context.Background()
	s, _ := newUserService(t)

	id, err := s.Register(ctx, "erin@example.com", "pw")
	require.NoError(t, err)

	token, err := s.Login(ctx, "erin@example.com", "pw")
	require.NoError(t, err)

	// flip one character of the signature
	tampered := token[:len(token)-2] + string(flip(token[len(token)-2])) + token[len(token)-1:]
	_, err = s.Verify(tampered)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	expired, err := auth.GenerateToken(id, []byte("test-secret"), -time.Minute)
	require.NoError(t, err)
	_, err = s.Verify(expired)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)

	foreign, err := auth.GenerateToken(id, []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	_, err = s.Verify(foreign)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func flip(c byte) byte {
	if c == 'A' {
		return 'B'
	}
	return 'A'
}

// --- repository failure paths with fakes over sqlmock ---

type fakeUsersRepo struct {
	getOut    *models.User
	getErr    error
	createErr error
	created   int
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return u, nil
}

func (f *fakeUsersRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository         { return m.u }
func (m *fakeRepoManager) Projects(db dbx.DBTX) projects.Repository   { return nil }

func newMockedUserService(t *testing.T, u *fakeUsersRepo) (*UserService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewUserService(db, &fakeRepoManager{u: u}, testConfig())
	require.NoError(t, err)
	return s, mock
}

func TestRegister_ConcurrentInsertBackstop(t *testing.T) {
	repo := &fakeUsersRepo{getErr: common.ErrorNotFound, createErr: common.ErrConflict}
	s, mock := newMockedUserService(t, repo)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Register(context.Background(), "race@example.com", "pw")
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, 1, repo.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_LookupErrorRollsBack(t *testing.T) {
	repo := &fakeUsersRepo{getErr: errors.New("db down")}
	s, mock := newMockedUserService(t, repo)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Register(context.Background(), "x@example.com", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, 0, repo.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_RepoError(t *testing.T) {
	repo := &fakeUsersRepo{getErr: errors.New("db down")}
	s, _ := newMockedUserService(t, repo)

	_, err := s.Login(context.Background(), "x@example.com", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrInvalidCredentials)
}
