// Package services contains server-side business logic. This file implements
// UserService, which handles registration, login and token verification.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/dbx"
	"github.com/dmitrijs2005/quickide/internal/server/auth"
	"github.com/dmitrijs2005/quickide/internal/server/config"
	"github.com/dmitrijs2005/quickide/internal/server/models"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// UserService provides authentication-related operations:
// - Register: create users with a bcrypt password hash
// - Login: verify credentials and mint a session token
// - Verify: check a session token and return the identity
type UserService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	jwtSecret     []byte
	tokenValidity time.Duration
	bcryptCost    int
	// dummyHash is compared against on unknown emails so that both login
	// failures do the same bcrypt work.
	dummyHash string
	now       func() time.Time
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) (*UserService, error) {
	dummy, err := auth.HashPassword("quickide-dummy-password", cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &UserService{
		db:            db,
		repomanager:   m,
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.TokenValidity,
		bcryptCost:    cfg.BcryptCost,
		dummyHash:     dummy,
		now:           time.Now,
	}, nil
}

func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required", common.ErrorValidation)
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", common.ErrorValidation)
	}
	return nil
}

// Register creates a user and returns its id. An existing email yields
// common.ErrConflict and leaves the store unchanged.
func (s *UserService) Register(ctx context.Context, email, password string) (string, error) {
	if err := validateCredentials(email, password); err != nil {
		return "", err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return "", err
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		_, err := repo.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			return common.ErrConflict
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}

		// the unique constraint still catches a concurrent insert
		_, err = repo.Create(ctx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return "", common.ErrConflict
		}
		return "", fmt.Errorf("error creating user: %w", err)
	}

	return user.ID, nil
}

// Login verifies the password and, on success, returns a signed session
// token. Unknown email and wrong password both yield
// common.ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {
	if err := validateCredentials(email, password); err != nil {
		return "", common.ErrInvalidCredentials
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			auth.CheckPassword(s.dummyHash, password)
			return "", common.ErrInvalidCredentials
		}
		return "", fmt.Errorf("error loading user: %w", err)
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return "", common.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, s.jwtSecret, s.tokenValidity)
	if err != nil {
		return "", common.ErrorInternal
	}
	return token, nil
}

// Verify checks the token signature and expiry. It performs no I/O.
func (s *UserService) Verify(token string) (auth.Identity, error) {
	return auth.VerifyToken(token, s.jwtSecret)
}
