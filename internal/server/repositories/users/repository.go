package users

import (
	"context"

	"github.com/dmitrijs2005/quickide/internal/server/models"
)

// Repository is the credential store.
type Repository interface {
	// Create inserts a new user. A duplicate email yields common.ErrConflict.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetUserByEmail yields common.ErrorNotFound when no user has that email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}
