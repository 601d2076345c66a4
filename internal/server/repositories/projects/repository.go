package projects

import (
	"context"

	"github.com/dmitrijs2005/quickide/internal/server/models"
)

// Repository persists named code snapshots, always scoped to an owner.
type Repository interface {
	Create(ctx context.Context, project *models.Project) (*models.Project, error)
	// ListByOwner returns the owner's projects newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]models.Project, error)
	// GetByID yields common.ErrorNotFound when the project does not exist or
	// belongs to another owner.
	GetByID(ctx context.Context, id, ownerID string) (*models.Project, error)
}
