package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/server/models"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// ProjectInput is the caller-supplied part of a project. A nil Code means
// "not provided" and receives the starter template.
type ProjectInput struct {
	Name string
	Code *string
}

// ProjectService stores and lists code snapshots for their owner.
type ProjectService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	now         func() time.Time
}

func NewProjectService(db *sql.DB, m repomanager.RepositoryManager) *ProjectService {
	return &ProjectService{db: db, repomanager: m, now: time.Now}
}

func (s *ProjectService) Create(ctx context.Context, ownerID string, in ProjectInput) (*models.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = models.DefaultProjectName
	}
	code := models.DefaultProjectCode
	if in.Code != nil {
		code = *in.Code
	}

	p := &models.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Code:      code,
		OwnerID:   ownerID,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}

	created, err := s.repomanager.Projects(s.db).Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("error creating project: %w", err)
	}
	return created, nil
}

// List returns the owner's projects, newest first.
func (s *ProjectService) List(ctx context.Context, ownerID string) ([]models.Project, error) {
	list, err := s.repomanager.Projects(s.db).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error listing projects: %w", err)
	}
	return list, nil
}

// Get returns a project owned by ownerID. Malformed ids, missing projects and
// projects of other owners all yield common.ErrorNotFound.
func (s *ProjectService) Get(ctx context.Context, id, ownerID string) (*models.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	p, err := s.repomanager.Projects(s.db).GetByID(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading project: %w", err)
	}
	return p, nil
}
