// Package projects provides the SQL-backed project snapshot store.
package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/dbx"
	"github.com/dmitrijs2005/quickide/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	query :=
		`INSERT INTO projects (id, owner_id, name, code, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	if _, err := r.db.ExecContext(ctx, query, p.ID, p.OwnerID, p.Name, p.Code, p.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return p, nil
}

func (r *SQLRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Project, error) {
	query :=
		`SELECT id, owner_id, name, code, created_at FROM projects
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]models.Project, 0)
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Code, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id, ownerID string) (*models.Project, error) {
	query :=
		`SELECT id, owner_id, name, code, created_at FROM projects
		 WHERE id = $1 AND owner_id = $2
		 `

	p := &models.Project{}
	err := r.db.QueryRowContext(ctx, query, id, ownerID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Code, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return p, nil
}
