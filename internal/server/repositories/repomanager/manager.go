package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/quickide/internal/dbx"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/projects"
	"github.com/dmitrijs2005/quickide/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Projects(db dbx.DBTX) projects.Repository
}
