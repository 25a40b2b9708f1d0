package repomanager

import (
	"context"

	"github.com/dmitrijs2005/feedauth/internal/dbx"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the shared connection
// (Conn) or a transaction handed out by WithTx.
type RepositoryManager interface {
	dbx.Transactor
	RunMigrations(ctx context.Context) error
	Conn() dbx.DBTX
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Close() error
}
