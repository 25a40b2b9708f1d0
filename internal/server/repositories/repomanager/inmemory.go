package repomanager

import (
	"context"

	"github.com/dmitrijs2005/feedauth/internal/dbx"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/users"
)

// InMemoryRepositoryManager serves repositories backed by a memory.Store.
// The DBTX arguments are ignored; every repository sees the same state.
type InMemoryRepositoryManager struct {
	store         *memory.Store
	users         *memory.UserRepository
	refreshTokens *memory.RefreshTokenRepository
}

func (m *InMemoryRepositoryManager) Conn() dbx.DBTX {
	return nil
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context) error {
	return nil
}

func (m *InMemoryRepositoryManager) Users(dbx.DBTX) users.Repository {
	return m.users
}

func (m *InMemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return m.refreshTokens
}

func (m *InMemoryRepositoryManager) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	return m.store.WithTx(ctx, fn)
}

func (m *InMemoryRepositoryManager) Close() error {
	return nil
}

// Store exposes the underlying state, mainly so tests can pin its clock.
func (m *InMemoryRepositoryManager) Store() *memory.Store {
	return m.store
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	s := memory.NewStore()
	return &InMemoryRepositoryManager{
		store:         s,
		users:         memory.NewUserRepository(s),
		refreshTokens: memory.NewRefreshTokenRepository(s),
	}
}
