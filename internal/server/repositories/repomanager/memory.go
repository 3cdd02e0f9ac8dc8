package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/refreshtokens"
)

// InMemoryRepositoryManager serves a single in-process repository.
// Transactions are serialised, not isolated: there is no rollback, so
// callers order their writes so that a partial failure is safe.
type InMemoryRepositoryManager struct {
	txMu sync.Mutex
	repo *refreshtokens.InMemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{repo: refreshtokens.NewInMemoryRepository()}
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context) error {
	return nil
}

func (m *InMemoryRepositoryManager) RefreshTokens() refreshtokens.Repository {
	return m.repo
}

func (m *InMemoryRepositoryManager) WithTx(ctx context.Context, fn TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, m.repo)
}

func (m *InMemoryRepositoryManager) Close() error {
	return nil
}
