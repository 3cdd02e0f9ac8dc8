// Package repomanager owns the storage handle and vends the token store,
// either directly or bound to a transaction.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/refreshtokens"
)

// TxFunc receives a repository whose writes belong to one transaction.
type TxFunc func(ctx context.Context, repo refreshtokens.Repository) error

type RepositoryManager interface {
	// RunMigrations brings the schema up to date.
	RunMigrations(ctx context.Context) error

	// RefreshTokens returns a repository outside of any transaction.
	RefreshTokens() refreshtokens.Repository

	// WithTx runs fn in a transaction: commit when fn returns nil,
	// rollback otherwise.
	WithTx(ctx context.Context, fn TxFunc) error

	Close() error
}

// MemoryDSN selects the in-memory manager instead of PostgreSQL.
const MemoryDSN = "memory"

// New picks the manager implementation from the DSN.
func New(dsn string) (RepositoryManager, error) {
	if dsn == MemoryDSN {
		return NewInMemoryRepositoryManager(), nil
	}
	return NewPostgresRepositoryManager(dsn)
}
