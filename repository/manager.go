package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager groups the SQL store with its repositories
type Manager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Store() *Store
	Members() repository.Repository[*MemberModel]
}

type mngr struct {
	db    *bun.DB
	store *Store
}

func NewRepositoryManager(db *bun.DB) Manager {
	return &mngr{
		db:    db,
		store: NewStore(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.store == nil || m.store.members == nil {
		return errors.New("repository members should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Store() *Store {
	return m.store
}

func (m mngr) Members() repository.Repository[*MemberModel] {
	return m.store.members
}
