package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// Store bundles the SQL-backed stores behind core.Store.
type Store struct {
	*IdempotencyStore
	*RunStore
	*DeadLetterStore
	*LineageStore

	db *bun.DB
}

func NewStoreFromPersistence(client *persistence.Client) (*Store, error) {
	return NewStore(client)
}

func NewStoreFromDB(db *bun.DB) (*Store, error) {
	return NewStore(db)
}

// NewStore accepts a *bun.DB or anything exposing DB() *bun.DB.
func NewStore(persistenceClient any) (*Store, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	idempotency, err := NewIdempotencyStore(db)
	if err != nil {
		return nil, err
	}
	runs, err := NewRunStore(db)
	if err != nil {
		return nil, err
	}
	deadLetters, err := NewDeadLetterStore(db)
	if err != nil {
		return nil, err
	}
	lineage, err := NewLineageStore(db)
	if err != nil {
		return nil, err
	}
	return &Store{
		IdempotencyStore: idempotency,
		RunStore:         runs,
		DeadLetterStore:  deadLetters,
		LineageStore:     lineage,
		db:               db,
	}, nil
}

func (s *Store) DB() *bun.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: bun db is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
