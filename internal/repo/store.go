// Package repo implements the data persistence layer for video requests,
// backed by GORM.
//
// Store owns the live *gorm.DB handle. Every operation runs through
// Store.do, which classifies failures with the dialect's Classifier and,
// on a lost connection, replaces the handle once and retries the
// operation exactly once. Callers see either the retried result or an
// error marked ErrTransient.
package repo

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Opener returns a fresh, migrated database handle.
type Opener func() (*gorm.DB, error)

// Store is the shared persistence handle. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	db        *gorm.DB
	open      Opener
	transient Classifier
	now       func() time.Time
}

// NewStore opens the first handle with open. A nil classifier disables the
// reconnect path.
func NewStore(open Opener, transient Classifier) (*Store, error) {
	if open == nil {
		return nil, errors.New("repo: opener is required")
	}
	db, err := open()
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return &Store{
		db:        db,
		open:      open,
		transient: transient,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// DB returns the current handle. The handle may be replaced after a
// reconnect, so callers should not hold on to it.
func (s *Store) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Ping checks the current connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
}

// Close releases the current handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) do(ctx context.Context, op func(db *gorm.DB) error) error {
	stale := s.DB()
	err := op(stale.WithContext(ctx))
	if err == nil || s.transient == nil || !s.transient(err) {
		return err
	}

	log.Warn().Err(err).Msg("database connection lost; reconnecting")
	reconnects.Inc()
	if rerr := s.reconnect(stale); rerr != nil {
		return errors.Mark(errors.Wrapf(rerr, "reconnect after %v", err), ErrTransient)
	}

	err = op(s.DB().WithContext(ctx))
	if err != nil && s.transient(err) {
		return errors.Mark(errors.Wrap(err, "retry after reconnect"), ErrTransient)
	}
	return err
}

// reconnect swaps in a fresh handle unless another goroutine already
// replaced stale.
func (s *Store) reconnect(stale *gorm.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != stale {
		return nil
	}
	fresh, err := s.open()
	if err != nil {
		return err
	}
	if sqlDB, err := stale.DB(); err == nil {
		_ = sqlDB.Close()
	}
	s.db = fresh
	return nil
}
