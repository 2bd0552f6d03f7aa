// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for intake.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-video-backend/internal/domain"
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func (s *Store) GetIdempotency(ctx context.Context, scope, key string) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Where("scope = ? AND key = ? AND expires_at > ?", scope, key, s.now()).
			First(&rec).Error
	})
	if err != nil {
		return nil, wrapDB(err, "get idempotency")
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
// Expired rows for the same (scope, key) are purged first.
func (s *Store) CreateIdempotency(ctx context.Context, scope, key string, requestID uint64, ttl time.Duration) (*domain.Idempotency, error) {
	now := s.now()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Scope:     scope,
		Key:       key,
		RequestID: requestID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := s.do(ctx, func(db *gorm.DB) error {
		if err := db.Where("scope = ? AND key = ? AND expires_at <= ?", scope, key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return db.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, wrapDB(err, "create idempotency")
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite returns plain-text errors; postgres reports SQLSTATE 23505.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "sqlstate 23505") ||
		strings.Contains(low, "duplicate key value")
}
