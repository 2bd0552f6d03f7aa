package services

import (
	"context"
	"time"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/repo"
)

// RequestStore is the persistence contract of the lifecycle. *repo.Store
// implements it; every mutation goes through ConditionalUpdate.
type RequestStore interface {
	Create(ctx context.Context, a domain.Attributes) (*domain.VideoRequest, error)
	Get(ctx context.Context, id uint64) (*domain.VideoRequest, error)
	ConditionalUpdate(ctx context.Context, id uint64, expected []domain.Status, patch repo.Patch) (*domain.VideoRequest, error)
	List(ctx context.Context, f repo.ListFilter) ([]domain.VideoRequest, int64, error)
	FindByNotificationRef(ctx context.Context, ref string) (*domain.VideoRequest, error)
	StaleGenerated(ctx context.Context, cutoff time.Time) ([]domain.VideoRequest, error)

	GetIdempotency(ctx context.Context, scope, key string) (*domain.Idempotency, error)
	CreateIdempotency(ctx context.Context, scope, key string, requestID uint64, ttl time.Duration) (*domain.Idempotency, error)
}

var _ RequestStore = (*repo.Store)(nil)
