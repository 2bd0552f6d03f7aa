// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used by the
// operator CLI and the lifecycle gauges.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-video-backend/internal/domain"
)

// StatusCounts maps each status to its number of requests. Statuses with no
// rows are present with a zero count.
type StatusCounts map[domain.Status]int64

// CountByStatus groups requests by status.
func (s *Store) CountByStatus(ctx context.Context) (StatusCounts, error) {
	var rows []struct {
		Status domain.Status
		N      int64
	}
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Model(&domain.VideoRequest{}).
			Select("status, COUNT(*) AS n").
			Group("status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, wrapDB(err, "count by status")
	}
	out := StatusCounts{}
	for _, st := range domain.AllStatuses() {
		out[st] = 0
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// StaleGenerated returns generated requests whose last update is older than
// cutoff and that carry no provider message id, i.e. deliveries that never
// reached the provider. A row with a notification_ref was sent even if the
// generated -> sent write was lost, so it is not offered for redispatch.
func (s *Store) StaleGenerated(ctx context.Context, cutoff time.Time) ([]domain.VideoRequest, error) {
	var out []domain.VideoRequest
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Where("status = ? AND updated_at < ? AND (notification_ref IS NULL OR notification_ref = '')",
			string(domain.StatusGenerated), cutoff).
			Order("updated_at ASC").
			Find(&out).Error
	})
	if err != nil {
		return nil, wrapDB(err, "stale generated")
	}
	return out, nil
}
