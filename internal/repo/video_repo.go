package repo

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/tbourn/go-video-backend/internal/domain"
)

// Patch lists the columns a conditional update may write. Nil fields are
// left untouched. JobID and VideoURL are set-once: the update only matches
// while the column is NULL or already holds the same value. A non-nil
// UnchangedSince additionally requires updated_at to still equal it, which
// turns a read-modify-write of the row into a compare-and-set.
type Patch struct {
	Status             *domain.Status
	JobID              *string
	RenderRequest      *domain.Payload
	RenderResponse     *domain.Payload
	VideoURL           *string
	NotificationResult *domain.Payload
	NotificationRef    *string
	UnchangedSince     *time.Time
}

func (p Patch) columns() map[string]any {
	cols := map[string]any{}
	if p.Status != nil {
		cols["status"] = string(*p.Status)
	}
	if p.JobID != nil {
		cols["job_id"] = *p.JobID
	}
	if p.RenderRequest != nil {
		cols["render_request"] = *p.RenderRequest
	}
	if p.RenderResponse != nil {
		cols["render_response"] = *p.RenderResponse
	}
	if p.VideoURL != nil {
		cols["video_url"] = *p.VideoURL
	}
	if p.NotificationResult != nil {
		cols["notification_result"] = *p.NotificationResult
	}
	if p.NotificationRef != nil {
		cols["notification_ref"] = *p.NotificationRef
	}
	return cols
}

// StatusPtr is a convenience for building patches.
func StatusPtr(s domain.Status) *domain.Status { return &s }

// StringPtr is a convenience for building patches.
func StringPtr(s string) *string { return &s }

// PayloadPtr is a convenience for building patches.
func PayloadPtr(p domain.Payload) *domain.Payload { return &p }

// Create inserts a pending request and returns it with its assigned ID.
func (s *Store) Create(ctx context.Context, a domain.Attributes) (*domain.VideoRequest, error) {
	var out *domain.VideoRequest
	err := s.do(ctx, func(db *gorm.DB) error {
		now := s.now()
		rec := &domain.VideoRequest{
			ActorID:   a.ActorID,
			Name:      a.Name,
			City:      a.City,
			Phone:     a.Phone,
			Status:    domain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.Create(rec).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, wrapDB(err, "create video request")
	}
	return out, nil
}

// Get fetches a request by ID or returns ErrNotFound.
func (s *Store) Get(ctx context.Context, id uint64) (*domain.VideoRequest, error) {
	var out domain.VideoRequest
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.First(&out, id).Error
	})
	if err != nil {
		return nil, wrapDB(err, "get video request")
	}
	return &out, nil
}

// FindByNotificationRef resolves a delivery status callback to its request.
func (s *Store) FindByNotificationRef(ctx context.Context, ref string) (*domain.VideoRequest, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, ErrNotFound
	}
	var out domain.VideoRequest
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Where("notification_ref = ?", ref).First(&out).Error
	})
	if err != nil {
		return nil, wrapDB(err, "find by notification ref")
	}
	return &out, nil
}

// ListFilter narrows List. Limit <= 0 returns every match.
type ListFilter struct {
	Statuses []domain.Status
	Offset   int
	Limit    int
}

// List returns requests newest first together with the total match count.
func (s *Store) List(ctx context.Context, f ListFilter) ([]domain.VideoRequest, int64, error) {
	var (
		out   []domain.VideoRequest
		total int64
	)
	err := s.do(ctx, func(db *gorm.DB) error {
		q := db.Model(&domain.VideoRequest{})
		if len(f.Statuses) > 0 {
			q = q.Where("status IN ?", statusStrings(f.Statuses))
		}
		if err := q.Count(&total).Error; err != nil {
			return err
		}
		q = q.Order("created_at DESC").Order("id DESC")
		if f.Offset > 0 {
			q = q.Offset(f.Offset)
		}
		if f.Limit > 0 {
			q = q.Limit(f.Limit)
		}
		out = out[:0]
		return q.Find(&out).Error
	})
	if err != nil {
		return nil, 0, wrapDB(err, "list video requests")
	}
	return out, total, nil
}

// ConditionalUpdate applies patch to request id only if its current status
// is one of expected. It is the single compare-and-set point of the
// lifecycle: concurrent callers racing on the same edge see exactly one
// success and ErrPreconditionFailed for the rest.
//
// It returns the updated row, ErrNotFound when the row does not exist,
// ErrPreconditionFailed when the status, a set-once guard or UnchangedSince
// did not match,
// and ErrIllegalTransition (without touching the database) when patch.Status
// is not reachable from every expected status.
func (s *Store) ConditionalUpdate(ctx context.Context, id uint64, expected []domain.Status, patch Patch) (*domain.VideoRequest, error) {
	if len(expected) == 0 {
		return nil, errors.New("conditional update: expected statuses required")
	}
	if patch.Status != nil {
		for _, from := range expected {
			if !domain.CanTransition(from, *patch.Status) {
				return nil, errors.Wrapf(ErrIllegalTransition, "%s -> %s", from, *patch.Status)
			}
		}
	}

	cols := patch.columns()
	var out domain.VideoRequest
	err := s.do(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			cols["updated_at"] = s.now()
			q := tx.Model(&domain.VideoRequest{}).
				Where("id = ? AND status IN ?", id, statusStrings(expected))
			if patch.JobID != nil {
				q = q.Where("(job_id IS NULL OR job_id = ?)", *patch.JobID)
			}
			if patch.VideoURL != nil {
				q = q.Where("(video_url IS NULL OR video_url = ?)", *patch.VideoURL)
			}
			if patch.UnchangedSince != nil {
				q = q.Where("updated_at = ?", *patch.UnchangedSince)
			}
			res := q.Updates(cols)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var cur domain.VideoRequest
				if err := tx.Select("id", "status").First(&cur, id).Error; err != nil {
					return err
				}
				return errors.Wrapf(ErrPreconditionFailed, "request %d is %s", id, cur.Status)
			}
			return tx.First(&out, id).Error
		})
	})
	if err != nil {
		return nil, wrapDB(err, "conditional update")
	}
	return &out, nil
}

func statusStrings(in []domain.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
