// Package services – VideoService
//
// VideoService coordinates the request lifecycle:
//
//	pending --submit ok--> generating --poll/webhook--> generated --dispatch ok--> sent
//	pending --prepare/submit fail--> failed
//	generating --engine failure--> failed
//	generating --attempts exhausted--> timeout
//
// Intake runs media preparation and job submission synchronously so the
// caller learns about submission failures, then hands the job to the
// Poller. Complete is the shared completion handler used by both the poll
// and webhook paths; its guarded generating -> generated update is the
// single arbitration point, so exactly one signal dispatches.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/media"
	"github.com/tbourn/go-video-backend/internal/notify"
	"github.com/tbourn/go-video-backend/internal/render"
	"github.com/tbourn/go-video-backend/internal/repo"
)

// idempotencyScope namespaces intake keys.
const idempotencyScope = "videos"

// CreateInput is the intake payload.
type CreateInput struct {
	ActorID string
	Name    string
	City    string
	Phone   string
}

func (in CreateInput) normalize() CreateInput {
	return CreateInput{
		ActorID: strings.TrimSpace(in.ActorID),
		Name:    strings.TrimSpace(in.Name),
		City:    strings.TrimSpace(in.City),
		Phone:   strings.TrimSpace(in.Phone),
	}
}

func (in CreateInput) validate() error {
	var missing []string
	if in.ActorID == "" {
		missing = append(missing, "actorId")
	}
	if in.Name == "" {
		missing = append(missing, "name")
	}
	if in.City == "" {
		missing = append(missing, "city")
	}
	if in.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// Deps are the collaborators of VideoService.
type Deps struct {
	Store    RequestStore
	Media    media.Preparer
	Render   render.Client
	Notify   notify.Dispatcher
	Callback func(requestID uint64) string

	// IdempotencyTTL bounds intake key replays.
	IdempotencyTTL time.Duration
}

// VideoService is the lifecycle coordinator.
type VideoService struct {
	Store  RequestStore
	Media  media.Preparer
	Render render.Client
	Notify notify.Dispatcher
	Polls  *Poller

	Callback       func(requestID uint64) string
	IdempotencyTTL time.Duration
}

// NewVideoService wires the coordinator and its Poller.
func NewVideoService(d Deps, opts PollOptions) *VideoService {
	s := &VideoService{
		Store:          d.Store,
		Media:          d.Media,
		Render:         d.Render,
		Notify:         d.Notify,
		Callback:       d.Callback,
		IdempotencyTTL: d.IdempotencyTTL,
	}
	if s.IdempotencyTTL <= 0 {
		s.IdempotencyTTL = 24 * time.Hour
	}
	s.Polls = NewPoller(d.Store, d.Render, s, opts)
	return s
}

// Create validates the input, persists a pending request, prepares media,
// submits the render job, and starts polling. A non-empty idempotencyKey
// seen within the TTL returns the request it originally created.
//
// Errors: *ValidationError before anything is stored; *media.PreparationError
// or *render.SubmissionError after the request was moved to failed.
func (s *VideoService) Create(ctx context.Context, in CreateInput, idempotencyKey string) (*domain.VideoRequest, error) {
	tr := otel.Tracer("services/VideoService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("video.actor_id", in.ActorID)))
	defer span.End()

	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(idempotencyKey); key != "" {
		if prev, err := s.Store.GetIdempotency(ctx, idempotencyScope, key); err == nil {
			return s.Get(ctx, prev.RequestID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	// The pipeline must not be abandoned midway when the client goes away.
	ctx = context.WithoutCancel(ctx)

	rec, err := s.Store.Create(ctx, domain.Attributes{ActorID: in.ActorID, Name: in.Name, City: in.City, Phone: in.Phone})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("video.request_id", int64(rec.ID)))
	logger := log.With().Uint64("request_id", rec.ID).Logger()

	if key := strings.TrimSpace(idempotencyKey); key != "" {
		if _, err := s.Store.CreateIdempotency(ctx, idempotencyScope, key, rec.ID, s.IdempotencyTTL); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				// A concurrent call with the same key won; retire ours.
				s.fail(ctx, rec.ID, nil, domain.ErrorPayload(errors.New("superseded by idempotent replay")))
				prev, gerr := s.Store.GetIdempotency(ctx, idempotencyScope, key)
				if gerr != nil {
					return nil, gerr
				}
				return s.Get(ctx, prev.RequestID)
			}
			logger.Warn().Err(err).Msg("store idempotency key failed")
		}
	}

	inputs, err := s.Media.Prepare(ctx, rec)
	if err != nil {
		logger.Error().Err(err).Msg("media preparation failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "media preparation failed")
		s.fail(ctx, rec.ID, nil, domain.ErrorPayload(err))
		return nil, err
	}

	sub, err := s.Render.Submit(ctx, render.MediaInputs{VideoURL: inputs.VideoURL, AudioURL: inputs.AudioURL}, s.callback(rec.ID))
	if err != nil {
		logger.Error().Err(err).Msg("render submission failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "render submission failed")
		resp := domain.ErrorPayload(err)
		var se *render.SubmissionError
		if errors.As(err, &se) {
			resp = se.Payload()
		}
		s.fail(ctx, rec.ID, &sub.Request, resp)
		return nil, err
	}

	upd, err := s.Store.ConditionalUpdate(ctx, rec.ID, []domain.Status{domain.StatusPending}, repo.Patch{
		Status:         repo.StatusPtr(domain.StatusGenerating),
		JobID:          repo.StringPtr(sub.JobID),
		RenderRequest:  repo.PayloadPtr(sub.Request),
		RenderResponse: repo.PayloadPtr(sub.Response),
	})
	if err != nil {
		// The job exists at the engine but the record is stuck in pending;
		// the webhook for it will be rejected by the status guard.
		logger.Error().Err(err).Str("job_id", sub.JobID).Msg("persist submission failed")
		span.RecordError(err)
		return nil, err
	}
	observeTransition([]domain.Status{domain.StatusPending}, domain.StatusGenerating)
	logger.Info().Str("job_id", sub.JobID).Msg("render job submitted")

	s.Polls.Start(upd.ID, sub.JobID)
	return upd, nil
}

// fail moves a pending request to failed, keeping what was exchanged with
// the engine. Errors are logged; the caller already has a failure to report.
func (s *VideoService) fail(ctx context.Context, id uint64, req *domain.Payload, resp domain.Payload) {
	patch := repo.Patch{Status: repo.StatusPtr(domain.StatusFailed), RenderResponse: &resp}
	if req != nil && !req.IsZero() {
		patch.RenderRequest = req
	}
	if _, err := s.Store.ConditionalUpdate(ctx, id, []domain.Status{domain.StatusPending}, patch); err != nil {
		log.Error().Err(err).Uint64("request_id", id).Msg("mark request failed")
		return
	}
	observeTransition([]domain.Status{domain.StatusPending}, domain.StatusFailed)
}

func (s *VideoService) callback(id uint64) string {
	if s.Callback == nil {
		return ""
	}
	return s.Callback(id)
}

// Get returns a request or ErrRequestNotFound.
func (s *VideoService) Get(ctx context.Context, id uint64) (*domain.VideoRequest, error) {
	rec, err := s.Store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	return rec, err
}

// ListPage returns requests newest first. It applies defaults for invalid
// page/pageSize and returns the total count.
func (s *VideoService) ListPage(ctx context.Context, statuses []domain.Status, page, pageSize int) ([]domain.VideoRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	items, total, err := s.Store.List(ctx, repo.ListFilter{Statuses: statuses, Offset: (page - 1) * pageSize, Limit: pageSize})
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.VideoRequest{}
	}
	return items, total, nil
}

// Complete is the shared completion handler. It resolves the request,
// rejects signals whose job id contradicts the stored one, and applies
// generating -> generated. Only the caller whose update commits dispatches;
// every other caller gets OutcomeDuplicate (or OutcomeAnomaly when its
// output url differs from the stored one) and nothing is overwritten.
func (s *VideoService) Complete(ctx context.Context, c Completion) (Outcome, error) {
	tr := otel.Tracer("services/VideoService")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.Int64("video.request_id", int64(c.RequestID)),
			attribute.String("completion.source", c.Source),
		),
	)
	defer span.End()
	logger := log.With().Uint64("request_id", c.RequestID).Str("source", c.Source).Logger()

	if c.JobID != "" {
		cur, err := s.Get(ctx, c.RequestID)
		if err != nil {
			return OutcomeDuplicate, err
		}
		if stored := cur.Job(); stored != "" && stored != c.JobID {
			anomalies.WithLabelValues("job_mismatch").Inc()
			logger.Warn().Str("job_id", stored).Str("signal_job_id", c.JobID).Msg("completion for a different job ignored")
			return OutcomeAnomaly, nil
		}
	}

	patch := repo.Patch{
		Status:   repo.StatusPtr(domain.StatusGenerated),
		VideoURL: repo.StringPtr(c.OutputURL),
	}
	if !c.Raw.IsZero() {
		patch.RenderResponse = &c.Raw
	}
	rec, err := s.Store.ConditionalUpdate(ctx, c.RequestID, []domain.Status{domain.StatusGenerating}, patch)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return OutcomeDuplicate, ErrRequestNotFound
	case errors.Is(err, repo.ErrPreconditionFailed):
		return s.duplicate(ctx, c, logger), nil
	case err != nil:
		span.RecordError(err)
		return OutcomeDuplicate, err
	}
	observeTransition([]domain.Status{domain.StatusGenerating}, domain.StatusGenerated)
	logger.Info().Str("video_url", c.OutputURL).Msg("video generated")

	// The winning signal stops the still-running poll task; dispatch must
	// outlive that cancellation when the poll task itself is the caller.
	s.Polls.Cancel(c.RequestID)
	if err := s.deliver(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn().Err(err).Msg("delivery failed; request stays generated")
	}
	return OutcomeApplied, nil
}

// duplicate classifies a losing completion signal.
func (s *VideoService) duplicate(ctx context.Context, c Completion, logger zerolog.Logger) Outcome {
	cur, err := s.Store.Get(ctx, c.RequestID)
	if err != nil {
		logger.Debug().Err(err).Msg("duplicate completion; current state unavailable")
		return OutcomeDuplicate
	}
	if stored := cur.URL(); stored != "" && stored != c.OutputURL {
		anomalies.WithLabelValues("output_mismatch").Inc()
		logger.Warn().Str("video_url", stored).Str("signal_url", c.OutputURL).Msg("completion with a different output ignored")
		return OutcomeAnomaly
	}
	logger.Debug().Str("status", string(cur.Status)).Msg("duplicate completion ignored")
	return OutcomeDuplicate
}

// deliver dispatches a generated request and records the outcome:
// generated -> sent on success, notificationResult := error otherwise.
func (s *VideoService) deliver(ctx context.Context, rec *domain.VideoRequest) error {
	tr := otel.Tracer("services/VideoService")
	ctx, span := tr.Start(ctx, "deliver", trace.WithAttributes(attribute.Int64("video.request_id", int64(rec.ID))))
	defer span.End()
	logger := log.With().Uint64("request_id", rec.ID).Logger()
	generated := []domain.Status{domain.StatusGenerated}

	res, derr := s.Notify.Dispatch(ctx, rec.Phone, rec.URL())
	if derr != nil {
		dispatches.WithLabelValues("failed").Inc()
		span.RecordError(derr)
		payload := domain.ErrorPayload(derr)
		var de *notify.DeliveryError
		if errors.As(derr, &de) {
			payload = de.Payload()
		}
		if _, err := s.Store.ConditionalUpdate(ctx, rec.ID, generated, repo.Patch{NotificationResult: &payload}); err != nil {
			logger.Error().Err(err).Msg("record delivery failure failed")
		}
		return derr
	}
	dispatches.WithLabelValues("sent").Inc()

	result := res.Raw
	if result.IsZero() {
		result, _ = domain.NewPayload(map[string]string{"sid": res.MessageID, "status": res.Status})
	}
	patch := repo.Patch{Status: repo.StatusPtr(domain.StatusSent), NotificationResult: &result}
	if res.MessageID != "" {
		patch.NotificationRef = repo.StringPtr(res.MessageID)
	}
	if _, err := s.Store.ConditionalUpdate(ctx, rec.ID, generated, patch); err != nil {
		logger.Error().Err(err).Str("message_id", res.MessageID).Msg("record delivery failed")
		if errors.Is(err, repo.ErrPreconditionFailed) || errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		// The message is out: keep its result and ref on the row so the
		// request is never redispatched, even though it stays generated.
		keep := repo.Patch{NotificationResult: patch.NotificationResult, NotificationRef: patch.NotificationRef}
		if _, kerr := s.Store.ConditionalUpdate(ctx, rec.ID, generated, keep); kerr != nil {
			logger.Error().Err(kerr).Str("message_id", res.MessageID).Msg("record sent message failed")
		}
		return nil
	}
	observeTransition(generated, domain.StatusSent)
	logger.Info().Str("message_id", res.MessageID).Msg("video sent")
	return nil
}

// Redispatch re-invokes delivery for a request stuck in generated.
// It returns the refreshed record and the delivery error, if any. A request
// that already carries a provider message id was delivered and is refused.
func (s *VideoService) Redispatch(ctx context.Context, id uint64) (*domain.VideoRequest, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.StatusGenerated || rec.URL() == "" {
		return rec, ErrNotDeliverable
	}
	if rec.NotificationRef != nil && *rec.NotificationRef != "" {
		return rec, errors.Wrapf(ErrNotDeliverable, "message %s already sent", *rec.NotificationRef)
	}
	derr := s.deliver(ctx, rec)
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return cur, derr
}

// RedispatchStale redispatches every generated request not updated since
// olderThan ago. It returns how many were sent and how many failed again.
func (s *VideoService) RedispatchStale(ctx context.Context, olderThan time.Duration) (sent, failed int, err error) {
	recs, err := s.Store.StaleGenerated(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, 0, err
	}
	for i := range recs {
		cur, derr := s.Redispatch(ctx, recs[i].ID)
		switch {
		case derr == nil && cur != nil && cur.Status == domain.StatusSent:
			sent++
		case errors.Is(derr, ErrNotDeliverable):
		default:
			failed++
		}
	}
	return sent, failed, nil
}
