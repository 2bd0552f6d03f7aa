package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/repo"
)

// renderEvent is the subset of the engine callback body we correlate on.
type renderEvent struct {
	ID          string `json:"id"`
	JobID       string `json:"jobId"`
	OutputURL   string `json:"outputUrl"`
	OutputSnake string `json:"output_url"`
}

func (e renderEvent) job() string {
	if e.ID != "" {
		return strings.TrimSpace(e.ID)
	}
	return strings.TrimSpace(e.JobID)
}

func (e renderEvent) output() string {
	if e.OutputURL != "" {
		return strings.TrimSpace(e.OutputURL)
	}
	return strings.TrimSpace(e.OutputSnake)
}

// HandleRender applies an inbound render-engine callback. requestID comes
// from the callback query string; body is the raw callback payload and is
// persisted as the render response when the signal wins.
//
// A *ValidationError means the callback is unusable and nothing was
// touched. Signals for unknown requests, duplicates, and job mismatches are
// acknowledged (nil error) so the engine stops retrying.
func (s *VideoService) HandleRender(ctx context.Context, requestID string, body []byte) (Outcome, error) {
	tr := otel.Tracer("services/VideoService")
	ctx, span := tr.Start(ctx, "HandleRender", trace.WithAttributes(attribute.String("webhook.request_id", requestID)))
	defer span.End()

	var missing []string
	id, err := strconv.ParseUint(strings.TrimSpace(requestID), 10, 64)
	if err != nil || id == 0 {
		missing = append(missing, "requestId")
	}
	var ev renderEvent
	if len(body) == 0 || json.Unmarshal(body, &ev) != nil {
		missing = append(missing, "outputUrl")
	} else if ev.output() == "" {
		missing = append(missing, "outputUrl")
	}
	if len(missing) > 0 {
		return OutcomeAnomaly, &ValidationError{Fields: missing}
	}

	outcome, err := s.Complete(ctx, Completion{
		RequestID: id,
		JobID:     ev.job(),
		OutputURL: ev.output(),
		Raw:       domain.RawPayload(body),
		Source:    "webhook",
	})
	if errors.Is(err, ErrRequestNotFound) {
		anomalies.WithLabelValues("unknown_request").Inc()
		log.Warn().Uint64("request_id", id).Msg("render callback for unknown request ignored")
		return OutcomeAnomaly, nil
	}
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}
	return outcome, nil
}

// statusMergeAttempts bounds the compare-and-set retries of a delivery
// status merge.
const statusMergeAttempts = 3

// HandleMessagingStatus merges a provider delivery-status callback into the
// notification result of the request that owns messageID. Unknown ids and
// requests outside generated/sent are ignored.
//
// The merge is a read-modify-write guarded on updated_at: when another
// callback lands in between, the row is re-read and merged again, so
// "delivered" arriving right after "sent" never drops either status from
// delivery_history.
func (s *VideoService) HandleMessagingStatus(ctx context.Context, messageID, status string) error {
	messageID = strings.TrimSpace(messageID)
	status = strings.TrimSpace(status)
	if messageID == "" || status == "" {
		var missing []string
		if messageID == "" {
			missing = append(missing, "MessageSid")
		}
		if status == "" {
			missing = append(missing, "MessageStatus")
		}
		return &ValidationError{Fields: missing}
	}

	deliverable := []domain.Status{domain.StatusGenerated, domain.StatusSent}
	for attempt := 1; ; attempt++ {
		rec, err := s.Store.FindByNotificationRef(ctx, messageID)
		if errors.Is(err, repo.ErrNotFound) {
			log.Debug().Str("message_id", messageID).Msg("status callback for unknown message ignored")
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != domain.StatusGenerated && rec.Status != domain.StatusSent {
			return nil
		}

		result, err := mergeDeliveryStatus(rec.NotificationResult, status)
		if err != nil {
			return err
		}
		seen := rec.UpdatedAt
		_, err = s.Store.ConditionalUpdate(ctx, rec.ID, deliverable,
			repo.Patch{NotificationResult: &result, UnchangedSince: &seen},
		)
		switch {
		case err == nil:
			log.Info().Uint64("request_id", rec.ID).Str("message_id", messageID).Str("delivery_status", status).Msg("delivery status recorded")
			return nil
		case errors.Is(err, repo.ErrNotFound):
			return nil
		case errors.Is(err, repo.ErrPreconditionFailed) && attempt < statusMergeAttempts:
			log.Debug().Uint64("request_id", rec.ID).Int("attempt", attempt).Msg("delivery status raced, merging again")
		case errors.Is(err, repo.ErrPreconditionFailed):
			log.Warn().Uint64("request_id", rec.ID).Str("message_id", messageID).Str("delivery_status", status).Msg("delivery status dropped after repeated races")
			return nil
		default:
			return err
		}
	}
}

// mergeDeliveryStatus sets delivery_status on the stored result and appends
// it to delivery_history. A result that is not a JSON object is kept under
// "previous".
func mergeDeliveryStatus(prev domain.Payload, status string) (domain.Payload, error) {
	merged := map[string]any{}
	if !prev.IsZero() {
		if err := prev.Decode(&merged); err != nil {
			merged = map[string]any{"previous": string(prev.Data)}
		}
	}
	history, _ := merged["delivery_history"].([]any)
	merged["delivery_history"] = append(history, status)
	merged["delivery_status"] = status
	result, err := domain.NewPayload(merged)
	if err != nil {
		return domain.Payload{}, errors.Wrap(err, "encode notification result")
	}
	return result, nil
}
