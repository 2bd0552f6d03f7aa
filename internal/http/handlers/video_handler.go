// Video HTTP handlers.
//
// This file exposes REST endpoints for video requests:
//   - POST   /videos                  (intake; submits the render job)
//   - GET    /videos                  (list, paginated, newest first)
//   - GET    /videos/{id}             (status query)
//   - POST   /videos/{id}/redispatch  (retry delivery of a generated video)
//
// Handlers are transport-thin: they validate input, call the lifecycle
// service, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/http/middleware"
	"github.com/tbourn/go-video-backend/internal/services"
	"github.com/tbourn/go-video-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// VideoService defines the video lifecycle operations consumed by HTTP handlers.
type VideoService interface {
	// Create validates, persists, and submits a new request.
	Create(ctx context.Context, in services.CreateInput, idempotencyKey string) (*domain.VideoRequest, error)
	// Get returns a request by id.
	Get(ctx context.Context, id uint64) (*domain.VideoRequest, error)
	// ListPage returns a page of requests and the total count.
	ListPage(ctx context.Context, statuses []domain.Status, page, pageSize int) ([]domain.VideoRequest, int64, error)
	// Redispatch retries delivery of a generated request.
	Redispatch(ctx context.Context, id uint64) (*domain.VideoRequest, error)
}

// WebhookService defines the inbound provider callbacks.
type WebhookService interface {
	// HandleRender applies a render-engine completion callback.
	HandleRender(ctx context.Context, requestID string, body []byte) (services.Outcome, error)
	// HandleMessagingStatus records a messaging delivery-status callback.
	HandleMessagingStatus(ctx context.Context, messageID, status string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for video requests and provider webhooks.
type Handlers struct {
	videos VideoService
	hooks  WebhookService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(videos VideoService, hooks WebhookService) *Handlers {
	return &Handlers{videos: videos, hooks: hooks}
}

//
// DTOs
//

// CreateVideoRequest is the JSON payload for requesting a personalized video.
type CreateVideoRequest struct {
	ActorID string `json:"actorId" example:"actor-1"`
	Name    string `json:"name" example:"Alice"`
	City    string `json:"city" example:"Lisbon"`
	Phone   string `json:"phone" example:"+15551234567"`
}

// VideoResponse is the status view of a request.
type VideoResponse struct {
	ID       uint64  `json:"id" example:"42"`
	Status   string  `json:"status" example:"generating"`
	VideoURL *string `json:"video_url" example:"https://cdn.example.com/out/42.mp4"`
}

// VideoSummary is one row of a listing.
type VideoSummary struct {
	VideoResponse
	ActorID   string    `json:"actor_id" example:"actor-1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListVideosResponse wraps a page of requests and pagination information.
type ListVideosResponse struct {
	Videos     []VideoSummary `json:"videos"`
	Pagination Pagination     `json:"pagination"`
}

func toResponse(r *domain.VideoRequest) VideoResponse {
	return VideoResponse{ID: r.ID, Status: string(r.Status), VideoURL: r.VideoURL}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// pathID parses the :id path parameter or writes a 400.
func pathID(c *gin.Context) (uint64, bool) {
	id, err := utils.ParseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

//
// Handlers
//

// CreateVideo godoc
// @ID          createVideo
// @Summary     Request a personalized video
// @Description Persists the request, prepares media, submits the render job, and starts tracking it. Replays with the same Idempotency-Key return the original request.
// @Tags        Videos
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false  "Replay-safe intake key"  example(order-42)
// @Param       body             body    handlers.CreateVideoRequest  true  "Intake payload"
//
// @Success     202  {object}  handlers.VideoResponse
// @Header      202  {string}  Idempotency-Replayed  "true when served from a prior request"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     502  {object}  handlers.ErrorResponse  "Media preparation or render submission failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /videos [post]
func (h *Handlers) CreateVideo(c *gin.Context) {
	var req CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	rec, err := h.videos.Create(c.Request.Context(), services.CreateInput{
		ActorID: req.ActorID,
		Name:    req.Name,
		City:    req.City,
		Phone:   req.Phone,
	}, key)
	if err != nil {
		failErr(c, err)
		return
	}
	if middleware.IsReplay(c) {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusAccepted, toResponse(rec))
}

// GetVideo godoc
// @ID          getVideo
// @Summary     Get video request status
// @Tags        Videos
// @Produce     json
// @Param       id   path      int  true  "Request ID"  minimum(1)
// @Success     200  {object}  handlers.VideoResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /videos/{id} [get]
func (h *Handlers) GetVideo(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	rec, err := h.videos.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, toResponse(rec))
}

// ListVideos godoc
// @ID          listVideos
// @Summary     List video requests (paginated)
// @Description Returns requests newest first, optionally filtered by a comma-separated status list.
// @Tags        Videos
// @Produce     json
// @Param       status     query   string  false  "Statuses, e.g. generated,failed"
// @Param       page       query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListVideosResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown status"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /videos [get]
func (h *Handlers) ListVideos(c *gin.Context) {
	var statuses []domain.Status
	for _, raw := range utils.SplitCSV(c.Query("status")) {
		st, err := domain.ParseStatus(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status "+strings.TrimSpace(raw))
			return
		}
		statuses = append(statuses, st)
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.videos.ListPage(c.Request.Context(), statuses, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	rows := make([]VideoSummary, 0, len(items))
	for i := range items {
		rows = append(rows, VideoSummary{
			VideoResponse: toResponse(&items[i]),
			ActorID:       items[i].ActorID,
			CreatedAt:     items[i].CreatedAt,
			UpdatedAt:     items[i].UpdatedAt,
		})
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListVideosResponse{
		Videos: rows,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// RedispatchVideo godoc
// @ID          redispatchVideo
// @Summary     Retry delivery of a generated video
// @Tags        Videos
// @Produce     json
// @Param       id   path      int  true  "Request ID"  minimum(1)
// @Success     200  {object}  handlers.VideoResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Not in generated"
// @Failure     502  {object}  handlers.ErrorResponse  "Delivery failed again"
// @Router      /videos/{id}/redispatch [post]
func (h *Handlers) RedispatchVideo(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	rec, err := h.videos.Redispatch(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, toResponse(rec))
}
