// Webhook HTTP handlers.
//
// Provider callbacks live outside the public API prefix:
//   - POST /webhooks/render?requestId={id}   (render engine completion)
//   - POST /webhooks/messaging/status        (delivery status, form encoded)
//
// Both answer 200 for every well-formed callback, including duplicates and
// callbacks for unknown records, so providers stop retrying.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookAck is the body of an accepted callback.
type WebhookAck struct {
	Status  string `json:"status" example:"ok"`
	Outcome string `json:"outcome,omitempty" example:"applied"`
}

// RenderWebhook godoc
// @ID          renderWebhook
// @Summary     Render engine completion callback
// @Description Applies the completion to the request named by requestId. The raw body is stored as the render response.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       requestId  query  int     true  "Request ID"  minimum(1)
// @Param       body       body   object  true  "Engine payload carrying outputUrl (or output_url) and optionally id"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Missing requestId or outputUrl"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /webhooks/render [post]
func (h *Handlers) RenderWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	outcome, err := h.hooks.HandleRender(c.Request.Context(), c.Query("requestId"), body)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WebhookAck{Status: "ok", Outcome: outcome.String()})
}

// MessagingStatusWebhook godoc
// @ID          messagingStatusWebhook
// @Summary     Messaging delivery-status callback
// @Tags        Webhooks
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Param       MessageSid     formData  string  true  "Provider message id"
// @Param       MessageStatus  formData  string  true  "Delivery status"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Missing fields"
// @Router      /webhooks/messaging/status [post]
func (h *Handlers) MessagingStatusWebhook(c *gin.Context) {
	if err := h.hooks.HandleMessagingStatus(c.Request.Context(), c.PostForm("MessageSid"), c.PostForm("MessageStatus")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WebhookAck{Status: "ok"})
}
