package notify

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-video-backend/internal/domain"
)

// DeliveryError means the provider did not accept the message.
type DeliveryError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("messaging provider returned %d: %s", e.StatusCode, snippet(e.Body))
}

// snippet trims a provider body to something fit for an error or log line.
func snippet(b []byte) string {
	body := strings.TrimSpace(string(b))
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return body
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Payload is the provider answer, or an error summary when there was none.
func (e *DeliveryError) Payload() domain.Payload {
	if p := domain.RawPayload(e.Body); !p.IsZero() {
		return p
	}
	return domain.ErrorPayload(e)
}
