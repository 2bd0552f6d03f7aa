package render

import (
	"fmt"

	"github.com/tbourn/go-video-backend/internal/domain"
)

// SubmissionError means the engine did not accept the job. StatusCode is 0
// when the request never got an HTTP answer.
type SubmissionError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("render submission failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("render submission returned %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("render submission returned %d: %s", e.StatusCode, snippet(e.Body))
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Payload is the raw engine answer, or an error summary when there was none.
func (e *SubmissionError) Payload() domain.Payload {
	if p := domain.RawPayload(e.Body); !p.IsZero() {
		return p
	}
	return domain.ErrorPayload(e)
}
