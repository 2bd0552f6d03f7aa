package render

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/tbourn/go-video-backend/internal/domain"
)

const (
	userAgent    = "go-video-backend/1.0"
	maxBodyBytes = 1 << 20
)

// Engine job states reported by the status endpoint.
const (
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
	StateRejected  = "REJECTED"
	StateCanceled  = "CANCELED"
)

// MediaInputs are the prepared media references for one job.
type MediaInputs struct {
	VideoURL string
	AudioURL string
}

// Submission is the outcome of a successful Submit.
type Submission struct {
	JobID    string
	Request  domain.Payload
	Response domain.Payload
}

// JobStatus is one status query result.
type JobStatus struct {
	JobID     string
	State     string
	OutputURL string
	Raw       domain.Payload
}

// Completed reports terminal success with an output location.
func (s JobStatus) Completed() bool {
	return strings.EqualFold(s.State, StateCompleted) && s.OutputURL != ""
}

// Failed reports a terminal engine-side failure.
func (s JobStatus) Failed() bool {
	switch strings.ToUpper(s.State) {
	case StateFailed, StateRejected, StateCanceled:
		return true
	}
	return false
}

// Client is the render engine surface used by the lifecycle.
type Client interface {
	Submit(ctx context.Context, in MediaInputs, callbackURL string) (Submission, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

// Config configures SyncClient.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// SyncClient is the HTTP implementation of Client.
type SyncClient struct {
	base   string
	key    string
	model  string
	client *http.Client
}

// New builds a SyncClient. A nil HTTPClient gets one with cfg.Timeout.
func New(cfg Config) *SyncClient {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "lipsync-2"
	}
	return &SyncClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		key:    cfg.APIKey,
		model:  model,
		client: client,
	}
}

type generateInput struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type generateRequest struct {
	Model      string            `json:"model"`
	Input      []generateInput   `json:"input"`
	Options    map[string]string `json:"options,omitempty"`
	WebhookURL string            `json:"webhookUrl,omitempty"`
}

type generateResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	OutputURL   string `json:"outputUrl"`
	OutputSnake string `json:"output_url"`
}

func (r generateResponse) output() string {
	if r.OutputURL != "" {
		return r.OutputURL
	}
	return r.OutputSnake
}

// Submit posts a generate job. Any transport failure, non-2xx status, or
// response without a job id is returned as *SubmissionError.
func (c *SyncClient) Submit(ctx context.Context, in MediaInputs, callbackURL string) (Submission, error) {
	body := generateRequest{
		Model: c.model,
		Input: []generateInput{
			{Type: "video", URL: in.VideoURL},
			{Type: "audio", URL: in.AudioURL},
		},
		Options:    map[string]string{"sync_mode": "loop"},
		WebhookURL: callbackURL,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Submission{}, &SubmissionError{Err: errors.Wrap(err, "encode generate request")}
	}
	reqPayload := domain.RawPayload(raw)

	status, respBody, err := c.do(ctx, http.MethodPost, "/v2/generate", raw)
	if err != nil {
		return Submission{Request: reqPayload}, &SubmissionError{Err: err}
	}
	if status >= 300 {
		return Submission{Request: reqPayload}, &SubmissionError{StatusCode: status, Body: respBody}
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || strings.TrimSpace(parsed.ID) == "" {
		return Submission{Request: reqPayload}, &SubmissionError{StatusCode: status, Body: respBody, Err: errors.New("response carries no job id")}
	}
	return Submission{
		JobID:    parsed.ID,
		Request:  reqPayload,
		Response: domain.RawPayload(respBody),
	}, nil
}

// Status queries a job. Non-2xx answers are errors; the caller decides
// whether to keep polling.
func (c *SyncClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return JobStatus{}, errors.New("job id is required")
	}
	status, body, err := c.do(ctx, http.MethodGet, "/v2/generate/"+url.PathEscape(jobID), nil)
	if err != nil {
		return JobStatus{}, err
	}
	if status >= 300 {
		return JobStatus{JobID: jobID, Raw: domain.RawPayload(body)}, errors.Newf("render status returned %d: %s", status, snippet(body))
	}
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return JobStatus{JobID: jobID, Raw: domain.RawPayload(body)}, errors.Wrap(err, "decode render status")
	}
	id := parsed.ID
	if id == "" {
		id = jobID
	}
	return JobStatus{
		JobID:     id,
		State:     parsed.Status,
		OutputURL: parsed.output(),
		Raw:       domain.RawPayload(body),
	}, nil
}

func (c *SyncClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build render request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "render request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read render response")
	}
	return resp.StatusCode, data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
