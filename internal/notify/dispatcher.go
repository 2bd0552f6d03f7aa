// Package notify delivers finished videos to requesters over WhatsApp
// through the Twilio Messages API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-video-backend/internal/domain"
)

const (
	userAgent    = "go-video-backend/1.0"
	whatsappPref = "whatsapp:"
)

// ErrDisabled is returned by the dispatcher built without credentials.
var ErrDisabled = errors.New("messaging provider not configured")

// Result is a successful delivery.
type Result struct {
	MessageID string
	Status    string
	Raw       domain.Payload
}

// Dispatcher sends the artifact to a phone number.
type Dispatcher interface {
	Dispatch(ctx context.Context, phone, videoURL string) (Result, error)
}

// Config configures the Twilio dispatcher.
type Config struct {
	BaseURL        string
	AccountSID     string
	AuthToken      string
	From           string
	Body           string
	StatusCallback string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// New returns a Twilio dispatcher, or one that always fails with
// ErrDisabled when credentials are missing.
func New(cfg Config) Dispatcher {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return disabled{}
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	body := cfg.Body
	if strings.TrimSpace(body) == "" {
		body = "Here is your personalized video!"
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &twilio{
		endpoint: fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", base, url.PathEscape(cfg.AccountSID)),
		sid:      cfg.AccountSID,
		token:    cfg.AuthToken,
		from:     withChannel(cfg.From),
		body:     body,
		callback: cfg.StatusCallback,
		client:   client,
	}
}

type twilio struct {
	endpoint string
	sid      string
	token    string
	from     string
	body     string
	callback string
	client   *http.Client
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (t *twilio) Dispatch(ctx context.Context, phone, videoURL string) (Result, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(videoURL) == "" {
		return Result{}, &DeliveryError{Err: errors.New("phone and video url are required")}
	}

	form := url.Values{}
	form.Set("From", t.from)
	form.Set("To", withChannel(phone))
	form.Set("Body", t.body)
	form.Add("MediaUrl", videoURL)
	if t.callback != "" {
		form.Set("StatusCallback", t.callback)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, &DeliveryError{Err: errors.Wrap(err, "build message request")}
	}
	req.SetBasicAuth(t.sid, t.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, &DeliveryError{Err: errors.Wrap(err, "send message")}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return Result{}, &DeliveryError{StatusCode: resp.StatusCode, Body: raw}
	}

	// The message is accepted either way; without a sid the status
	// callbacks for it cannot be correlated.
	var parsed messageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		log.Warn().Err(err).Int("status", resp.StatusCode).Str("body", snippet(raw)).Msg("unparseable message reply")
	} else if parsed.SID == "" {
		log.Warn().Int("status", resp.StatusCode).Str("body", snippet(raw)).Msg("message reply carries no sid")
	}
	return Result{MessageID: parsed.SID, Status: parsed.Status, Raw: domain.RawPayload(raw)}, nil
}

func withChannel(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, whatsappPref) {
		return addr
	}
	return whatsappPref + addr
}

type disabled struct{}

func (disabled) Dispatch(context.Context, string, string) (Result, error) {
	return Result{}, ErrDisabled
}
