package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const maxAudioBytes = 25 << 20

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, contentType string, err error)
}

// ElevenLabs is the text-to-speech client.
type ElevenLabs struct {
	base    string
	key     string
	voiceID string
	modelID string
	client  *http.Client
}

// NewElevenLabs builds the TTS client.
func NewElevenLabs(base, key, voiceID, modelID string, timeout time.Duration) *ElevenLabs {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ElevenLabs{
		base:    strings.TrimRight(base, "/"),
		key:     key,
		voiceID: voiceID,
		modelID: modelID,
		client:  &http.Client{Timeout: timeout},
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Synthesize posts the text and returns the audio stream.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	body, err := json.Marshal(ttsRequest{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, "", errors.Wrap(err, "encode tts request")
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", e.base, url.PathEscape(e.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", errors.Wrap(err, "build tts request")
	}
	req.Header.Set("xi-api-key", e.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", errors.Wrap(err, "tts request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", errors.Newf("tts returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, "", errors.Wrap(err, "read tts audio")
	}
	if len(audio) == 0 {
		return nil, "", errors.New("tts returned no audio")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return audio, ct, nil
}
