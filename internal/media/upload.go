package media

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Uploader stores an object and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// HTTPUploader PUTs objects under a prefix (a bucket endpoint or a
// presigning proxy) and serves them from a public prefix.
type HTTPUploader struct {
	uploadBase string
	publicBase string
	client     *http.Client
}

// NewHTTPUploader builds an uploader. An empty publicBase reuses uploadBase.
func NewHTTPUploader(uploadBase, publicBase string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	uploadBase = strings.TrimRight(uploadBase, "/")
	publicBase = strings.TrimRight(publicBase, "/")
	if publicBase == "" {
		publicBase = uploadBase
	}
	return &HTTPUploader{uploadBase: uploadBase, publicBase: publicBase, client: &http.Client{Timeout: timeout}}
}

// Upload PUTs data at key.
func (u *HTTPUploader) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	key = strings.TrimLeft(key, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.uploadBase+"/"+key, bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "build upload request")
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "upload")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", errors.Newf("upload returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return u.publicBase + "/" + key, nil
}
