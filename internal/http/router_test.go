package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-video-backend/internal/config"
	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/http/middleware"
	"github.com/tbourn/go-video-backend/internal/services"
)

// stubService satisfies both handler interfaces.
type stubService struct {
	created int
	hooks   int
}

func (s *stubService) Create(_ context.Context, _ services.CreateInput, _ string) (*domain.VideoRequest, error) {
	s.created++
	return &domain.VideoRequest{ID: uint64(s.created), Status: domain.StatusGenerating}, nil
}

func (s *stubService) Get(_ context.Context, id uint64) (*domain.VideoRequest, error) {
	return &domain.VideoRequest{ID: id, Status: domain.StatusPending}, nil
}

func (s *stubService) ListPage(context.Context, []domain.Status, int, int) ([]domain.VideoRequest, int64, error) {
	return []domain.VideoRequest{}, 0, nil
}

func (s *stubService) Redispatch(_ context.Context, id uint64) (*domain.VideoRequest, error) {
	return &domain.VideoRequest{ID: id, Status: domain.StatusSent}, nil
}

func (s *stubService) HandleRender(context.Context, string, []byte) (services.Outcome, error) {
	s.hooks++
	return services.OutcomeApplied, nil
}

func (s *stubService) HandleMessagingStatus(context.Context, string, string) error {
	s.hooks++
	return nil
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{}, // allow-all branch
		Security:    config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour},
		OTEL:        config.OTELConfig{ServiceName: "svc"},
	}
}

func newEngine(t *testing.T, cfg config.Config, deps Deps) (*gin.Engine, *stubService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &stubService{}
	if deps.Videos == nil {
		deps.Videos = svc
	}
	if deps.Hooks == nil {
		deps.Hooks = svc
	}
	r := gin.New()
	RegisterRoutes(r, deps, cfg)
	return r, svc
}

func serve(r http.Handler, method, target string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_HealthAndFallbacks(t *testing.T) {
	r, _ := newEngine(t, baseConfig(), Deps{})

	w := serve(r, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = serve(r, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")

	w = serve(r, http.MethodDelete, "/health", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "method_not_allowed")
}

func TestRegisterRoutes_HealthDegraded(t *testing.T) {
	r, _ := newEngine(t, baseConfig(), Deps{Ready: func(context.Context) error { return errors.New("db down") }})

	w := serve(r, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestRegisterRoutes_CORSAllowList(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS.AllowedOrigins = []string{"http://example.com"}
	r, _ := newEngine(t, cfg, Deps{})

	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://evil.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterRoutes_VideoAPI(t *testing.T) {
	var lookups int
	r, svc := newEngine(t, baseConfig(), Deps{
		Idempotency: func(_ context.Context, scope, key string, _ time.Time) (bool, error) {
			lookups++
			assert.Equal(t, "videos", scope)
			return key == "seen", nil
		},
	})

	body := []byte(`{"actorId":"a","name":"n","city":"c","phone":"p"}`)
	w := serve(r, http.MethodPost, "/api/videos", body, map[string]string{
		"Content-Type": "application/json", middleware.HeaderIdempotencyKey: "fresh",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get(middleware.HeaderIdempotencyReplayed))

	w = serve(r, http.MethodPost, "/api/videos", body, map[string]string{
		"Content-Type": "application/json", middleware.HeaderIdempotencyKey: "seen",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "true", w.Header().Get(middleware.HeaderIdempotencyReplayed))
	assert.Equal(t, 2, lookups)
	assert.Equal(t, 2, svc.created)

	w = serve(r, http.MethodPost, "/api/videos", body, map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/api/videos/9", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":9,"status":"pending","video_url":null}`, w.Body.String())

	w = serve(r, http.MethodGet, "/api/videos", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"videos":[]`)

	w = serve(r, http.MethodPost, "/api/videos/9/redispatch", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// not mounted under the API prefix
	w = serve(r, http.MethodGet, "/videos/9", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterRoutes_RateLimitSparesWebhooks(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, svc := newEngine(t, cfg, Deps{})

	hdr := map[string]string{"X-Client-ID": "c1"}
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/videos/1", nil, hdr).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/api/videos/1", nil, hdr).Code)

	// a different client has its own bucket
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/videos/1", nil, map[string]string{"X-Client-ID": "c2"}).Code)

	for i := 0; i < 3; i++ {
		w := serve(r, http.MethodPost, "/webhooks/render?requestId=1", []byte(`{"outputUrl":"https://x"}`), hdr)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok","outcome":"applied"}`, w.Body.String())
	}
	w := serve(r, http.MethodPost, "/webhooks/messaging/status", []byte("MessageSid=SM1&MessageStatus=read"),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, svc.hooks)
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	r, _ := newEngine(t, baseConfig(), Deps{})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/swagger/index.html", nil, nil).Code)

	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r, _ = newEngine(t, cfg, Deps{})
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/swagger/index.html", nil, nil).Code)
}

func TestRegisterRoutes_SecurityHeadersFollowConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.APIBasePath = "/v2"
	cfg.SwaggerEnabled = true
	r, _ := newEngine(t, cfg, Deps{})

	proxied := map[string]string{"X-Forwarded-Proto": "https"}
	w := serve(r, http.MethodGet, "/v2/videos/3", nil, proxied)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "max-age=3600; includeSubDomains; preload", w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), middleware.HeaderIdempotencyReplayed)

	// plain HTTP never gets HSTS
	w = serve(r, http.MethodGet, "/v2/videos/3", nil, nil)
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	// webhooks sit outside the API prefix but are hardened the same way
	w = serve(r, http.MethodPost, "/webhooks/render?requestId=3", []byte(`{"outputUrl":"https://x"}`), proxied)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	// docs assets stay cacheable
	w = serve(r, http.MethodGet, "/swagger/index.html", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	cfg.Security.EnableHSTS = false
	r, _ = newEngine(t, cfg, Deps{})
	w = serve(r, http.MethodGet, "/v2/videos/3", nil, proxied)
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestRegisterRoutes_Metrics(t *testing.T) {
	r, _ := newEngine(t, baseConfig(), Deps{})
	_ = serve(r, http.MethodGet, "/health", nil, nil)

	w := serve(r, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
