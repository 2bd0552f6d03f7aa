// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, provider credentials, polling cadence, request
// protection, and observability.
package config

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

// DBConfig selects the storage backend.
type DBConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite"` // sqlite|postgres
	Path   string `envconfig:"DB_PATH" default:"videos.db"`
	URL    string `envconfig:"DATABASE_URL"`
}

// RenderConfig defines the render engine connection.
type RenderConfig struct {
	APIBase       string        `envconfig:"SYNC_API_BASE" default:"https://api.sync.so"`
	APIKey        string        `envconfig:"SYNC_API_KEY"`
	Model         string        `envconfig:"SYNC_MODEL" default:"lipsync-2"`
	Timeout       time.Duration `envconfig:"SYNC_TIMEOUT" default:"30s"`
	ActorVideoURL string        `envconfig:"ACTOR_VIDEO_URL"`
	ActorVideoCSV string        `envconfig:"ACTOR_VIDEOS"` // actorId=url,actorId=url

	// ActorVideos is parsed from ActorVideoCSV by Load.
	ActorVideos map[string]string `ignored:"true"`
}

// PollConfig defines the status polling cadence.
type PollConfig struct {
	Interval     time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	MaxAttempts  int           `envconfig:"POLL_MAX_ATTEMPTS" default:"20"`
	InitialDelay time.Duration `envconfig:"POLL_INITIAL_DELAY" default:"10s"`
}

// MediaConfig defines text-to-speech and audio storage.
type MediaConfig struct {
	TTSAPIBase string        `envconfig:"ELEVEN_API_BASE" default:"https://api.elevenlabs.io"`
	TTSAPIKey  string        `envconfig:"ELEVEN_API_KEY"`
	VoiceID    string        `envconfig:"ELEVEN_VOICE_ID" default:"JBFqnCBsd6RMkjVDRZzb"`
	ModelID    string        `envconfig:"ELEVEN_MODEL_ID" default:"eleven_multilingual_v2"`
	UploadURL  string        `envconfig:"MEDIA_UPLOAD_URL"` // PUT target prefix
	PublicURL  string        `envconfig:"MEDIA_PUBLIC_URL"` // public prefix for uploaded objects
	AudioURL   string        `envconfig:"MEDIA_AUDIO_URL"`  // static fallback audio
	Timeout    time.Duration `envconfig:"MEDIA_TIMEOUT" default:"60s"`
}

// NotifyConfig defines the WhatsApp messaging provider.
type NotifyConfig struct {
	APIBase    string        `envconfig:"TWILIO_API_BASE" default:"https://api.twilio.com"`
	AccountSID string        `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  string        `envconfig:"TWILIO_AUTH_TOKEN"`
	From       string        `envconfig:"TWILIO_WHATSAPP_FROM"`
	Body       string        `envconfig:"NOTIFY_BODY" default:"Here is your personalized video!"`
	Timeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"15s"`
}

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `envconfig:"ENABLE_HSTS" default:"false"`
	HSTSMaxAge time.Duration `envconfig:"HSTS_MAX_AGE" default:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `envconfig:"OTEL_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure    bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	ServiceName string  `envconfig:"OTEL_SERVICE_NAME" default:"go-video-backend"`
	SampleRatio float64 `envconfig:"OTEL_TRACES_SAMPLER_ARG" default:"1.0"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `envconfig:"PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"90s"` // intake waits on TTS + submit
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	GinMode           string        `envconfig:"GIN_MODE" default:"release"`
	PublicBaseURL     string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	// Logging / Docs
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	SwaggerEnabled bool   `envconfig:"SWAGGER_ENABLED" default:"false"`
	APIBasePath    string `envconfig:"API_BASE_PATH" default:"/api"`

	// Storage
	DB       DBConfig
	LockPath string `envconfig:"LOCK_PATH" default:"videod.lock"`

	// Providers
	Render RenderConfig
	Poll   PollConfig
	Media  MediaConfig
	Notify NotifyConfig

	// Rate limiting
	RateRPS   float64 `envconfig:"RATE_RPS" default:"5"`
	RateBurst int     `envconfig:"RATE_BURST" default:"10"`

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process env config")
	}

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.CORS.AllowedOrigins = compact(cfg.CORS.AllowedOrigins)
	cfg.Render.ActorVideos = parseActorVideos(cfg.Render.ActorVideoCSV)

	return cfg, cfg.Validate()
}

// Validate checks value ranges and cross-field coherence.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if u, err := url.Parse(cfg.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("PUBLIC_BASE_URL must be an absolute URL")
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	if cfg.Poll.Interval <= 0 {
		return errors.New("POLL_INTERVAL must be > 0")
	}
	if cfg.Poll.MaxAttempts < 1 {
		return errors.New("POLL_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Poll.InitialDelay < 0 {
		return errors.New("POLL_INITIAL_DELAY must be >= 0")
	}
	if cfg.Render.Timeout <= 0 || cfg.Media.Timeout <= 0 || cfg.Notify.Timeout <= 0 {
		return errors.New("provider timeouts must be positive durations")
	}

	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c DBConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

// CallbackURL returns the render webhook URL for a request id.
func (cfg Config) CallbackURL(requestID uint64) string {
	return cfg.PublicBaseURL + "/webhooks/render?requestId=" + strconv.FormatUint(requestID, 10)
}

// Configured reports whether messaging credentials are present.
func (c NotifyConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseActorVideos reads "actor=url,actor=url". Entries without '=' are skipped.
func parseActorVideos(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
