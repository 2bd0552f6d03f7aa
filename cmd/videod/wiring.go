package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	_ "github.com/tbourn/go-video-backend/docs"
	"github.com/tbourn/go-video-backend/internal/config"
	httpapi "github.com/tbourn/go-video-backend/internal/http"
	"github.com/tbourn/go-video-backend/internal/media"
	"github.com/tbourn/go-video-backend/internal/notify"
	"github.com/tbourn/go-video-backend/internal/observability"
	"github.com/tbourn/go-video-backend/internal/render"
	"github.com/tbourn/go-video-backend/internal/repo"
	"github.com/tbourn/go-video-backend/internal/services"
	"github.com/tbourn/go-video-backend/internal/sysutil"
)

var version = "dev"

// openStore connects the configured database.
func openStore(cfg config.Config) (*repo.Store, error) {
	var opts []repo.Option
	if cfg.OTEL.Enabled {
		opts = append(opts, repo.WithTracing())
	}
	st, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN(), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.DB.Driver)
	}
	return st, nil
}

func newPreparer(cfg config.Config) *media.Service {
	mc := media.Config{
		StaticAudio:  cfg.Media.AudioURL,
		ActorVideos:  cfg.Render.ActorVideos,
		DefaultVideo: cfg.Render.ActorVideoURL,
	}
	if cfg.Media.TTSAPIKey != "" {
		mc.TTS = media.NewElevenLabs(cfg.Media.TTSAPIBase, cfg.Media.TTSAPIKey, cfg.Media.VoiceID, cfg.Media.ModelID, cfg.Media.Timeout)
	}
	if cfg.Media.UploadURL != "" {
		mc.Uploader = media.NewHTTPUploader(cfg.Media.UploadURL, cfg.Media.PublicURL, cfg.Media.Timeout)
	}
	return media.NewService(mc)
}

func newDispatcher(cfg config.Config) notify.Dispatcher {
	if !cfg.Notify.Configured() {
		log.Warn().Msg("messaging credentials missing; deliveries will fail until configured")
	}
	return notify.New(notify.Config{
		BaseURL:        cfg.Notify.APIBase,
		AccountSID:     cfg.Notify.AccountSID,
		AuthToken:      cfg.Notify.AuthToken,
		From:           cfg.Notify.From,
		Body:           cfg.Notify.Body,
		StatusCallback: cfg.PublicBaseURL + "/webhooks/messaging/status",
		Timeout:        cfg.Notify.Timeout,
	})
}

// newVideoService assembles the coordinator around an open store. Polls are
// not resumed here.
func newVideoService(cfg config.Config, st *repo.Store) *services.VideoService {
	return services.NewVideoService(services.Deps{
		Store:  st,
		Media:  newPreparer(cfg),
		Notify: newDispatcher(cfg),
		Render: render.New(render.Config{
			BaseURL: cfg.Render.APIBase,
			APIKey:  cfg.Render.APIKey,
			Model:   cfg.Render.Model,
			Timeout: cfg.Render.Timeout,
		}),
		Callback:       cfg.CallbackURL,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, services.PollOptions{
		Interval:     cfg.Poll.Interval,
		MaxAttempts:  cfg.Poll.MaxAttempts,
		InitialDelay: cfg.Poll.InitialDelay,
	})
}

//
// fx providers (serve)
//

func provideLock(lc fx.Lifecycle, cfg config.Config) (*sysutil.InstanceLock, error) {
	lock, err := sysutil.AcquireLock(cfg.LockPath)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return lock.Release() },
	})
	return lock, nil
}

func provideTracing(lc fx.Lifecycle, cfg config.Config) (observability.Shutdown, error) {
	shutdown, err := observability.SetupOTel(context.Background(), cfg.OTEL, version)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return shutdown, nil
}

// provideStore depends on the lock so a second server never touches the store.
func provideStore(lc fx.Lifecycle, cfg config.Config, _ *sysutil.InstanceLock, _ observability.Shutdown) (*repo.Store, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return st.Close() },
	})
	return st, nil
}

func provideService(lc fx.Lifecycle, cfg config.Config, st *repo.Store) *services.VideoService {
	svc := newVideoService(cfg, st)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := svc.Polls.Resume(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("resumed", n).Msg("poll tasks resumed")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return svc.Polls.Stop(ctx)
		},
	})
	return svc
}

func provideEngine(cfg config.Config, st *repo.Store, svc *services.VideoService) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Videos: svc,
		Hooks:  svc,
		Idempotency: func(ctx context.Context, scope, key string, _ time.Time) (bool, error) {
			rec, err := st.GetIdempotency(ctx, scope, key)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return rec != nil && err == nil, err
		},
		Ready: st.Ping,
	}, cfg)
	return engine
}

func startServer(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen %s", srv.Addr)
			}
			log.Info().Str("addr", srv.Addr).Str("mode", gin.Mode()).Str("api", cfg.APIBasePath).Msg("server starting")
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("server stopped unexpectedly")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("server shutting down")
			return srv.Shutdown(ctx)
		},
	})
}

// serverModule wires the full serving process. Stop hooks run in reverse:
// HTTP drains first, then polls stop, then the store closes and the lock is
// released.
func serverModule(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Module("process", fx.Provide(provideLock, provideTracing)),
		fx.Module("db", fx.Provide(provideStore)),
		fx.Module("services", fx.Provide(provideService)),
		fx.Module("http", fx.Provide(provideEngine)),
		fx.Invoke(startServer),
	)
}
