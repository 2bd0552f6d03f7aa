package services

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/media"
	"github.com/tbourn/go-video-backend/internal/notify"
	"github.com/tbourn/go-video-backend/internal/render"
	"github.com/tbourn/go-video-backend/internal/repo"
)

// fakeEngine answers submissions with a fixed job id and status queries
// with whatever status returns.
type fakeEngine struct {
	mu        sync.Mutex
	submitErr error
	status    func(jobID string) (render.JobStatus, error)
	submits   atomic.Int32
	queries   atomic.Int32
	callbacks []string
}

func (f *fakeEngine) Submit(_ context.Context, in render.MediaInputs, callbackURL string) (render.Submission, error) {
	n := f.submits.Add(1)
	f.mu.Lock()
	f.callbacks = append(f.callbacks, callbackURL)
	err := f.submitErr
	f.mu.Unlock()
	req, _ := domain.NewPayload(map[string]string{"video": in.VideoURL, "audio": in.AudioURL})
	if err != nil {
		return render.Submission{Request: req}, err
	}
	job := "job-" + strconv.Itoa(int(n))
	resp, _ := domain.NewPayload(map[string]string{"id": job, "status": "PENDING"})
	return render.Submission{JobID: job, Request: req, Response: resp}, nil
}

func (f *fakeEngine) Status(_ context.Context, jobID string) (render.JobStatus, error) {
	f.queries.Add(1)
	f.mu.Lock()
	fn := f.status
	f.mu.Unlock()
	if fn == nil {
		return processing(jobID), nil
	}
	return fn(jobID)
}

func (f *fakeEngine) setStatus(fn func(jobID string) (render.JobStatus, error)) {
	f.mu.Lock()
	f.status = fn
	f.mu.Unlock()
}

func processing(jobID string) render.JobStatus {
	raw, _ := domain.NewPayload(map[string]string{"id": jobID, "status": "PROCESSING"})
	return render.JobStatus{JobID: jobID, State: "PROCESSING", Raw: raw}
}

func completed(jobID, url string) render.JobStatus {
	raw, _ := domain.NewPayload(map[string]string{"id": jobID, "status": "COMPLETED", "outputUrl": url})
	return render.JobStatus{JobID: jobID, State: render.StateCompleted, OutputURL: url, Raw: raw}
}

// fakeNotifier records every dispatch.
type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeNotifier) Dispatch(_ context.Context, phone, videoURL string) (notify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, phone+" "+videoURL)
	if f.err != nil {
		return notify.Result{}, f.err
	}
	return notify.Result{MessageID: "SM" + strconv.Itoa(len(f.calls)), Status: "queued"}, nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeNotifier) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// fakePreparer returns static media or err.
type fakePreparer struct {
	err error
}

func (f *fakePreparer) Prepare(context.Context, *domain.VideoRequest) (media.Inputs, error) {
	if f.err != nil {
		return media.Inputs{}, f.err
	}
	return media.Inputs{VideoURL: "https://cdn.test/actor.mp4", AudioURL: "https://cdn.test/audio.mp3"}, nil
}

// hookedStore delegates to the real store; before, when set, runs ahead of
// every ConditionalUpdate and fails it by returning an error.
type hookedStore struct {
	RequestStore
	mu     sync.Mutex
	before func(id uint64, expected []domain.Status, patch repo.Patch) error
}

func (s *hookedStore) ConditionalUpdate(ctx context.Context, id uint64, expected []domain.Status, patch repo.Patch) (*domain.VideoRequest, error) {
	s.mu.Lock()
	fn := s.before
	s.mu.Unlock()
	if fn != nil {
		if err := fn(id, expected, patch); err != nil {
			return nil, err
		}
	}
	return s.RequestStore.ConditionalUpdate(ctx, id, expected, patch)
}

func (s *hookedStore) setBefore(fn func(id uint64, expected []domain.Status, patch repo.Patch) error) {
	s.mu.Lock()
	s.before = fn
	s.mu.Unlock()
}

// errDBLocked is what the store surfaces once its reconnect and retry are
// spent.
var errDBLocked = errors.Mark(errors.New("database is locked"), repo.ErrTransient)

type harness struct {
	svc    *VideoService
	store  *repo.Store
	hooks  *hookedStore
	engine *fakeEngine
	notify *fakeNotifier
	media  *fakePreparer
}

func newHarness(t *testing.T, opts PollOptions) *harness {
	t.Helper()
	store, err := repo.Open(repo.DriverSQLite, filepath.Join(t.TempDir(), "videos.db"),
		repo.WithLogger(logger.Default.LogMode(logger.Silent)))
	require.NoError(t, err)
	sqlDB, err := store.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = store.Close() })

	if opts.Interval == 0 {
		opts.Interval = 5 * time.Millisecond
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 200
	}

	h := &harness{
		store:  store,
		hooks:  &hookedStore{RequestStore: store},
		engine: &fakeEngine{},
		notify: &fakeNotifier{},
		media:  &fakePreparer{},
	}
	callback := func(id uint64) string {
		return "http://videod.test/webhooks/render?requestId=" + strconv.FormatUint(id, 10)
	}
	h.svc = NewVideoService(Deps{
		Store:    h.hooks,
		Media:    h.media,
		Render:   h.engine,
		Notify:   h.notify,
		Callback: callback,
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Polls.Stop(ctx)
	})
	return h
}

var alice = CreateInput{ActorID: "actor-1", Name: "alice", City: "lisbon", Phone: "+15550001"}

func (h *harness) status(t *testing.T, id uint64) domain.Status {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func (h *harness) waitStatus(t *testing.T, id uint64, want domain.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := h.store.Get(context.Background(), id)
		return err == nil && rec.Status == want
	}, 5*time.Second, 5*time.Millisecond, "request %d never reached %s", id, want)
}
