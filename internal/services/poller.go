// Package services – Poller
//
// Poller owns one background task per in-flight render job. Each task waits
// an initial delay, then queries the engine on a fixed interval for a fixed
// number of attempts. A completed job is handed to the shared completion
// handler; an engine-reported failure moves the request to failed; an
// exhausted budget moves it to timeout. Every write is a conditional update
// guarded on generating, so a task whose request was already resolved by
// the webhook path stops on its next tick. The completion handler also
// cancels the task explicitly after winning.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/render"
	"github.com/tbourn/go-video-backend/internal/repo"
)

// Completion is an authoritative "artifact ready" signal from either path.
type Completion struct {
	RequestID uint64
	JobID     string // empty when the source does not know it
	OutputURL string
	Raw       domain.Payload
	Source    string // poll|webhook
}

// Outcome reports what the completion handler did with a signal.
type Outcome int

const (
	// OutcomeApplied means this signal moved the request to generated.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate means another signal already resolved the request.
	OutcomeDuplicate
	// OutcomeAnomaly means the signal contradicts the stored request.
	OutcomeAnomaly
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "anomaly"
	}
}

// Completer is the shared completion handler.
type Completer interface {
	Complete(ctx context.Context, c Completion) (Outcome, error)
}

// PollOptions parameterizes every poll task.
type PollOptions struct {
	Interval     time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
}

type pollTask struct {
	cancel context.CancelFunc
}

// Poller is the registry of running poll tasks.
type Poller struct {
	store  RequestStore
	engine render.Client
	done   Completer
	opts   PollOptions

	mu      sync.Mutex
	tasks   map[uint64]*pollTask
	wg      sync.WaitGroup
	base    context.Context
	stop    context.CancelFunc
	stopped bool
}

// NewPoller builds a Poller. done may be set later with SetCompleter
// before the first Start.
func NewPoller(store RequestStore, engine render.Client, done Completer, opts PollOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 20
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	base, stop := context.WithCancel(context.Background())
	return &Poller{
		store:  store,
		engine: engine,
		done:   done,
		opts:   opts,
		tasks:  map[uint64]*pollTask{},
		base:   base,
		stop:   stop,
	}
}

// SetCompleter installs the completion handler.
func (p *Poller) SetCompleter(done Completer) { p.done = done }

// Start launches a poll task for the request unless one is already running
// or the poller was stopped.
func (p *Poller) Start(id uint64, jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if _, ok := p.tasks[id]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(p.base)
	t := &pollTask{cancel: cancel}
	p.tasks[id] = t
	p.wg.Add(1)
	pollsInflight.Inc()
	go p.run(ctx, t, id, jobID)
	return true
}

// Cancel stops the poll task of a request. It reports whether one was running.
func (p *Poller) Cancel(id uint64) bool {
	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Running reports whether a poll task exists for the request.
func (p *Poller) Running(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[id]
	return ok
}

// Inflight returns the number of running tasks.
func (p *Poller) Inflight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Resume starts a task for every generating request with a job id. Attempt
// counters restart from zero.
func (p *Poller) Resume(ctx context.Context) (int, error) {
	recs, _, err := p.store.List(ctx, repo.ListFilter{Statuses: []domain.Status{domain.StatusGenerating}})
	if err != nil {
		return 0, errors.Wrap(err, "list generating requests")
	}
	n := 0
	for i := range recs {
		if job := recs[i].Job(); job != "" && p.Start(recs[i].ID, job) {
			n++
		}
	}
	return n, nil
}

// Stop cancels every task and waits for them to exit or ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.stop()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) finish(t *pollTask, id uint64) {
	p.mu.Lock()
	if p.tasks[id] == t {
		delete(p.tasks, id)
	}
	p.mu.Unlock()
	t.cancel()
	pollsInflight.Dec()
	p.wg.Done()
}

func (p *Poller) run(ctx context.Context, t *pollTask, id uint64, jobID string) {
	defer p.finish(t, id)
	logger := log.With().Uint64("request_id", id).Str("job_id", jobID).Logger()
	logger.Debug().Msg("poll task started")

	if !sleep(ctx, p.opts.InitialDelay) {
		return
	}

	var last domain.Payload
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 && !sleep(ctx, p.opts.Interval) {
			return
		}
		stop, raw := p.tick(ctx, id, jobID, attempt)
		if !raw.IsZero() {
			last = raw
		}
		if stop || ctx.Err() != nil {
			return
		}
	}
	p.expire(ctx, id, jobID, last)
}

// tick runs one status query and reports whether the task should stop.
func (p *Poller) tick(ctx context.Context, id uint64, jobID string, attempt int) (bool, domain.Payload) {
	tr := otel.Tracer("services/Poller")
	ctx, span := tr.Start(ctx, "tick",
		trace.WithAttributes(
			attribute.Int64("video.request_id", int64(id)),
			attribute.String("render.job_id", jobID),
			attribute.Int("poll.attempt", attempt),
		),
	)
	defer span.End()
	logger := log.With().Uint64("request_id", id).Str("job_id", jobID).Int("attempt", attempt).Logger()

	st, err := p.engine.Status(ctx, jobID)
	if ctx.Err() != nil {
		return true, domain.Payload{}
	}
	if err != nil {
		pollTicks.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Msg("render status query failed")
		return false, st.Raw
	}

	switch {
	case st.Completed():
		outcome, err := p.done.Complete(ctx, Completion{
			RequestID: id,
			JobID:     jobID,
			OutputURL: st.OutputURL,
			Raw:       st.Raw,
			Source:    "poll",
		})
		if err != nil {
			if errors.Is(err, ErrRequestNotFound) {
				pollTicks.WithLabelValues("superseded").Inc()
				return true, st.Raw
			}
			pollTicks.WithLabelValues("error").Inc()
			logger.Error().Err(err).Msg("apply poll completion failed")
			return false, st.Raw
		}
		pollTicks.WithLabelValues("completed").Inc()
		logger.Info().Str("outcome", outcome.String()).Str("output_url", st.OutputURL).Msg("render job completed")
		return true, st.Raw

	case st.Failed():
		_, err := p.store.ConditionalUpdate(ctx, id, []domain.Status{domain.StatusGenerating}, repo.Patch{
			Status:         repo.StatusPtr(domain.StatusFailed),
			RenderResponse: repo.PayloadPtr(st.Raw),
		})
		if stop, handled := p.settle(err, logger); handled {
			return stop, st.Raw
		}
		pollTicks.WithLabelValues("failed").Inc()
		observeTransition([]domain.Status{domain.StatusGenerating}, domain.StatusFailed)
		logger.Warn().Str("state", st.State).Msg("render job failed")
		return true, st.Raw

	default:
		_, err := p.store.ConditionalUpdate(ctx, id, []domain.Status{domain.StatusGenerating}, repo.Patch{
			RenderResponse: repo.PayloadPtr(st.Raw),
		})
		if stop, handled := p.settle(err, logger); handled {
			return stop, st.Raw
		}
		pollTicks.WithLabelValues("pending").Inc()
		logger.Debug().Str("state", st.State).Msg("render job not ready")
		return false, st.Raw
	}
}

// settle maps a guarded write error to a loop decision. handled is false
// when the write succeeded.
func (p *Poller) settle(err error, logger zerolog.Logger) (stop bool, handled bool) {
	switch {
	case err == nil:
		return false, false
	case errors.Is(err, repo.ErrPreconditionFailed), errors.Is(err, repo.ErrNotFound):
		pollTicks.WithLabelValues("superseded").Inc()
		logger.Debug().Msg("request resolved elsewhere; stopping poll")
		return true, true
	default:
		pollTicks.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("persist poll result failed")
		return false, true
	}
}

func (p *Poller) expire(ctx context.Context, id uint64, jobID string, last domain.Payload) {
	logger := log.With().Uint64("request_id", id).Str("job_id", jobID).Logger()
	patch := repo.Patch{Status: repo.StatusPtr(domain.StatusTimeout)}
	if !last.IsZero() {
		patch.RenderResponse = &last
	}
	_, err := p.store.ConditionalUpdate(ctx, id, []domain.Status{domain.StatusGenerating}, patch)
	switch {
	case err == nil:
		pollTicks.WithLabelValues("timeout").Inc()
		observeTransition([]domain.Status{domain.StatusGenerating}, domain.StatusTimeout)
		logger.Warn().Int("attempts", p.opts.MaxAttempts).Msg("render job did not complete in time")
	case errors.Is(err, repo.ErrPreconditionFailed), errors.Is(err, repo.ErrNotFound):
		pollTicks.WithLabelValues("superseded").Inc()
	default:
		logger.Error().Err(err).Msg("persist timeout failed")
	}
}

// sleep waits d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
