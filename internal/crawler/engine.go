package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/timeline-harvester/internal/clock/system"
	uuidgen "github.com/JakeFAU/timeline-harvester/internal/id/uuid"
	"github.com/JakeFAU/timeline-harvester/internal/identity"
	"github.com/JakeFAU/timeline-harvester/internal/progress"
)

// Engine drives one crawl of one query.
type Engine struct {
	cfg        Config
	fetcher    Fetcher
	extractor  Extractor
	sink       Sink
	progress   ProgressLog
	identities IdentitySource
	retry      RetryPolicy
	clock      Clock
	ids        IDGenerator
	events     progress.Emitter
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	state atomic.Pointer[CrawlState]
	used  atomic.Bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithIdentities sets the request identity source.
func WithIdentities(src IdentitySource) Option {
	return func(e *Engine) {
		if src != nil {
			e.identities = src
		}
	}
}

// WithRetryPolicy sets the fetch retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) {
		if policy != nil {
			e.retry = policy
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator overrides the run ID generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// WithEmitter attaches a progress event emitter.
func WithEmitter(events progress.Emitter) Option {
	return func(e *Engine) {
		e.events = events
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New validates cfg and wires the collaborators into an Engine in the INIT
// phase.
func New(cfg Config, fetcher Fetcher, extractor Extractor, sink Sink, log ProgressLog, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, errors.New("query is required")
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must be >= 0, got %d", cfg.MaxDepth)
	}
	if len(cfg.Fields) == 0 {
		return nil, errors.New("at least one output field is required")
	}
	if fetcher == nil || extractor == nil || sink == nil || log == nil {
		return nil, errors.New("fetcher, extractor, sink, and progress log are required")
	}
	e := &Engine{
		cfg:        cfg,
		fetcher:    fetcher,
		extractor:  extractor,
		sink:       sink,
		progress:   log,
		identities: identity.NewRotator(nil, nil),
		retry:      NewExponentialRetryPolicy(DefaultMaxRetries, DefaultBackoffBase, DefaultBackoffLimit),
		clock:      system.New(),
		ids:        uuidgen.New(),
		logger:     zap.NewNop(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	initial := NewState(cfg.Query, cfg.SeedCursor, cfg.MaxDepth)
	e.state.Store(&initial)
	return e, nil
}

// State returns the latest published CrawlState. It is safe to call from any
// goroutine while Run is in progress.
func (e *Engine) State() CrawlState {
	return *e.state.Load()
}

func (e *Engine) publish(s CrawlState) {
	e.state.Store(&s)
}

// Run crawls until a terminal phase is reached. The returned Result is always
// populated once the run started; the error is non-nil only for ABORTED runs
// and for runs that could not start. LOOPED is a normal outcome.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.used.CompareAndSwap(false, true) {
		return Result{}, ErrEngineUsed
	}
	runID, err := e.ids.NewRawID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	res := Result{RunID: runID, StartedAt: e.clock.Now()}
	state := e.State()
	logger := e.logger.With(zap.String("run_id", runID.String()), zap.String("query", e.cfg.Query))

	logger.Info("crawl starting",
		zap.String("seed_cursor", state.Cursor),
		zap.Int("max_depth", state.MaxDepth),
	)
	e.emit(runID, progress.Event{Stage: progress.StageCrawlStart, Cursor: state.Cursor})

	var (
		failures int
		cause    error
	)
	for !state.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			state, cause = state.Terminate(PhaseAborted, ReasonCanceled), err
			break
		}
		ident, err := e.identities.Next()
		if err != nil {
			state, cause = state.Terminate(PhaseAborted, ReasonIdentity), fmt.Errorf("next request identity: %w", err)
			break
		}

		started := e.clock.Now()
		page, err := e.fetcher.Fetch(ctx, FetchRequest{Query: e.cfg.Query, Cursor: state.Cursor, Identity: ident})
		if err == nil && page.Cursor == "" && page.HasMore {
			err = TransientError(0, errors.New("empty cursor with more items pending"))
		}
		if err != nil {
			failures++
			if ctxErr := ctx.Err(); ctxErr != nil {
				state, cause = state.Terminate(PhaseAborted, ReasonCanceled), ctxErr
				break
			}
			if !e.retry.ShouldRetry(err, failures) {
				if IsPermanent(err) {
					state = state.Terminate(PhaseAborted, ReasonPermanentFetch)
					cause = fmt.Errorf("fetch cursor %q: %w", state.Cursor, err)
				} else {
					state = state.Terminate(PhaseAborted, ReasonRetryExhausted)
					cause = fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, failures, err)
				}
				break
			}
			backoff := e.retry.Backoff(failures)
			res.Retries++
			logger.Warn("fetch failed, retrying",
				zap.String("cursor", state.Cursor),
				zap.Int("attempt", failures),
				zap.String("request_id", ident.ID),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			e.emit(runID, progress.Event{
				Stage:   progress.StageFetchRetry,
				Cursor:  state.Cursor,
				Depth:   state.Depth,
				Attempt: failures,
				Dur:     backoff,
				Note:    err.Error(),
			})
			// A canceled wait is picked up by the check at the top of the loop.
			_ = e.sleep(ctx, backoff)
			continue
		}

		afterFailure := failures > 0
		failures = 0
		fetchDur := e.clock.Now().Sub(started)
		state = state.Start()
		if state.IsLoop(page.Cursor, afterFailure) {
			state = state.Terminate(PhaseLooped, ReasonLoop)
			break
		}

		written, reason, err := e.processPage(ctx, page)
		res.Records += written
		if err != nil {
			state, cause = state.Terminate(PhaseAborted, reason), err
			break
		}
		res.Pages++
		state = state.Advance(page.Cursor).CheckStop(page.HasMore)
		e.publish(state)

		logger.Info("page processed",
			zap.String("cursor", state.Cursor),
			zap.Int("depth", state.Depth),
			zap.Int("records", written),
			zap.Duration("fetch_dur", fetchDur),
		)
		e.emit(runID, progress.Event{
			Stage:   progress.StagePageDone,
			Cursor:  state.Cursor,
			Depth:   state.Depth,
			Records: written,
			Dur:     clampDuration(fetchDur),
		})
	}

	e.publish(state)
	res.State = state
	res.FinishedAt = e.clock.Now()

	fields := []zap.Field{
		zap.String("state", string(state.Phase)),
		zap.String("reason", state.Reason),
		zap.String("last_cursor", state.Cursor),
		zap.Int("depth", state.Depth),
		zap.Int("records", res.Records),
	}
	if cause != nil {
		logger.Warn("crawl aborted", append(fields, zap.Error(cause))...)
	} else {
		logger.Info("crawl finished", fields...)
	}
	e.emit(runID, progress.Event{
		Stage:   progress.StageCrawlDone,
		Cursor:  state.Cursor,
		Depth:   state.Depth,
		Outcome: string(state.Phase),
		Dur:     clampDuration(res.Duration()),
		Note:    state.Reason,
	})

	if state.Phase == PhaseAborted {
		return res, fmt.Errorf("crawl aborted (%s): %w", state.Reason, cause)
	}
	return res, nil
}

// processPage writes every record of page and then logs its cursor. It runs
// to completion even if ctx is canceled so a page is never half recorded.
func (e *Engine) processPage(ctx context.Context, page Page) (int, string, error) {
	ctx = context.WithoutCancel(ctx)
	written := 0
	for rec := range e.extractor.Extract(page.ItemsMarkup) {
		if err := e.sink.Append(ctx, rec, e.cfg.Fields); err != nil {
			return written, ReasonSinkWrite, fmt.Errorf("append record: %w", err)
		}
		written++
	}
	if err := e.sink.Sync(); err != nil {
		return written, ReasonSinkWrite, fmt.Errorf("sync sink: %w", err)
	}
	if page.Cursor == "" {
		return written, "", nil
	}
	if err := e.progress.Append(ctx, page.Cursor); err != nil {
		return written, ReasonProgressWrite, fmt.Errorf("append cursor: %w", err)
	}
	return written, "", nil
}

func (e *Engine) emit(runID uuid.UUID, evt progress.Event) {
	if e.events == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = e.clock.Now()
	evt.Query = e.cfg.Query
	e.events.Emit(evt)
}

// ResumeCursor returns the last cursor recorded in log. An empty or missing
// log yields an error wrapping cursorlog.ErrNoProgress.
func ResumeCursor(ctx context.Context, log ProgressLog) (string, error) {
	cursor, err := log.Last(ctx)
	if err != nil {
		return "", fmt.Errorf("read resume cursor: %w", err)
	}
	return cursor, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
