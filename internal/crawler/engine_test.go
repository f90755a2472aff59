package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/timeline-harvester/internal/cursorlog"
	"github.com/JakeFAU/timeline-harvester/internal/identity"
	"github.com/JakeFAU/timeline-harvester/internal/progress"
	"github.com/JakeFAU/timeline-harvester/internal/record"
)

type harness struct {
	fetcher *scriptedFetcher
	sink    *memorySink
	log     *memoryLog
	events  *recordingEmitter
	sleeper *recordingSleeper
}

func newHarness(steps ...step) *harness {
	return &harness{
		fetcher: &scriptedFetcher{steps: steps},
		sink:    &memorySink{},
		log:     &memoryLog{},
		events:  &recordingEmitter{},
		sleeper: &recordingSleeper{},
	}
}

func (h *harness) engine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	if cfg.Query == "" {
		cfg.Query = "golang"
	}
	if cfg.Fields == nil {
		cfg.Fields = record.AllFields
	}
	base := []Option{
		WithRetryPolicy(NewExponentialRetryPolicy(2, time.Millisecond, 4*time.Millisecond)),
		WithSleeper(h.sleeper.Sleep),
		WithClock(&fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}),
		WithEmitter(h.events),
	}
	e, err := New(cfg, h.fetcher, idExtractor{}, h.sink, h.log, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func TestRunLoopsWhenCursorRepeats(t *testing.T) {
	t.Parallel()

	h := newHarness(
		page("A", "1,2", true),
		page("B", "3", true),
		page("B", "4,5", true),
	)
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.NoError(t, err, "a loop is an outcome, not an error")

	assert.Equal(t, PhaseLooped, res.State.Phase)
	assert.Equal(t, ReasonLoop, res.State.Reason)
	assert.Equal(t, "B", res.State.Cursor)
	assert.Equal(t, 2, res.State.Depth)
	assert.Equal(t, []string{"A", "B"}, h.log.entries)
	assert.Equal(t, []string{"1", "2", "3"}, h.sink.ids, "looping page is not written")
	assert.Equal(t, []string{"seed", "A", "B"}, h.fetcher.cursors())
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Records)
}

func TestRunFinishesWhenSourceIsExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(
		page("A", "1", true),
		page("B", "2,3", false),
	)
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseFinished, res.State.Phase)
	assert.Equal(t, ReasonNoMoreItems, res.State.Reason)
	assert.Equal(t, []string{"A", "B"}, h.log.entries)
	assert.Equal(t, []string{"1", "2", "3"}, h.sink.ids)
	assert.Equal(t, res.State, e.State())
}

func TestRunStopsAtMaxDepth(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.fallback = func(n int) (Page, error) {
		return Page{Cursor: fmt.Sprintf("c%d", n), ItemsMarkup: fmt.Sprint(n), HasMore: true}, nil
	}
	e := h.engine(t, Config{SeedCursor: "seed", MaxDepth: 3})

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseFinished, res.State.Phase)
	assert.Equal(t, ReasonMaxDepth, res.State.Reason)
	assert.Equal(t, 3, res.State.Depth)
	assert.Len(t, h.fetcher.cursors(), 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, h.log.entries)
}

func TestExhaustedSourceWinsOverDepthBound(t *testing.T) {
	t.Parallel()

	h := newHarness(page("A", "1", false))
	e := h.engine(t, Config{SeedCursor: "seed", MaxDepth: 1})

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonNoMoreItems, res.State.Reason)
}

func TestResumeIssuesFirstFetchAtLoggedCursor(t *testing.T) {
	t.Parallel()

	h := newHarness(page("Z", "9", false))
	h.log.entries = []string{"X", "Y"}

	seed, err := ResumeCursor(context.Background(), h.log)
	require.NoError(t, err)
	require.Equal(t, "Y", seed)

	e := h.engine(t, Config{SeedCursor: seed})
	_, err = e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Y"}, h.fetcher.cursors())
	assert.Equal(t, []string{"X", "Y", "Z"}, h.log.entries)
}

func TestResumeWithoutProgressIsAnError(t *testing.T) {
	t.Parallel()

	_, err := ResumeCursor(context.Background(), &memoryLog{})
	require.ErrorIs(t, err, cursorlog.ErrNoProgress)
}

func TestRetryIsNotMistakenForLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(
		page("A", "1", true),
		failure(TransientError(503, errors.New("unavailable"))),
		page("A", "2", true),
		page("B", "3", false),
	)
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseFinished, res.State.Phase)
	assert.Equal(t, []string{"seed", "A", "A", "A"}, h.fetcher.cursors())
	assert.Equal(t, []string{"A", "A", "B"}, h.log.entries)
	assert.Equal(t, 1, res.Retries)
	assert.Len(t, h.sleeper.waits, 1)

	ids := map[string]struct{}{}
	for _, req := range h.fetcher.requests {
		ids[req.Identity.ID] = struct{}{}
	}
	assert.Len(t, ids, len(h.fetcher.requests), "every attempt uses a fresh identity")
}

func TestFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness(
		failure(TransientError(0, errors.New("reset"))),
		page("A", "1", false),
	)
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"seed", "seed"}, h.fetcher.cursors())
	assert.Equal(t, 1, res.State.Depth)
}

func TestRetryBudgetExhaustedAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(page("A", "1", true))
	h.fetcher.fallback = func(int) (Page, error) {
		return Page{}, TransientError(429, errors.New("slow down"))
	}
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.ErrorIs(t, err, ErrRetryBudgetExhausted)

	assert.Equal(t, PhaseAborted, res.State.Phase)
	assert.Equal(t, ReasonRetryExhausted, res.State.Reason)
	assert.Equal(t, "A", res.State.Cursor)
	assert.Equal(t, 1, res.State.Depth)
	assert.Equal(t, []string{"seed", "A", "A", "A"}, h.fetcher.cursors(), "initial attempt plus two retries")
	assert.Len(t, h.sleeper.waits, 2)
	assert.Equal(t, []string{"A"}, h.log.entries)
}

func TestPermanentFetchErrorAbortsWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(failure(PermanentError(404, errors.New("not found"))))
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, ReasonPermanentFetch, res.State.Reason)
	assert.Equal(t, PhaseAborted, res.State.Phase)
	assert.Len(t, h.fetcher.cursors(), 1)
	assert.Empty(t, h.sleeper.waits)
}

func TestEmptyCursorWithMorePendingIsRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(
		page("", "1", true),
		page("A", "1", false),
	)
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, []string{"A"}, h.log.entries)
}

func TestEmptyCursorOnLastPageIsNotLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(
		page("A", "1", true),
		page("", "2", false),
	)
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, res.State.Phase)
	assert.Equal(t, "A", res.State.Cursor)
	assert.Equal(t, []string{"A"}, h.log.entries)
	assert.Equal(t, []string{"1", "2"}, h.sink.ids)
}

func TestCancellationIsObservedBetweenPages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := page("A", "1,2", true)
	first.hook = cancel
	h := newHarness(first, page("B", "3", true))
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, PhaseAborted, res.State.Phase)
	assert.Equal(t, ReasonCanceled, res.State.Reason)
	assert.Equal(t, []string{"A"}, h.log.entries, "the in-flight page completes")
	assert.Equal(t, []string{"1", "2"}, h.sink.ids)
	assert.Len(t, h.fetcher.cursors(), 1)
}

func TestSinkFailureAbortsBeforeLogging(t *testing.T) {
	t.Parallel()

	h := newHarness(page("A", "1,2,3", true))
	h.sink.failOn = 2
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ReasonSinkWrite, res.State.Reason)
	assert.Empty(t, h.log.entries)
	assert.Equal(t, 1, res.Records)
}

func TestProgressLogFailureAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(page("A", "1", true))
	h.log.err = errors.New("read-only file system")
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ReasonProgressWrite, res.State.Reason)
	assert.Equal(t, "seed", res.State.Cursor)
	assert.Equal(t, 0, res.State.Depth)
}

type failingIdentities struct{}

func (failingIdentities) Next() (identity.Identity, error) {
	return identity.Identity{}, errors.New("entropy unavailable")
}

func TestIdentityFailureAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(page("A", "1", true))
	e := h.engine(t, Config{SeedCursor: "seed"}, WithIdentities(failingIdentities{}))

	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ReasonIdentity, res.State.Reason)
	assert.Empty(t, h.fetcher.cursors())
}

func TestRunEmitsProgressEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(
		page("A", "1", true),
		failure(errors.New("connection reset")),
		page("B", "2", false),
	)
	e := h.engine(t, Config{SeedCursor: "seed"})

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []progress.Stage{
		progress.StageCrawlStart,
		progress.StagePageDone,
		progress.StageFetchRetry,
		progress.StagePageDone,
		progress.StageCrawlDone,
	}, h.events.stages())
	for _, evt := range h.events.events {
		require.NoError(t, evt.Validate())
		assert.Equal(t, res.RunID, evt.RunUUID())
		assert.Equal(t, "golang", evt.Query)
	}
	done := h.events.events[len(h.events.events)-1]
	assert.Equal(t, string(PhaseFinished), done.Outcome)
	assert.Equal(t, ReasonNoMoreItems, done.Note)
	assert.Positive(t, res.Duration())
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(page("A", "1", false))
	e := h.engine(t, Config{SeedCursor: "seed"})

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.ErrorIs(t, err, ErrEngineUsed)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{}
	s := &memorySink{}
	l := &memoryLog{}
	tests := []struct {
		name string
		cfg  Config
		f    Fetcher
	}{
		{name: "missing query", cfg: Config{Fields: record.AllFields}, f: f},
		{name: "negative depth", cfg: Config{Query: "q", MaxDepth: -1, Fields: record.AllFields}, f: f},
		{name: "no fields", cfg: Config{Query: "q"}, f: f},
		{name: "nil fetcher", cfg: Config{Query: "q", Fields: record.AllFields}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg, tc.f, idExtractor{}, s, l)
			require.Error(t, err)
		})
	}

	e, err := New(Config{Query: "q", SeedCursor: "s", MaxDepth: 4, Fields: record.AllFields}, f, idExtractor{}, s, l)
	require.NoError(t, err)
	assert.Equal(t, CrawlState{Query: "q", Cursor: "s", MaxDepth: 4, Phase: PhaseInit}, e.State())
}
