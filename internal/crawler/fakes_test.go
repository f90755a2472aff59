package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/timeline-harvester/internal/cursorlog"
	"github.com/JakeFAU/timeline-harvester/internal/progress"
	"github.com/JakeFAU/timeline-harvester/internal/record"
)

// step is one scripted fetch outcome.
type step struct {
	page Page
	err  error
	// hook runs before the outcome is returned.
	hook func()
}

type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []step
	requests []FetchRequest
	// fallback produces outcomes once steps run out.
	fallback func(n int) (Page, error)
}

func (f *scriptedFetcher) Fetch(_ context.Context, req FetchRequest) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	if n <= len(f.steps) {
		s := f.steps[n-1]
		if s.hook != nil {
			s.hook()
		}
		return s.page, s.err
	}
	if f.fallback != nil {
		return f.fallback(n)
	}
	return Page{}, errors.New("script exhausted")
}

func (f *scriptedFetcher) cursors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Cursor)
	}
	return out
}

// idExtractor treats the fragment as a comma separated list of record IDs.
type idExtractor struct{}

func (idExtractor) Extract(fragment string) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		if fragment == "" {
			return
		}
		for _, id := range strings.Split(fragment, ",") {
			if !yield(record.NewBuilder().Set(record.FieldID, id).Build()) {
				return
			}
		}
	}
}

type memorySink struct {
	ids     []string
	failOn  int
	syncErr error
	syncs   int
}

func (s *memorySink) Append(_ context.Context, rec record.Record, _ []record.Field) error {
	if s.failOn > 0 && len(s.ids)+1 == s.failOn {
		return errors.New("disk full")
	}
	id, _ := rec.Lookup(record.FieldID)
	s.ids = append(s.ids, id)
	return nil
}

func (s *memorySink) Sync() error {
	s.syncs++
	return s.syncErr
}

type memoryLog struct {
	entries []string
	err     error
}

func (l *memoryLog) Append(_ context.Context, cursor string) error {
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, cursor)
	return nil
}

func (l *memoryLog) Last(context.Context) (string, error) {
	if len(l.entries) == 0 {
		return "", fmt.Errorf("memory log: %w", cursorlog.ErrNoProgress)
	}
	return l.entries[len(l.entries)-1], nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func page(cursor, items string, hasMore bool) step {
	return step{page: Page{Cursor: cursor, ItemsMarkup: items, HasMore: hasMore}}
}

func failure(err error) step {
	return step{err: err}
}
