package crawler

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/timeline-harvester/internal/identity"
	"github.com/JakeFAU/timeline-harvester/internal/record"
)

// Termination reasons recorded on a terminal CrawlState.
const (
	ReasonNoMoreItems    = "no more items"
	ReasonMaxDepth       = "max depth reached"
	ReasonLoop           = "cursor did not advance"
	ReasonRetryExhausted = "fetch retry budget exhausted"
	ReasonPermanentFetch = "permanent fetch failure"
	ReasonIdentity       = "request identity unavailable"
	ReasonSinkWrite      = "sink write failed"
	ReasonProgressWrite  = "progress log write failed"
	ReasonCanceled       = "canceled"
)

// Config holds the per-run settings of an Engine.
type Config struct {
	// Query is the search term; it is passed to the fetcher verbatim.
	Query string
	// SeedCursor is the cursor of the first fetch (resume cursor or default).
	SeedCursor string
	// MaxDepth bounds the number of processed pages. Zero means unbounded.
	MaxDepth int
	// Fields is the sink column schema.
	Fields []record.Field
}

// FetchRequest describes one page fetch.
type FetchRequest struct {
	Query    string
	Cursor   string
	Identity identity.Identity
}

// Page is the decoded source response for one cursor.
type Page struct {
	// Cursor is the position of the next page.
	Cursor string
	// ItemsMarkup is the embedded markup fragment holding the items.
	ItemsMarkup string
	// HasMore is false once the source has nothing past this page.
	HasMore bool
}

// Result summarizes a finished run.
type Result struct {
	RunID      uuid.UUID
	State      CrawlState
	Pages      int
	Records    int
	Retries    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
