package crawler

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/timeline-harvester/internal/identity"
	"github.com/JakeFAU/timeline-harvester/internal/record"
)

// Fetcher retrieves one page of results. Failures should be reported as
// *FetchError so the engine can tell transient from permanent problems;
// any other error is treated as transient.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
}

// Extractor turns a page fragment into records.
type Extractor interface {
	Extract(fragment string) iter.Seq[record.Record]
}

// Sink persists records with a fixed column schema.
type Sink interface {
	Append(ctx context.Context, rec record.Record, fields []record.Field) error
	Sync() error
}

// ProgressLog durably records one cursor per processed page.
type ProgressLog interface {
	Append(ctx context.Context, cursor string) error
	Last(ctx context.Context) (string, error)
}

// IdentitySource hands out a fresh request identity for every fetch attempt.
type IdentitySource interface {
	Next() (identity.Identity, error)
}

// RetryPolicy decides whether a failed fetch is retried and how long to wait.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
