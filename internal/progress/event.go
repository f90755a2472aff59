package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StagePageDone   Stage = "PAGE_DONE"
	StageFetchRetry Stage = "FETCH_RETRY"
	StageCrawlDone  Stage = "CRAWL_DONE"
)

// Event captures a single step of a crawl run.
type Event struct {
	// RunID identifies one engine run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Query is the search term being harvested.
	Query string
	// Cursor is the cursor reached (page done) or being retried (fetch retry).
	Cursor string
	// Depth is the number of pages processed so far.
	Depth int
	// Records is the number of records written for the page.
	Records int
	// Attempt counts consecutive failed fetches for retry events.
	Attempt int
	// Outcome carries the terminal state for crawl done events.
	Outcome string
	// Dur is the fetch latency, retry backoff, or total run time.
	Dur time.Duration
	// Note carries low-volume context such as an error or termination reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StagePageDone:
	case StageFetchRetry:
		if e.Attempt <= 0 {
			return errors.New("fetch retry requires attempt")
		}
	case StageCrawlDone:
		if e.Outcome == "" {
			return errors.New("crawl done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
