// Package cursorlog persists the cursor reached after every processed page so
// an interrupted crawl can resume from the last one.
package cursorlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoProgress is returned by Last when nothing has been logged for a query.
var ErrNoProgress = errors.New("no progress recorded")

// Log is an append-only sequence of cursors for a single query. It has one
// writer: the crawl engine.
type Log interface {
	// Append records cursor as the newest entry.
	Append(ctx context.Context, cursor string) error
	// Last returns the newest entry, or ErrNoProgress.
	Last(ctx context.Context) (string, error)
	// Entries returns every entry oldest first.
	Entries(ctx context.Context) ([]string, error)
	Close() error
}

func validateCursor(cursor string) error {
	if cursor == "" {
		return fmt.Errorf("cursor is empty")
	}
	if strings.ContainsAny(cursor, "\r\n") {
		return fmt.Errorf("cursor contains a line break")
	}
	return nil
}
