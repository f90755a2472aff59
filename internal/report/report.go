// Package report describes a finished crawl for humans and downstream
// consumers.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/JakeFAU/timeline-harvester/internal/crawler"
)

// Summary is the terminal report of one run. It is printed by the CLI and
// published as the run notification.
type Summary struct {
	RunID       string        `json:"run_id"`
	Query       string        `json:"query"`
	State       crawler.Phase `json:"state"`
	Reason      string        `json:"reason"`
	LastCursor  string        `json:"last_cursor"`
	Depth       int           `json:"depth"`
	Pages       int           `json:"pages"`
	Records     int           `json:"records"`
	Retries     int           `json:"retries"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Output      string        `json:"output"`
	OutputSHA   string        `json:"output_sha256,omitempty"`
	ProgressLog string        `json:"progress_log"`
	Error       string        `json:"error,omitempty"`
	Archived    []string      `json:"archived,omitempty"`
}

// New builds a Summary from an engine result. runErr is the error returned
// by Run, if any.
func New(res crawler.Result, output, progressLog string, runErr error) Summary {
	s := Summary{
		RunID:       res.RunID.String(),
		Query:       res.State.Query,
		State:       res.State.Phase,
		Reason:      res.State.Reason,
		LastCursor:  res.State.Cursor,
		Depth:       res.State.Depth,
		Pages:       res.Pages,
		Records:     res.Records,
		Retries:     res.Retries,
		StartedAt:   res.StartedAt.UTC(),
		FinishedAt:  res.FinishedAt.UTC(),
		Output:      output,
		ProgressLog: progressLog,
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return s
}

// Attributes returns the message attributes used for routing notifications.
func (s Summary) Attributes() map[string]string {
	return map[string]string{
		"run_id":  s.RunID,
		"query":   s.Query,
		"state":   string(s.State),
		"records": strconv.Itoa(s.Records),
	}
}

// WriteText prints the terminal report.
func WriteText(w io.Writer, s Summary) error {
	_, err := fmt.Fprintf(w,
		"state: %s\nreason: %s\nlast cursor: %s\ndepth: %d\nrecords: %d\n",
		s.State, s.Reason, s.LastCursor, s.Depth, s.Records,
	)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if s.OutputSHA != "" {
		if _, err := fmt.Fprintf(w, "output sha256: %s\n", s.OutputSHA); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	for _, uri := range s.Archived {
		if _, err := fmt.Fprintf(w, "archived: %s\n", uri); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}
