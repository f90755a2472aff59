package cmd

import (
	"fmt"

	"github.com/JakeFAU/timeline-harvester/internal/crawler"
	"github.com/JakeFAU/timeline-harvester/internal/report"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitLooped  = 1
	ExitAborted = 2
	ExitConfig  = 3
)

// ExitError carries the exit code a command wants. Err may be nil when the
// outcome has already been reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitFor maps a terminal run to its exit code.
func exitFor(s report.Summary, runErr error) error {
	switch s.State {
	case crawler.PhaseFinished:
		return nil
	case crawler.PhaseLooped:
		return &ExitError{Code: ExitLooped}
	case crawler.PhaseAborted:
		return &ExitError{Code: ExitAborted, Err: runErr}
	default:
		// The run never started.
		if runErr == nil {
			runErr = fmt.Errorf("crawl ended in non-terminal state %q", s.State)
		}
		return &ExitError{Code: ExitConfig, Err: runErr}
	}
}
