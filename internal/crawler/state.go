package crawler

// Phase is the lifecycle position of a crawl.
type Phase string

// Crawl phases.
const (
	PhaseInit     Phase = "INIT"
	PhaseRunning  Phase = "RUNNING"
	PhaseFinished Phase = "FINISHED"
	PhaseLooped   Phase = "LOOPED"
	PhaseAborted  Phase = "ABORTED"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseFinished, PhaseLooped, PhaseAborted:
		return true
	default:
		return false
	}
}

// CrawlState is the engine's position in a crawl. Every method returns a new
// value; once Phase is terminal, Phase and Reason never change.
type CrawlState struct {
	Query    string `json:"query"`
	Cursor   string `json:"cursor"`
	Depth    int    `json:"depth"`
	MaxDepth int    `json:"max_depth"`
	Phase    Phase  `json:"phase"`
	Reason   string `json:"reason,omitempty"`
}

// NewState returns the INIT state positioned at seed.
func NewState(query, seed string, maxDepth int) CrawlState {
	return CrawlState{
		Query:    query,
		Cursor:   seed,
		MaxDepth: maxDepth,
		Phase:    PhaseInit,
	}
}

// Start moves INIT to RUNNING.
func (s CrawlState) Start() CrawlState {
	if s.Phase == PhaseInit {
		s.Phase = PhaseRunning
	}
	return s
}

// Advance records a processed page whose next position is cursor. An empty
// cursor keeps the current one.
func (s CrawlState) Advance(cursor string) CrawlState {
	if s.Phase.Terminal() {
		return s
	}
	if cursor != "" {
		s.Cursor = cursor
	}
	s.Depth++
	return s
}

// Terminate moves to a terminal phase. It is a no-op on a terminal state.
func (s CrawlState) Terminate(phase Phase, reason string) CrawlState {
	if s.Phase.Terminal() || !phase.Terminal() {
		return s
	}
	s.Phase = phase
	s.Reason = reason
	return s
}

// CheckStop applies the stop conditions after a page. An exhausted source
// takes precedence over the depth bound.
func (s CrawlState) CheckStop(hasMore bool) CrawlState {
	switch {
	case !hasMore:
		return s.Terminate(PhaseFinished, ReasonNoMoreItems)
	case s.MaxDepth > 0 && s.Depth >= s.MaxDepth:
		return s.Terminate(PhaseFinished, ReasonMaxDepth)
	default:
		return s
	}
}

// IsLoop reports whether next repeats the current cursor. The first page
// never loops, and neither does the first success after a failed attempt.
func (s CrawlState) IsLoop(next string, afterFailure bool) bool {
	return s.Depth > 0 && !afterFailure && next == s.Cursor
}
