// Package identity produces the per-request identity sent to the source: a
// random User-Agent from an injected list, fixed extra headers, and a fresh
// request ID.
package identity

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DefaultUserAgent is used when no agents are configured.
const DefaultUserAgent = "timeline-harvester/1.0"

// Identity is what one request presents to the source.
type Identity struct {
	ID        string
	UserAgent string
	Headers   http.Header
}

// Rotator hands out a new Identity for every request. It holds no global
// state; build one at startup and pass it to the fetcher.
type Rotator struct {
	agents  []string
	headers http.Header
	pick    func(n int) int
}

// NewRotator builds a Rotator over agents. Empty entries are ignored, and an
// empty list falls back to DefaultUserAgent.
func NewRotator(agents []string, headers map[string]string) *Rotator {
	clean := make([]string, 0, len(agents))
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		clean = []string{DefaultUserAgent}
	}
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Rotator{
		agents:  clean,
		headers: h,
		pick:    rand.IntN,
	}
}

// Agents returns the configured user agents.
func (r *Rotator) Agents() []string {
	return append([]string(nil), r.agents...)
}

// Next returns a fresh identity with a UUIDv7 request ID.
func (r *Rotator) Next() (Identity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Identity{}, fmt.Errorf("generate uuid7: %w", err)
	}
	return Identity{
		ID:        id.String(),
		UserAgent: r.agents[r.pick(len(r.agents))],
		Headers:   r.headers.Clone(),
	}, nil
}

// LoadAgents reads one user agent per line from path. Blank lines and lines
// starting with '#' are skipped.
func LoadAgents(path string) ([]string, error) {
	// #nosec G304 -- path comes from configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open user agents file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var agents []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		agents = append(agents, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read user agents file %s: %w", path, err)
	}
	return agents, nil
}
