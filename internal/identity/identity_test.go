package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRotatesAgentsAndIDs(t *testing.T) {
	t.Parallel()

	r := NewRotator([]string{"ua-1", " ", "ua-2"}, map[string]string{"accept-language": "en"})
	i := 0
	r.pick = func(n int) int {
		i++
		return i % n
	}

	first, err := r.Next()
	require.NoError(t, err)
	second, err := r.Next()
	require.NoError(t, err)

	assert.Equal(t, "ua-2", first.UserAgent)
	assert.Equal(t, "ua-1", second.UserAgent)
	assert.NotEqual(t, first.ID, second.ID)
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "en", first.Headers.Get("Accept-Language"))

	first.Headers.Set("Accept-Language", "fr")
	third, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "en", third.Headers.Get("Accept-Language"), "identities must not share headers")
}

func TestNewRotatorFallsBackToDefaultAgent(t *testing.T) {
	t.Parallel()

	r := NewRotator(nil, nil)
	id, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, id.UserAgent)
	assert.Equal(t, []string{DefaultUserAgent}, r.Agents())
}

func TestLoadAgents(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agents.txt")
	content := "# desktop\nMozilla/5.0 (X11; Linux x86_64)\n\n  Mozilla/5.0 (Macintosh)  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	agents, err := LoadAgents(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mozilla/5.0 (X11; Linux x86_64)", "Mozilla/5.0 (Macintosh)"}, agents)

	_, err = LoadAgents(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
