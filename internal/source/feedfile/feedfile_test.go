package feedfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFetchReadsRecords(t *testing.T) {
	path := writeFeed(t, `[
		{"title": "Konsulent", "company": "KL", "location": "København"},
		{"title": "Analytiker", "company": "VIVE", "sector": "offentlig"}
	]`)

	c := New(Config{Name: "career-pages", Path: path, Sector: "konsulent"})
	records, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "career-pages", records[0].Source)
	assert.Equal(t, "konsulent", records[0].Fields["sector"], "default sector stamped")
	assert.Equal(t, "offentlig", records[1].Fields["sector"], "existing sector preserved")
}

func TestFetchMissingFile(t *testing.T) {
	c := New(Config{Path: filepath.Join(t.TempDir(), "absent.json")})
	_, err := c.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetchMalformedFile(t *testing.T) {
	path := writeFeed(t, `{"not": "an array"}`)
	c := New(Config{Path: path})
	_, err := c.Fetch(context.Background())
	assert.Error(t, err)
}
