package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"news-processor/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memInserter struct {
	rows []repo.NewArticle
	fail string
}

func (m *memInserter) InsertArticle(_ context.Context, a repo.NewArticle) (repo.Article, bool, error) {
	if a.Title == m.fail {
		return repo.Article{}, false, errors.New("insert failed")
	}
	for i, r := range m.rows {
		if r.Title == a.Title || (a.ExternalLink != "" && r.ExternalLink == a.ExternalLink) {
			return repo.Article{ID: int64(i + 1), Title: r.Title}, false, nil
		}
	}
	m.rows = append(m.rows, a)
	return repo.Article{ID: int64(len(m.rows)), Title: a.Title}, true, nil
}

const sample = `[
	{"title": "Bahai graves razed", "content": "Paris (AFP) ...", "link": "https://example.com/a", "published_at": "2024-03-22T11:57:00Z"},
	{"title": "Bahai graves razed", "content": "dup by title", "link": "https://example.com/b", "published_at": "2024-03-22T11:57:00Z"},
	{"title": "Other headline", "content": "dup by link", "link": "https://example.com/a", "published_at": "2024-03-22T12:00:00Z"},
	{"title": "", "content": "no title", "published_at": "2024-03-22T12:00:00Z"},
	{"title": "No date", "content": "x"},
	{"title": "Broken", "content": "x", "published_at": "2024-03-22T12:00:00Z"},
	{"title": "Fresh story", "content": "y", "link": "https://example.com/c", "published_at": "2024-03-23T08:00:00Z"}
]`

func TestLoadDeduplicates(t *testing.T) {
	store := &memInserter{fail: "Broken"}
	report, err := NewLoader(store).Load(context.Background(), strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, Report{Inserted: 2, Duplicates: 2, Invalid: 2, Failed: 1}, report)
	require.Len(t, store.rows, 2)
	assert.Equal(t, "Bahai graves razed", store.rows[0].Title)
	assert.Equal(t, "Fresh story", store.rows[1].Title)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	_, err := NewLoader(&memInserter{}).Load(context.Background(), strings.NewReader(`{"title":`))
	assert.Error(t, err)
}

func TestLoadFromPathWalksDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(sample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "more"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "more", "b.json"),
		[]byte(`[{"title":"Late story","published_at":"2024-03-24T00:00:00Z"}]`), 0o600))

	store := &memInserter{}
	report, err := NewLoader(store).LoadFromPath(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Inserted)
	assert.Len(t, store.rows, 4)
}
