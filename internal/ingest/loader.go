package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"news-processor/internal/repo"

	"github.com/rs/zerolog/log"
)

// ArticleJSON is one article in an ingest file.
type ArticleJSON struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
}

// Inserter stores an article unless a duplicate exists.
type Inserter interface {
	InsertArticle(ctx context.Context, a repo.NewArticle) (repo.Article, bool, error)
}

// Report counts the outcome of a load.
type Report struct {
	Inserted   int
	Duplicates int
	Invalid    int
	Failed     int
}

func (r *Report) add(o Report) {
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Invalid += o.Invalid
	r.Failed += o.Failed
}

// Loader handles data ingestion from JSON files
type Loader struct {
	store Inserter
}

func NewLoader(store Inserter) *Loader {
	return &Loader{store: store}
}

// LoadFromPath loads a single file or every .json file under a directory.
func (l *Loader) LoadFromPath(ctx context.Context, path string) (Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return l.LoadFromFile(ctx, path)
	}

	var total Report
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(p), ".json") {
			return nil
		}
		r, err := l.LoadFromFile(ctx, p)
		total.add(r)
		return err
	})
	return total, err
}

// LoadFromFile loads articles from a single JSON file
func (l *Loader) LoadFromFile(ctx context.Context, filePath string) (Report, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return Report{}, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	report, err := l.Load(ctx, file)
	if err != nil {
		return report, fmt.Errorf("%s: %w", filePath, err)
	}

	log.Info().
		Str("file", filePath).
		Int("inserted", report.Inserted).
		Int("duplicates", report.Duplicates).
		Int("invalid", report.Invalid).
		Int("failed", report.Failed).
		Msg("Ingest file loaded")
	return report, nil
}

// Load reads a JSON array of articles from r. Articles without a title or
// publication date are skipped.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Report, error) {
	var articles []ArticleJSON
	if err := json.NewDecoder(r).Decode(&articles); err != nil {
		return Report{}, fmt.Errorf("failed to decode JSON: %w", err)
	}

	var report Report
	for i, a := range articles {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if strings.TrimSpace(a.Title) == "" || a.PublishedAt.IsZero() {
			log.Warn().Int("index", i).Str("title", a.Title).Msg("Skipping article without title or published date")
			report.Invalid++
			continue
		}

		_, created, err := l.store.InsertArticle(ctx, repo.NewArticle{
			Title:        strings.TrimSpace(a.Title),
			Content:      a.Content,
			ExternalLink: strings.TrimSpace(a.Link),
			PublishedAt:  a.PublishedAt,
		})
		switch {
		case err != nil:
			log.Error().Err(err).Int("index", i).Str("title", a.Title).Msg("Failed to load article")
			report.Failed++
		case created:
			report.Inserted++
		default:
			report.Duplicates++
		}
	}
	return report, nil
}
