// Package pipeline drives summarization and categorization over the batch
// of articles that still miss one of the two.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"news-processor/internal/cache"
	"news-processor/internal/repo"
	"news-processor/internal/services/categorizer"

	"github.com/rs/zerolog/log"
)

const (
	CategorizeFromSummary = "summary"
	CategorizeFromRaw     = "raw"

	defaultMaxRawChars = 4000
)

var (
	ErrBatchRunning = errors.New("batch already running")
	ErrNoCategory   = errors.New("no category could be assigned")
)

// Store is the part of the article store the processor writes through.
type Store interface {
	FetchUnprocessed(ctx context.Context, since time.Time) ([]repo.Article, error)
	MarkSummary(ctx context.Context, id int64, summary string) error
	MarkCategory(ctx context.Context, id int64, category int) error
	MarkIdentityProcessed(ctx context.Context, id int64) error
	HasCategory(ctx context.Context, id int64) (bool, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Categorizer interface {
	Categorize(ctx context.Context, text string) (categorizer.Result, error)
}

// Locker keeps two runs from working on the same article.
type Locker interface {
	AcquireLock(ctx context.Context, articleID int64, ttl time.Duration) (*cache.Lock, error)
	ReleaseLock(ctx context.Context, lock *cache.Lock) error
}

// SummaryCache holds summaries between generation and persistence.
type SummaryCache interface {
	GetSummary(ctx context.Context, articleID int64) (string, error)
	SetSummary(ctx context.Context, articleID int64, summary string) error
	DeleteSummary(ctx context.Context, articleID int64) error
}

type Config struct {
	Lookback       time.Duration
	CategorizeFrom string
	LockTTL        time.Duration
	MaxRawChars    int
}

// BatchReport counts what happened to each fetched article.
type BatchReport struct {
	Fetched   int           `json:"fetched"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

type articleOutcome int

const (
	outcomeProcessed articleOutcome = iota
	outcomeSkipped
)

type Processor struct {
	store       Store
	summarizer  Summarizer
	categorizer Categorizer
	locker      Locker
	summaries   SummaryCache
	cfg         Config
	now         func() time.Time

	mu sync.Mutex
}

type Option func(*Processor)

// WithLocker enables per-article locking.
func WithLocker(l Locker) Option {
	return func(p *Processor) { p.locker = l }
}

// WithSummaryCache keeps generated summaries until they are stored.
func WithSummaryCache(c SummaryCache) Option {
	return func(p *Processor) { p.summaries = c }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(store Store, s Summarizer, c Categorizer, cfg Config, opts ...Option) *Processor {
	if cfg.CategorizeFrom == "" {
		cfg.CategorizeFrom = CategorizeFromRaw
	}
	if cfg.MaxRawChars <= 0 {
		cfg.MaxRawChars = defaultMaxRawChars
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cache.DefaultLockTTL
	}
	p := &Processor{
		store:       store,
		summarizer:  s,
		categorizer: c,
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunBatch processes every unprocessed article in order. A failing article
// is logged and counted; only a failure to fetch the batch is returned.
func (p *Processor) RunBatch(ctx context.Context) (BatchReport, error) {
	if !p.mu.TryLock() {
		return BatchReport{}, ErrBatchRunning
	}
	defer p.mu.Unlock()

	start := p.now()
	var report BatchReport

	articles, err := p.store.FetchUnprocessed(ctx, start.Add(-p.cfg.Lookback))
	if err != nil {
		return report, fmt.Errorf("fetch unprocessed: %w", err)
	}
	report.Fetched = len(articles)
	log.Info().Int("count", len(articles)).Msg("Processing unprocessed articles")

	for _, a := range articles {
		if ctx.Err() != nil {
			break
		}

		outcome, err := p.processArticle(ctx, a)
		switch {
		case err != nil:
			report.Failed++
			log.Error().Err(err).Int64("article_id", a.ID).Msg("Failed to process article")
		case outcome == outcomeSkipped:
			report.Skipped++
		default:
			report.Processed++
		}
	}

	report.Duration = p.now().Sub(start)
	log.Info().
		Int("fetched", report.Fetched).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Batch finished")

	return report, ctx.Err()
}

// processArticle summarizes and categorizes one article as needed. Flags
// are only set after the matching write succeeded.
func (p *Processor) processArticle(ctx context.Context, a repo.Article) (articleOutcome, error) {
	if p.locker != nil {
		lock, err := p.locker.AcquireLock(ctx, a.ID, p.cfg.LockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			log.Debug().Int64("article_id", a.ID).Msg("Article locked by another run")
			return outcomeSkipped, nil
		}
		if err != nil {
			return outcomeSkipped, err
		}
		defer func() {
			if err := p.locker.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				log.Warn().Err(err).Int64("article_id", a.ID).Msg("Failed to release article lock")
			}
		}()
	}

	logger := log.With().Int64("article_id", a.ID).Logger()

	var summary string
	if a.Summary != nil {
		summary = *a.Summary
	}
	if !a.Summarized {
		s, err := p.summarize(ctx, a)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("summarize: %w", err)
		}
		if err := p.store.MarkSummary(ctx, a.ID, s); err != nil {
			return outcomeSkipped, fmt.Errorf("persist summary: %w", err)
		}
		p.forgetSummary(ctx, a.ID)
		summary = s
		logger.Info().Int("chars", utf8.RuneCountInString(s)).Msg("Article summarized")
	}

	has, err := p.store.HasCategory(ctx, a.ID)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("check category: %w", err)
	}
	if has {
		if !a.ProcessedForIdentity {
			if err := p.store.MarkIdentityProcessed(ctx, a.ID); err != nil {
				return outcomeSkipped, fmt.Errorf("mark processed: %w", err)
			}
		}
		logger.Debug().Msg("Article already categorized")
		return outcomeProcessed, nil
	}

	result, err := p.categorizer.Categorize(ctx, p.categorizationInput(a, summary))
	if err != nil {
		return outcomeSkipped, fmt.Errorf("categorize: %w", err)
	}
	if !result.HasCategory() {
		return outcomeSkipped, ErrNoCategory
	}

	if err := p.store.MarkCategory(ctx, a.ID, result.Index); err != nil {
		return outcomeSkipped, fmt.Errorf("persist category: %w", err)
	}
	if err := p.store.MarkIdentityProcessed(ctx, a.ID); err != nil {
		return outcomeSkipped, fmt.Errorf("mark processed: %w", err)
	}

	logger.Info().
		Int("category", result.Index).
		Str("outcome", string(result.Outcome)).
		Msg("Article categorized")
	return outcomeProcessed, nil
}

// summarize reuses a summary left in the cache by a run whose write failed.
func (p *Processor) summarize(ctx context.Context, a repo.Article) (string, error) {
	if p.summaries != nil {
		if s, err := p.summaries.GetSummary(ctx, a.ID); err == nil {
			log.Debug().Int64("article_id", a.ID).Msg("Using cached summary")
			return s, nil
		} else if !errors.Is(err, cache.ErrKeyNotFound) {
			log.Warn().Err(err).Int64("article_id", a.ID).Msg("Summary cache read failed")
		}
	}

	s, err := p.summarizer.Summarize(ctx, SummaryInput(a))
	if err != nil {
		return "", err
	}

	if p.summaries != nil {
		if err := p.summaries.SetSummary(ctx, a.ID, s); err != nil {
			log.Warn().Err(err).Int64("article_id", a.ID).Msg("Summary cache write failed")
		}
	}
	return s, nil
}

func (p *Processor) forgetSummary(ctx context.Context, id int64) {
	if p.summaries == nil {
		return
	}
	if err := p.summaries.DeleteSummary(ctx, id); err != nil {
		log.Warn().Err(err).Int64("article_id", id).Msg("Summary cache delete failed")
	}
}

func (p *Processor) categorizationInput(a repo.Article, summary string) string {
	if p.cfg.CategorizeFrom == CategorizeFromSummary && summary != "" {
		return summary
	}
	return RawInput(a, p.cfg.MaxRawChars)
}

// SummaryInput is the text handed to the summarizer.
func SummaryInput(a repo.Article) string {
	return a.Title + " - " + a.Content
}

// RawInput is title and body, cut to at most maxChars runes.
func RawInput(a repo.Article, maxChars int) string {
	return TruncateInput(a.Title+" . "+a.Content, maxChars)
}

// TruncateInput cuts text to at most maxChars runes. maxChars <= 0 keeps it
// whole.
func TruncateInput(text string, maxChars int) string {
	r := []rune(text)
	if maxChars > 0 && len(r) > maxChars {
		return string(r[:maxChars])
	}
	return text
}
