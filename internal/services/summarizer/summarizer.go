package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"news-processor/internal/services/llm"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const systemPrompt = "summarize the news below. at most 300 words and break into paragraphs if necessary. " +
	"make sure the summary is understandable, contains most of the details and has a good flow. " +
	"provide as much detail as possible in the summary"

const userPromptPrefix = "summarize the news below. at most 300 words and break into paragraphs if necessary. " +
	"make sure the summary is understandable, contains most of the details and has a good flow. " +
	"Here is the news: <NEWS>"

var ErrSummaryTooShort = errors.New("summary too short")

// ExhaustedError is returned when every attempt produced an implausibly
// short summary.
type ExhaustedError struct {
	Attempts   int
	LastLength int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("summarization failed after %d attempts: last summary had %d characters", e.Attempts, e.LastLength)
}

func (e *ExhaustedError) Unwrap() error { return ErrSummaryTooShort }

// Splitter cuts text into token-bounded chunks.
type Splitter interface {
	Split(text string, maxTokens int) []string
}

// Notifier receives the original text and final summary of every article
// that needed more than one chunk.
type Notifier interface {
	NotifyLongSummary(ctx context.Context, original, summary string) error
}

type Config struct {
	Model            llm.ModelID
	Temperature      float64
	MaxChunkTokens   int
	MinSummaryChars  int
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	ChunkConcurrency int
}

type Summarizer struct {
	gateway  llm.Gateway
	splitter Splitter
	notifier Notifier
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Summarizer)

// WithSleep replaces the backoff wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Summarizer) { s.sleep = sleep }
}

// New builds a Summarizer. A nil notifier disables long-input alerts.
func New(gateway llm.Gateway, splitter Splitter, notifier Notifier, cfg Config, opts ...Option) *Summarizer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ChunkConcurrency <= 0 {
		cfg.ChunkConcurrency = 1
	}
	s := &Summarizer{
		gateway:  gateway,
		splitter: splitter,
		notifier: notifier,
		cfg:      cfg,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize condenses text into a summary of at most ~300 words. Text over
// the chunk budget is summarized chunk by chunk and the joined partial
// summaries are summarized once more.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	var lastLen int
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.backoff(attempt-1)); err != nil {
				return "", err
			}
		}

		summary, chunks, err := s.summarizeOnce(ctx, text)
		if err != nil {
			return "", err
		}

		lastLen = utf8.RuneCountInString(summary)
		if lastLen >= s.cfg.MinSummaryChars {
			if chunks > 1 {
				s.notify(ctx, text, summary)
			}
			return summary, nil
		}

		log.Warn().
			Int("attempt", attempt).
			Int("max_attempts", s.cfg.MaxAttempts).
			Int("length", lastLen).
			Msg("Summary shorter than minimum, retrying")
	}

	return "", &ExhaustedError{Attempts: s.cfg.MaxAttempts, LastLength: lastLen}
}

func (s *Summarizer) summarizeOnce(ctx context.Context, text string) (string, int, error) {
	chunks := s.splitter.Split(text, s.cfg.MaxChunkTokens)
	if len(chunks) == 1 {
		summary, err := s.complete(ctx, chunks[0])
		return summary, 1, err
	}

	log.Info().Int("chunks", len(chunks)).Msg("Summarizing long article in chunks")

	partials, err := s.summarizeChunks(ctx, chunks)
	if err != nil {
		return "", len(chunks), err
	}

	summary, err := s.complete(ctx, strings.Join(partials, " "))
	if err != nil {
		return "", len(chunks), fmt.Errorf("merge summaries: %w", err)
	}
	return summary, len(chunks), nil
}

// summarizeChunks returns one summary per chunk in chunk order.
func (s *Summarizer) summarizeChunks(ctx context.Context, chunks []string) ([]string, error) {
	out := make([]string, len(chunks))

	if s.cfg.ChunkConcurrency == 1 {
		for i, chunk := range chunks {
			summary, err := s.complete(ctx, chunk)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", i, err)
			}
			out[i] = summary
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ChunkConcurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			summary, err := s.complete(gctx, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Summarizer) complete(ctx context.Context, text string) (string, error) {
	return s.gateway.Complete(ctx, llm.Request{
		UserPrompt:   userPromptPrefix + text + "</NEWS>",
		SystemPrompt: systemPrompt,
		Model:        s.cfg.Model,
		Temperature:  s.cfg.Temperature,
	})
}

func (s *Summarizer) notify(ctx context.Context, original, summary string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyLongSummary(ctx, original, summary); err != nil {
		log.Error().Err(err).Msg("Failed to send long summary alert")
	}
}

// backoff returns the wait before retry n (1-based): base doubled n-1 times,
// capped at RetryMaxDelay.
func (s *Summarizer) backoff(n int) time.Duration {
	d := s.cfg.RetryBaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if s.cfg.RetryMaxDelay > 0 && d >= s.cfg.RetryMaxDelay {
			return s.cfg.RetryMaxDelay
		}
	}
	if s.cfg.RetryMaxDelay > 0 && d > s.cfg.RetryMaxDelay {
		return s.cfg.RetryMaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
