package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"news-processor/internal/pipeline"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// BatchRunner runs one pass over unprocessed articles.
type BatchRunner interface {
	RunBatch(ctx context.Context) (pipeline.BatchReport, error)
}

// Poller runs the batch on a cron schedule. A tick that fires while the
// previous batch is still running is skipped.
type Poller struct {
	runner BatchRunner
	cron   *cron.Cron

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPoller(runner BatchRunner) *Poller {
	return &Poller{
		runner: runner,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the batch. ctx bounds every run.
func (p *Poller) Start(ctx context.Context, schedule string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	if _, err := p.cron.AddFunc(schedule, func() { p.run(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	p.cancel = cancel
	p.cron.Start()

	log.Info().Str("schedule", schedule).Msg("Article poller started")
	return nil
}

// Stop cancels a running batch and waits for it to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	<-p.cron.Stop().Done()
	log.Info().Msg("Article poller stopped")
}

// RunOnce runs a single batch synchronously.
func (p *Poller) RunOnce(ctx context.Context) (pipeline.BatchReport, error) {
	return p.runner.RunBatch(ctx)
}

func (p *Poller) run(ctx context.Context) {
	report, err := p.runner.RunBatch(ctx)
	switch {
	case errors.Is(err, pipeline.ErrBatchRunning):
		log.Info().Msg("Batch already running, tick skipped")
	case errors.Is(err, context.Canceled):
		log.Info().Int("processed", report.Processed).Msg("Batch cancelled")
	case err != nil:
		log.Error().Err(err).Msg("Failed to run batch")
	}
}
