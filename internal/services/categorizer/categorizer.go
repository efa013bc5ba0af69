// Package categorizer assigns one category from a fixed table to a news text
// by asking three models and reconciling their votes.
package categorizer

import (
	"context"
	"fmt"

	"news-processor/internal/services/llm"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Vote is one model's answer after parsing. Resolved is false when no
// attempt produced a usable index; Index is meaningless in that case.
type Vote struct {
	Model    llm.ModelID
	Index    int
	Resolved bool
	Attempts int
	Raw      string
}

// Outcome tells how the final category was reached.
type Outcome string

const (
	OutcomeAgreement  Outcome = "agreement"
	OutcomeMajority   Outcome = "majority"
	OutcomeTieBreak   Outcome = "tie_break"
	OutcomeNoCategory Outcome = "no_category"
)

// Result of one categorization. Index is only valid when HasCategory
// reports true.
type Result struct {
	Index   int
	Outcome Outcome
	Votes   []Vote
}

func (r Result) HasCategory() bool {
	return r.Outcome != OutcomeNoCategory
}

type Config struct {
	VoteModels      []llm.ModelID
	Temperature     float64
	MaxVoteAttempts int
	// ParallelVotes asks all three models at once instead of skipping the
	// third vote when the first two agree.
	ParallelVotes bool
}

type Categorizer struct {
	gateway llm.Gateway
	table   *Table
	cfg     Config

	tableText string
}

func New(gateway llm.Gateway, table *Table, cfg Config) (*Categorizer, error) {
	if len(cfg.VoteModels) != 3 {
		return nil, fmt.Errorf("categorizer needs 3 vote models, got %d", len(cfg.VoteModels))
	}
	if cfg.MaxVoteAttempts <= 0 {
		cfg.MaxVoteAttempts = 5
	}
	models := make([]llm.ModelID, len(cfg.VoteModels))
	copy(models, cfg.VoteModels)
	cfg.VoteModels = models

	return &Categorizer{
		gateway:   gateway,
		table:     table,
		cfg:       cfg,
		tableText: table.String(),
	}, nil
}

func (c *Categorizer) Table() *Table { return c.table }

// Categorize returns the reconciled category for text. Only gateway errors
// are returned; unparseable answers end up as unresolved votes.
func (c *Categorizer) Categorize(ctx context.Context, text string) (Result, error) {
	if c.cfg.ParallelVotes {
		votes, err := c.voteAll(ctx, text)
		if err != nil {
			return Result{}, err
		}
		return reconcile(votes), nil
	}

	first, err := c.vote(ctx, text, c.cfg.VoteModels[0])
	if err != nil {
		return Result{}, err
	}
	second, err := c.vote(ctx, text, c.cfg.VoteModels[1])
	if err != nil {
		return Result{}, err
	}
	if first.Resolved && second.Resolved && first.Index == second.Index {
		return Result{Index: first.Index, Outcome: OutcomeAgreement, Votes: []Vote{first, second}}, nil
	}

	third, err := c.vote(ctx, text, c.cfg.VoteModels[2])
	if err != nil {
		return Result{}, err
	}
	return reconcile([]Vote{first, second, third}), nil
}

func (c *Categorizer) voteAll(ctx context.Context, text string) ([]Vote, error) {
	votes := make([]Vote, len(c.cfg.VoteModels))

	g, gctx := errgroup.WithContext(ctx)
	for i, model := range c.cfg.VoteModels {
		i, model := i, model
		g.Go(func() error {
			v, err := c.vote(gctx, text, model)
			if err != nil {
				return err
			}
			votes[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return votes, nil
}

// vote asks one model until its answer parses or attempts run out.
func (c *Categorizer) vote(ctx context.Context, text string, model llm.ModelID) (Vote, error) {
	v := Vote{Model: model}
	req := llm.Request{
		UserPrompt:   c.userPrompt(text),
		SystemPrompt: c.systemPrompt(),
		Model:        model,
		Temperature:  c.cfg.Temperature,
	}

	for attempt := 1; attempt <= c.cfg.MaxVoteAttempts; attempt++ {
		raw, err := c.gateway.Complete(ctx, req)
		if err != nil {
			return v, fmt.Errorf("vote with model %d: %w", model, err)
		}
		v.Attempts = attempt
		v.Raw = raw

		if idx, ok := c.table.Parse(raw); ok {
			v.Index = idx
			v.Resolved = true
			return v, nil
		}

		log.Warn().
			Int("model", int(model)).
			Int("attempt", attempt).
			Str("response", truncate(raw, 200)).
			Msg("Model did not provide a valid category")
	}

	log.Warn().Int("model", int(model)).Int("attempts", v.Attempts).Msg("Vote unresolved")
	return v, nil
}

// reconcile applies agreement, then majority, then the tie-break on the
// second vote, then the first resolved vote in order.
func reconcile(votes []Vote) Result {
	res := Result{Votes: votes, Outcome: OutcomeNoCategory}

	if len(votes) >= 2 && votes[0].Resolved && votes[1].Resolved && votes[0].Index == votes[1].Index {
		res.Index, res.Outcome = votes[0].Index, OutcomeAgreement
		return res
	}

	counts := make(map[int]int, len(votes))
	for _, v := range votes {
		if v.Resolved {
			counts[v.Index]++
		}
	}
	if len(counts) == 0 {
		return res
	}

	for _, v := range votes {
		if v.Resolved && counts[v.Index] > 1 {
			res.Index, res.Outcome = v.Index, OutcomeMajority
			return res
		}
	}

	if len(votes) >= 2 && votes[1].Resolved {
		res.Index, res.Outcome = votes[1].Index, OutcomeTieBreak
		return res
	}
	for _, v := range votes {
		if v.Resolved {
			res.Index, res.Outcome = v.Index, OutcomeTieBreak
			return res
		}
	}
	return res
}

func (c *Categorizer) userPrompt(text string) string {
	return "between the categories provided " + c.tableText +
		" what is the category of news? please provide the category only for answer and do not provide explanation." +
		"just respond with the index of category. Here's the news article for analysis: <NEWS>" + text + "</NEWS>"
}

func (c *Categorizer) systemPrompt() string {
	return "classify the category of the news. please provide the category for answer and do not provide " +
		"explanation for why you chose the category. between the categories provided " + c.tableText
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
