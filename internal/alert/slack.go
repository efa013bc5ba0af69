// Package alert delivers operator notifications about unusual articles.
package alert

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

const longSummaryWarning = "[WARNING] :warning: long text to summarize!"

// SlackNotifier posts a warning to a channel and threads the original text
// and the summary under it as file uploads.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

func NewSlackNotifier(token, channel string, opts ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token, opts...),
		channel: channel,
	}
}

func (n *SlackNotifier) NotifyLongSummary(ctx context.Context, original, summary string) error {
	_, ts, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(longSummaryWarning, false))
	if err != nil {
		return fmt.Errorf("post warning: %w", err)
	}

	uploads := []struct {
		filename, title, comment, content string
	}{
		{"long_text.txt", "Long Text", "Here is the long text:", original},
		{"summary_text.txt", "Summary Text", "Here is the summary:", summary},
	}
	for _, u := range uploads {
		_, err := n.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:         n.channel,
			ThreadTimestamp: ts,
			Filename:        u.filename,
			Title:           u.title,
			InitialComment:  u.comment,
			Content:         u.content,
			FileSize:        len(u.content),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", u.filename, err)
		}
	}

	log.Info().Str("channel", n.channel).Str("thread_ts", ts).Msg("Long summary alert sent")
	return nil
}

// LogNotifier records long summaries in the log when Slack is not set up.
type LogNotifier struct{}

func (LogNotifier) NotifyLongSummary(_ context.Context, original, summary string) error {
	log.Warn().
		Int("original_chars", len(original)).
		Int("summary_chars", len(summary)).
		Msg("Long text summarized in chunks")
	return nil
}
