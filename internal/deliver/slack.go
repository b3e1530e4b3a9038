package deliver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
	"github.com/TobiSchelling/CompetitorWatch/internal/report"
)

const maxSlackItems = 5

// SlackSink posts the report to a Slack incoming webhook.
type SlackSink struct {
	WebhookURL string
	poster
}

// NewSlackSink creates a Slack sink for the given webhook URL.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{WebhookURL: webhookURL, poster: newPoster()}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, r *model.WeeklyReport) error {
	return s.send(ctx, SlackMessage(r))
}

// SendAlert posts an error alert for a failed run.
func (s *SlackSink) SendAlert(ctx context.Context, runErr error, now time.Time) error {
	msg := fmt.Sprintf("*Competitor Monitoring Alert*\n\n*Error*: %v\n*Time*: %s\n*Action Required*: Check logs and system status",
		runErr, now.Format("2006-01-02 15:04:05"))
	return s.send(ctx, msg)
}

func (s *SlackSink) send(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return errors.New("slack webhook URL not configured")
	}
	payload := map[string]any{
		"text":       message,
		"username":   "Competitor Bot",
		"icon_emoji": ":mag:",
		"blocks":     slackBlocks(message),
	}
	return s.postJSON(ctx, s.WebhookURL, nil, payload)
}

// SlackMessage renders the report in Slack mrkdwn. Paragraphs become blocks;
// the first paragraph is the header.
func SlackMessage(r *model.WeeklyReport) string {
	var parts []string
	parts = append(parts, report.Title(r))
	parts = append(parts, fmt.Sprintf("*Executive Summary*\n%s", r.ExecutiveSummary))
	parts = append(parts, fmt.Sprintf("*Total updates:* %d", r.TotalUpdates))

	for _, c := range model.Categories {
		updates := r.UpdatesByCategory[c]
		if len(updates) == 0 {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "*%s* (%d)", c.Label(), len(updates))
		for i, u := range updates {
			if i == maxSlackItems {
				fmt.Fprintf(&sb, "\n_...and %d more_", len(updates)-maxSlackItems)
				break
			}
			sb.WriteString("\n- " + slackLine(u))
		}
		parts = append(parts, sb.String())
	}

	if len(r.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf("_%d warning(s) during this run_", len(r.Warnings)))
	}
	return strings.Join(parts, "\n\n")
}

func slackLine(u model.CategorizedUpdate) string {
	title := u.Title
	if u.Link != "" {
		title = fmt.Sprintf("<%s|%s>", u.Link, u.Title)
	}
	line := fmt.Sprintf("*%s*: %s", u.SourceName, title)
	if u.SummaryLine != "" && u.SummaryLine != u.Title {
		line += " - " + u.SummaryLine
	}
	return line
}

func slackBlocks(message string) []map[string]any {
	var blocks []map[string]any
	for i, section := range strings.Split(message, "\n\n") {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if i == 0 {
			blocks = append(blocks, map[string]any{
				"type": "header",
				"text": map[string]string{"type": "plain_text", "text": strings.ReplaceAll(section, "*", "")},
			})
			continue
		}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]string{"type": "mrkdwn", "text": section},
		})
	}
	return append(blocks, map[string]any{"type": "divider"})
}
