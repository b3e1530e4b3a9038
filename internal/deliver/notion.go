package deliver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
	"github.com/TobiSchelling/CompetitorWatch/internal/report"
)

const (
	defaultNotionBaseURL = "https://api.notion.com/v1"
	notionVersion        = "2022-06-28"
	maxNotionItems       = 10
	maxNotionText        = 2000
)

// NotionSink creates a child page under a Notion parent page.
type NotionSink struct {
	Token   string
	PageID  string
	BaseURL string
	now     func() time.Time
	poster
}

// NewNotionSink creates a Notion sink.
func NewNotionSink(token, pageID string) *NotionSink {
	return &NotionSink{
		Token:   token,
		PageID:  pageID,
		BaseURL: defaultNotionBaseURL,
		now:     time.Now,
		poster:  newPoster(),
	}
}

func (n *NotionSink) Name() string { return "notion" }

func (n *NotionSink) Deliver(ctx context.Context, r *model.WeeklyReport) error {
	if n.Token == "" || n.PageID == "" {
		return errors.New("notion token and page ID are required")
	}
	headers := map[string]string{
		"Authorization":  "Bearer " + n.Token,
		"Notion-Version": notionVersion,
	}
	url := strings.TrimRight(n.BaseURL, "/") + "/pages"
	return n.postJSON(ctx, url, headers, n.page(r))
}

func (n *NotionSink) page(r *model.WeeklyReport) map[string]any {
	children := []map[string]any{
		notionBlock("heading_2", "Executive Summary"),
		notionBlock("paragraph", fmt.Sprintf("Total Updates: %d\n\n%s", r.TotalUpdates, r.ExecutiveSummary)),
	}

	for _, c := range model.Categories {
		updates := r.UpdatesByCategory[c]
		if c == model.CategoryOther && len(updates) == 0 {
			continue
		}
		children = append(children, notionBlock("heading_3", c.Label()))
		if len(updates) == 0 {
			children = append(children, notionBlock("paragraph", "No updates in this category this week."))
			continue
		}
		for i, u := range updates {
			if i == maxNotionItems {
				break
			}
			children = append(children, notionBlock("bulleted_list_item", notionLine(u)))
		}
	}

	children = append(children,
		map[string]any{"object": "block", "type": "divider", "divider": map[string]any{}},
		notionBlock("paragraph", fmt.Sprintf("Generated on: %s UTC", n.now().UTC().Format("2006-01-02 15:04:05"))),
	)

	return map[string]any{
		"parent": map[string]string{"page_id": n.PageID},
		"properties": map[string]any{
			"title": map[string]any{
				"title": []map[string]any{{"text": map[string]string{"content": report.Title(r)}}},
			},
		},
		"children": children,
	}
}

func notionLine(u model.CategorizedUpdate) string {
	line := u.SourceName + ": " + u.Title
	if u.SummaryLine != "" && u.SummaryLine != u.Title {
		line += " - " + u.SummaryLine
	}
	if u.Link != "" {
		line += " (" + u.Link + ")"
	}
	return line
}

func notionBlock(kind, text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   kind,
		kind: map[string]any{
			"rich_text": []map[string]any{{"text": map[string]string{"content": capText(text, maxNotionText)}}},
		},
	}
}

func capText(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
