package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

const emptySummary = "No competitor updates detected this week."

// Assemble merges categorized updates into a weekly report. Updates keep
// their input order within each category. The overall summary is used when
// present; otherwise a summary of category counts is generated.
func Assemble(runID string, updates []model.CategorizedUpdate, overallSummary string, warnings []model.Warning, now func() time.Time) *model.WeeklyReport {
	byCategory := make(map[model.Category][]model.CategorizedUpdate, len(model.Categories))
	for _, c := range model.Categories {
		byCategory[c] = []model.CategorizedUpdate{}
	}
	for _, u := range updates {
		cat := u.Category
		if _, ok := byCategory[cat]; !ok {
			cat = model.CategoryOther
			u.Category = cat
		}
		byCategory[cat] = append(byCategory[cat], u)
	}

	r := &model.WeeklyReport{
		RunID:             runID,
		UpdatesByCategory: byCategory,
	}
	r.TotalUpdates = r.Count()

	r.ExecutiveSummary = strings.TrimSpace(overallSummary)
	if r.ExecutiveSummary == "" || r.TotalUpdates == 0 {
		r.ExecutiveSummary = FallbackSummary(r)
	}

	for _, w := range warnings {
		r.Warnings = append(r.Warnings, w.String())
	}

	if now == nil {
		now = time.Now
	}
	r.RunTimestamp = now()
	return r
}

// FallbackSummary lists the number of updates per category.
func FallbackSummary(r *model.WeeklyReport) string {
	if r.Count() == 0 {
		return emptySummary
	}
	parts := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		parts = append(parts, countPhrase(len(r.UpdatesByCategory[c]), c))
	}
	return strings.Join(parts, ", ") + "."
}

func countPhrase(n int, c model.Category) string {
	noun := map[model.Category][2]string{
		model.CategoryNewFeature:      {"new feature", "new features"},
		model.CategoryPricingChange:   {"pricing change", "pricing changes"},
		model.CategoryMessagingUpdate: {"messaging update", "messaging updates"},
		model.CategoryOther:           {"other update", "other updates"},
	}[c]
	if n == 1 {
		return fmt.Sprintf("1 %s", noun[0])
	}
	return fmt.Sprintf("%d %s", n, noun[1])
}

// Title returns the report heading used by delivery sinks.
func Title(r *model.WeeklyReport) string {
	return "Competitor Intelligence Report - " + r.RunTimestamp.Format("Jan 02, 2006")
}

// Markdown renders the report for chat sinks, files and the report browser.
func Markdown(r *model.WeeklyReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", Title(r))
	fmt.Fprintf(&sb, "**Total updates:** %d\n\n", r.TotalUpdates)
	fmt.Fprintf(&sb, "## Executive Summary\n\n%s\n", r.ExecutiveSummary)

	for _, c := range model.Categories {
		updates := r.UpdatesByCategory[c]
		if len(updates) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n\n", c.Label())
		for _, u := range updates {
			sb.WriteString("- " + UpdateLine(u) + "\n")
		}
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("\n## Warnings\n\n")
		for _, w := range r.Warnings {
			sb.WriteString("- " + w + "\n")
		}
	}

	fmt.Fprintf(&sb, "\n---\n\nGenerated on %s UTC (run %s)\n",
		r.RunTimestamp.UTC().Format("2006-01-02 15:04:05"), r.RunID)
	return sb.String()
}

// UpdateLine formats one update as "**Source**: [Title](link) - summary".
func UpdateLine(u model.CategorizedUpdate) string {
	title := u.Title
	if u.Link != "" {
		title = fmt.Sprintf("[%s](%s)", u.Title, u.Link)
	}
	line := fmt.Sprintf("**%s**: %s", u.SourceName, title)
	if u.SummaryLine != "" && u.SummaryLine != u.Title {
		line += " - " + u.SummaryLine
	}
	return line
}
