package deliver

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
	"github.com/TobiSchelling/CompetitorWatch/internal/report"
)

// FileSink writes the report as Markdown and rendered HTML into a directory.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

func (f *FileSink) Name() string { return "file" }

func (f *FileSink) Deliver(_ context.Context, r *model.WeeklyReport) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	md := report.Markdown(r)
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}

	base := filepath.Join(f.Dir, "report-"+r.RunTimestamp.UTC().Format("2006-01-02"))
	if err := os.WriteFile(base+".md", []byte(md), 0o644); err != nil {
		return err
	}
	page := fmt.Sprintf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n%s</body></html>\n",
		html.EscapeString(report.Title(r)), body.String())
	return os.WriteFile(base+".html", []byte(page), 0o644)
}
