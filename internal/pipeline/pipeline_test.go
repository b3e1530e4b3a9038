package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/CompetitorWatch/internal/categorize"
	"github.com/TobiSchelling/CompetitorWatch/internal/collect"
	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/database"
	"github.com/TobiSchelling/CompetitorWatch/internal/deliver"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

func init() { logging.Discard() }

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeCollector serves fixed entries per source name.
type fakeCollector struct {
	mu      sync.Mutex
	entries map[string][]model.RawEntry
	failing map[string]error
}

func (f *fakeCollector) set(source string, entries ...model.RawEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[source] = entries
}

func (f *fakeCollector) Collect(_ context.Context, sources []config.Source) *collect.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &collect.Result{Sources: map[string]int{}}
	for _, s := range sources {
		if err := f.failing[s.Name]; err != nil {
			r.Warnings = append(r.Warnings, model.Warning{Stage: "collect", Subject: s.Name, Err: &model.FetchError{Source: s.Name, Err: err}})
			continue
		}
		r.Fetches = append(r.Fetches, model.RawFetchResult{
			SourceName: s.Name,
			SourceType: s.Type,
			URL:        s.URL,
			FetchedAt:  time.Now(),
			Entries:    f.entries[s.Name],
		})
	}
	return r
}

// featureClassifier files every item as a new feature and summarizes the
// sources it saw, in prompt order.
type featureClassifier struct {
	err error
}

func (c featureClassifier) Classify(_ context.Context, prompt string) (*categorize.Classification, error) {
	if c.err != nil {
		return nil, c.err
	}
	cls := &categorize.Classification{Items: map[string]categorize.ItemClassification{}}
	var ref string
	var sources []string
	for _, line := range strings.Split(prompt, "\n") {
		switch {
		case strings.HasPrefix(line, "item_id: "):
			ref = strings.TrimPrefix(line, "item_id: ")
		case strings.HasPrefix(line, "Source: "):
			src := strings.TrimPrefix(line, "Source: ")
			sources = append(sources, src[:strings.Index(src, " (")])
		case strings.HasPrefix(line, "Title: "):
			cls.Items[ref] = categorize.ItemClassification{
				Category: model.CategoryNewFeature,
				Summary:  "Summary: " + strings.TrimPrefix(line, "Title: "),
			}
		}
	}
	cls.OverallSummary = strings.Join(sources, ", ") + " shipped."
	return cls, nil
}

// flakyClassifier fails its first call and then behaves like
// featureClassifier.
type flakyClassifier struct {
	mu    sync.Mutex
	calls int
}

func (c *flakyClassifier) Classify(ctx context.Context, prompt string) (*categorize.Classification, error) {
	c.mu.Lock()
	c.calls++
	first := c.calls == 1
	c.mu.Unlock()
	if first {
		return nil, errors.New("503 service unavailable")
	}
	return featureClassifier{}.Classify(ctx, prompt)
}

func stepSummary(r *Result, name string) string {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Summary
		}
	}
	return ""
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*model.WeeklyReport
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, r *model.WeeklyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

func testConfig(sources ...string) *config.Config {
	cfg := &config.Config{
		Sources:  config.Sources{Concurrency: 2, TimeoutSeconds: 5},
		Batching: config.Batching{MaxChars: 8000, MaxItems: 20},
		AI:       config.AI{Workers: 2, TimeoutSeconds: 5},
	}
	for _, s := range sources {
		cfg.Sources.Items = append(cfg.Sources.Items, config.Source{Name: s, URL: "https://" + strings.ToLower(s) + ".example", Type: model.SourceRSS})
	}
	return cfg
}

func TestRunScenarioNewThenUnchanged(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Blog", model.RawEntry{Title: "Launch v2", Body: "Version two is here."})
	sink := &recordingSink{}

	p := NewWithDeps(testConfig("Blog"), db, Deps{Collector: fc, Classifier: featureClassifier{}, Sinks: []deliver.Sink{sink}})
	ctx := context.Background()

	r, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if r.Report.TotalUpdates != 1 {
		t.Fatalf("expected 1 update, got %d", r.Report.TotalUpdates)
	}
	features := r.Report.UpdatesByCategory[model.CategoryNewFeature]
	if len(features) != 1 || features[0].Title != "Launch v2" {
		t.Errorf("expected Launch v2 as new feature, got %+v", r.Report.UpdatesByCategory)
	}

	r2, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if r2.Report.TotalUpdates != 0 {
		t.Errorf("expected 0 updates on identical rerun, got %d", r2.Report.TotalUpdates)
	}
	if r2.RunID == r.RunID {
		t.Error("expected distinct run IDs")
	}
	if len(sink.reports) != 2 {
		t.Errorf("expected both reports delivered, got %d", len(sink.reports))
	}

	rec, err := db.GetReport(ctx, r.RunID)
	if err != nil || rec == nil {
		t.Fatalf("expected stored report, got %v %v", rec, err)
	}
	if !rec.Delivered {
		t.Error("expected stored report marked delivered")
	}
	holder, _ := db.RunLockHolder(ctx)
	if holder != "" {
		t.Errorf("expected run lock released, held by %q", holder)
	}
}

func TestRunScenarioUpdatedBody(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	// The item ID covers only the leading body text, so edits past it
	// change the content of the same item.
	intro := strings.Repeat("Acme ships a new release. ", 10)
	fc.set("Blog", model.RawEntry{Title: "Launch v2", Body: intro + "Version two is here."})

	p := NewWithDeps(testConfig("Blog"), db, Deps{Collector: fc, Classifier: featureClassifier{}})
	ctx := context.Background()

	if _, err := p.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	fc.set("Blog", model.RawEntry{Title: "Launch v2", Body: intro + "Version two is here, now with SSO."})
	r, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if r.Report.TotalUpdates != 1 {
		t.Fatalf("expected 1 updated item, got %d", r.Report.TotalUpdates)
	}
	if got := stepSummary(r, "Detect"); !strings.HasPrefix(got, "0 new, 1 updated") {
		t.Errorf("expected the change detected as an update, got %q", got)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TrackedItems != 1 {
		t.Errorf("expected the same item to be updated, tracking %d items", stats.TrackedItems)
	}
}

func TestRunScenarioAIFailureFallsBack(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Blog",
		model.RawEntry{Title: "One", Body: "a"},
		model.RawEntry{Title: "Two", Body: "b"},
		model.RawEntry{Title: "Three", Body: "c"},
	)

	p := NewWithDeps(testConfig("Blog"), db, Deps{
		Collector:  fc,
		Classifier: featureClassifier{err: errors.New("quota exceeded")},
	})

	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	other := r.Report.UpdatesByCategory[model.CategoryOther]
	if len(other) != 3 || r.Report.TotalUpdates != 3 {
		t.Fatalf("expected 3 updates under other, got %+v", r.Report.UpdatesByCategory)
	}
	if len(r.Report.Warnings) == 0 {
		t.Error("expected an AI warning on the report")
	}
	var aiErr *model.AIError
	found := false
	for _, w := range r.Warnings {
		if errors.As(w.Err, &aiErr) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected AIError warning, got %v", r.Warnings)
	}
}

func TestRunScenarioTwoSources(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Alpha", model.RawEntry{Title: "Alpha launch", Body: "x"})
	fc.set("Beta", model.RawEntry{Title: "Beta launch", Body: "y"})

	cfg := testConfig("Alpha", "Beta")
	cfg.Batching.MaxItems = 1
	p := NewWithDeps(cfg, db, Deps{Collector: fc, Classifier: featureClassifier{}})

	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	features := r.Report.UpdatesByCategory[model.CategoryNewFeature]
	if len(features) != 2 || features[0].SourceName != "Alpha" || features[1].SourceName != "Beta" {
		t.Fatalf("expected updates from Alpha then Beta, got %+v", features)
	}
	if r.Report.ExecutiveSummary != "Alpha shipped. Beta shipped." {
		t.Errorf("expected summaries in batch order, got %q", r.Report.ExecutiveSummary)
	}
}

func TestRunSourceFailureIsWarning(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{
		entries: map[string][]model.RawEntry{},
		failing: map[string]error{"Down": errors.New("timeout")},
	}
	fc.set("Blog", model.RawEntry{Title: "Launch v2", Body: "x"})

	p := NewWithDeps(testConfig("Blog", "Down"), db, Deps{Collector: fc, Classifier: featureClassifier{}})
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Report.TotalUpdates != 1 {
		t.Errorf("expected healthy source to report, got %d", r.Report.TotalUpdates)
	}
	if len(r.Report.Warnings) != 1 || !strings.Contains(r.Report.Warnings[0], "Down") {
		t.Errorf("expected fetch warning for Down, got %v", r.Report.Warnings)
	}
}

func TestRunLockedFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.AcquireRunLock(ctx, "other-run", time.Hour); err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}

	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Blog", model.RawEntry{Title: "Launch v2"})
	p := NewWithDeps(testConfig("Blog"), db, Deps{Collector: fc, Classifier: featureClassifier{}})

	_, err := p.Run(ctx)
	if !errors.Is(err, database.ErrRunLocked) {
		t.Errorf("expected ErrRunLocked, got %v", err)
	}
}

func TestRunAllDeliveriesFailed(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Blog", model.RawEntry{Title: "Launch v2"})
	sink := &recordingSink{err: errors.New("webhook gone")}

	p := NewWithDeps(testConfig("Blog"), db, Deps{Collector: fc, Classifier: featureClassifier{}, Sinks: []deliver.Sink{sink}})
	r, err := p.Run(context.Background())
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	rec, getErr := db.GetReport(context.Background(), r.RunID)
	if getErr != nil || rec == nil {
		t.Fatalf("expected report persisted despite delivery failure, got %v %v", rec, getErr)
	}
	if rec.Delivered {
		t.Error("expected report not marked delivered")
	}
}

func TestDryRunLeavesStoreUntouched(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Blog", model.RawEntry{Title: "Launch v2"}, model.RawEntry{Title: "Pricing"})

	p := NewWithDeps(testConfig("Blog"), db, Deps{Collector: fc})
	ctx := context.Background()

	r, err := p.DryRun(ctx)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if !strings.Contains(r.Steps[1].Summary, "2 new") {
		t.Errorf("unexpected detect summary %q", r.Steps[1].Summary)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TrackedItems != 0 || stats.Reports != 0 {
		t.Errorf("expected no writes, got %+v", stats)
	}
}

func TestRunSkipsEntriesOutsideRecencyWindow(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Blog",
		model.RawEntry{Title: "Old launch", Body: "From years ago.", Published: "2019-03-01T00:00:00Z"},
		model.RawEntry{Title: "This week", Body: "Fresh news.", Published: "2026-10-13T10:00:00Z"},
		model.RawEntry{Title: "Undated", Body: "No date on this one."},
	)
	cfg := testConfig("Blog")
	cfg.Sources.MaxAgeDays = 7
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	p := NewWithDeps(cfg, db, Deps{
		Collector:  fc,
		Classifier: featureClassifier{},
		Now:        func() time.Time { return now },
	})
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Report.TotalUpdates != 2 {
		t.Fatalf("expected 2 recent or undated updates, got %d", r.Report.TotalUpdates)
	}
	for _, u := range r.Report.UpdatesByCategory[model.CategoryNewFeature] {
		if u.Title == "Old launch" {
			t.Error("expected stale entry to be skipped")
		}
	}
	if got := stepSummary(r, "Collect"); !strings.Contains(got, "(1 too old)") {
		t.Errorf("expected stale count in collect summary, got %q", got)
	}
}

func TestRunRetriesTransientAIFailure(t *testing.T) {
	db := openTestDB(t)
	fc := &fakeCollector{entries: map[string][]model.RawEntry{}}
	fc.set("Blog", model.RawEntry{Title: "SSO", Body: "Single sign-on is live."})
	cfg := testConfig("Blog")
	cfg.AI.Retries = 3
	cls := &flakyClassifier{}

	p := NewWithDeps(cfg, db, Deps{Collector: fc, Classifier: cls})
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cls.calls != 2 {
		t.Errorf("expected a retry after the first failure, got %d calls", cls.calls)
	}
	if len(r.Report.UpdatesByCategory[model.CategoryNewFeature]) != 1 {
		t.Errorf("expected the update categorized after retry, got %+v", r.Report.UpdatesByCategory)
	}
	for _, w := range r.Warnings {
		var aiErr *model.AIError
		if errors.As(w.Err, &aiErr) {
			t.Errorf("unexpected AI warning after successful retry: %v", w)
		}
	}
}
