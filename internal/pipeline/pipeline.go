package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/CompetitorWatch/internal/batch"
	"github.com/TobiSchelling/CompetitorWatch/internal/categorize"
	"github.com/TobiSchelling/CompetitorWatch/internal/collect"
	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/database"
	"github.com/TobiSchelling/CompetitorWatch/internal/deliver"
	"github.com/TobiSchelling/CompetitorWatch/internal/detect"
	"github.com/TobiSchelling/CompetitorWatch/internal/llm"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
	"github.com/TobiSchelling/CompetitorWatch/internal/normalize"
	"github.com/TobiSchelling/CompetitorWatch/internal/report"
)

// ErrDeliveryFailed is returned when sinks were configured and none accepted
// the report. The report is still stored.
var ErrDeliveryFailed = errors.New("report delivery failed on every sink")

// staleLockAfter is how long a run lock is honored before it is considered
// abandoned by a crashed run.
const staleLockAfter = time.Hour

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID    string
	Steps    []StepResult
	Report   *model.WeeklyReport
	Warnings []model.Warning
	Delivery *deliver.Result
}

// Collector fetches raw entries for the configured sources.
type Collector interface {
	Collect(ctx context.Context, sources []config.Source) *collect.Result
}

// Deps are the pipeline collaborators. Nil fields are built from config.
type Deps struct {
	Collector  Collector
	Classifier categorize.Classifier
	Sinks      []deliver.Sink
	Alert      *deliver.SlackSink
	Now        func() time.Time
}

// Pipeline runs one collect, detect, categorize and deliver pass.
type Pipeline struct {
	cfg  *config.Config
	db   *database.DB
	deps Deps
}

// New creates a pipeline wired from configuration.
func New(cfg *config.Config, db *database.DB) *Pipeline {
	ai := cfg.AI
	provider := llm.CreateProvider(llm.Settings{
		Provider:      ai.Provider,
		Model:         ai.Model,
		OllamaURL:     ai.OllamaURL,
		OpenAIModel:   ai.OpenAIModel,
		OpenAIBaseURL: ai.OpenAIBaseURL,
		APIKeyEnv:     ai.APIKeyEnv,
		GeminiModel:   ai.GeminiModel,
		GeminiKeyEnv:  ai.GeminiKeyEnv,
	})

	deps := Deps{
		Collector: collect.NewCollector(cfg.Sources.Concurrency, cfg.SourceTimeout()),
		Sinks:     deliver.SinksFromConfig(cfg.Delivery),
		Alert:     deliver.AlertSink(cfg.Delivery),
	}
	if provider != nil {
		deps.Classifier = categorize.NewLLMClassifier(provider, ai.MaxTokens)
	}
	return NewWithDeps(cfg, db, deps)
}

// NewWithDeps creates a pipeline with explicit collaborators.
func NewWithDeps(cfg *config.Config, db *database.DB, deps Deps) *Pipeline {
	if deps.Collector == nil {
		deps.Collector = collect.NewCollector(cfg.Sources.Concurrency, cfg.SourceTimeout())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{cfg: cfg, db: db, deps: deps}
}

// Run executes the full pipeline. A non-nil error means the run failed; the
// result still carries whatever steps completed.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	r := &Result{RunID: uuid.NewString()}
	log := logging.Log.WithField("run_id", r.RunID)

	log.Info("Step 1/6: Collecting sources...")
	items := p.collectItems(ctx, r)

	log.Info("Step 2/6: Detecting changes...")
	events, err := p.detectChanges(ctx, r, items)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Detect", Err: err})
		p.alert(ctx, err)
		return r, err
	}

	log.Info("Step 3/6: Batching updates...")
	batches := batch.Split(events, batch.Limits{
		MaxChars: p.cfg.Batching.MaxChars,
		MaxItems: p.cfg.Batching.MaxItems,
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Batch",
		Summary: fmt.Sprintf("%d updates in %d batches", len(events), len(batches)),
	})

	log.Info("Step 4/6: Categorizing updates...")
	cat := p.categorize(ctx, batches)
	r.Warnings = append(r.Warnings, cat.Warnings...)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Categorize",
		Summary: fmt.Sprintf("Categorized %d updates, %d batches fell back", len(cat.Updates), cat.FailedBatches),
	})

	log.Info("Step 5/6: Assembling report...")
	r.Report = report.Assemble(r.RunID, cat.Updates, cat.OverallSummary, r.Warnings, p.deps.Now)
	step := StepResult{
		Name:    "Report",
		Summary: fmt.Sprintf("%d updates, %d warnings", r.Report.TotalUpdates, len(r.Report.Warnings)),
	}
	if err := p.db.InsertReport(ctx, r.Report, report.Markdown(r.Report)); err != nil {
		step.Err = fmt.Errorf("storing report: %w", err)
		r.Warnings = append(r.Warnings, model.Warning{Stage: "report", Subject: r.RunID, Err: err})
	}
	r.Steps = append(r.Steps, step)

	log.Info("Step 6/6: Delivering report...")
	if err := p.deliverReport(ctx, r); err != nil {
		p.alert(ctx, err)
		return r, err
	}
	return r, nil
}

// DryRun collects and compares against the fingerprint store without
// recording fingerprints, calling the AI or delivering anything.
func (p *Pipeline) DryRun(ctx context.Context) (*Result, error) {
	r := &Result{RunID: "dry-run"}

	items := p.collectItems(ctx, r)

	det, err := detect.NewPreviewDetector(p.db).Detect(ctx, items)
	if err != nil {
		return r, err
	}
	r.Warnings = append(r.Warnings, det.Warnings...)

	batches := batch.Split(det.Events, batch.Limits{
		MaxChars: p.cfg.Batching.MaxChars,
		MaxItems: p.cfg.Batching.MaxItems,
	})

	newCount, updated := countKinds(det.Events)
	r.Steps = append(r.Steps,
		StepResult{
			Name:    "Detect",
			Summary: fmt.Sprintf("[dry-run] %d new, %d updated, %d unchanged", newCount, updated, det.Unchanged),
		},
		StepResult{
			Name:    "Categorize",
			Summary: fmt.Sprintf("[dry-run] Would send %d batches to the AI", len(batches)),
		},
		StepResult{
			Name:    "Deliver",
			Summary: fmt.Sprintf("[dry-run] Would deliver to %d sinks", len(p.deps.Sinks)),
		},
	)
	return r, nil
}

func (p *Pipeline) collectItems(ctx context.Context, r *Result) []model.CanonicalItem {
	res := p.deps.Collector.Collect(ctx, p.cfg.Sources.Items)
	r.Warnings = append(r.Warnings, res.Warnings...)

	var items []model.CanonicalItem
	for _, f := range res.Fetches {
		items = append(items, normalize.Normalize(f)...)
	}

	stale := 0
	if maxAge := p.cfg.MaxAge(); maxAge > 0 {
		items, stale = normalize.FilterRecent(items, p.deps.Now().Add(-maxAge))
	}

	r.Steps = append(r.Steps, StepResult{
		Name: "Collect",
		Summary: fmt.Sprintf("Fetched %d sources (%d failed), %d entries, %d items (%d too old)",
			len(res.Fetches), len(res.Warnings), res.TotalEntries(), len(items), stale),
	})
	return items
}

// detectChanges runs change detection while holding the run lock so that
// concurrent runs cannot interleave fingerprint writes.
func (p *Pipeline) detectChanges(ctx context.Context, r *Result, items []model.CanonicalItem) ([]model.ChangeEvent, error) {
	if err := p.db.AcquireRunLock(ctx, r.RunID, staleLockAfter); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.db.ReleaseRunLock(context.WithoutCancel(ctx), r.RunID); err != nil {
			logging.Log.Warnf("Failed to release run lock: %v", err)
		}
	}()

	det, err := detect.NewDetector(p.db).Detect(ctx, items)
	if err != nil {
		return nil, err
	}
	r.Warnings = append(r.Warnings, det.Warnings...)
	newCount, updated := countKinds(det.Events)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Detect",
		Summary: fmt.Sprintf("%d new, %d updated, %d unchanged, %d skipped", newCount, updated, det.Unchanged, det.Skipped),
	})
	return det.Events, nil
}

func countKinds(events []model.ChangeEvent) (newCount, updated int) {
	for _, ev := range events {
		switch ev.Kind {
		case model.ChangeNew:
			newCount++
		case model.ChangeUpdated:
			updated++
		}
	}
	return newCount, updated
}

func (p *Pipeline) categorize(ctx context.Context, batches []batch.Batch) *categorize.Result {
	opts := categorize.Options{
		Workers:      p.cfg.AI.Workers,
		Timeout:      p.cfg.AITimeout(),
		Attempts:     p.cfg.AI.Retries,
		RetryBackoff: p.cfg.AI.RetryBackoff,
	}
	if rpm := p.cfg.AI.RequestsPerMinute; rpm > 0 {
		opts.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	if p.deps.Classifier == nil && len(batches) > 0 {
		logging.Log.Warn("No LLM provider available, updates will be uncategorized")
	}
	return categorize.NewAggregator(p.deps.Classifier, opts).Categorize(ctx, batches)
}

func (p *Pipeline) deliverReport(ctx context.Context, r *Result) error {
	if len(p.deps.Sinks) == 0 {
		logging.Log.Warn("No delivery sinks configured, report only stored")
		r.Steps = append(r.Steps, StepResult{Name: "Deliver", Summary: "No sinks configured"})
		return nil
	}

	res := deliver.Deliver(ctx, p.deps.Sinks, r.Report)
	r.Delivery = res
	r.Warnings = append(r.Warnings, res.Warnings()...)

	if res.AllFailed() {
		r.Steps = append(r.Steps, StepResult{Name: "Deliver", Err: ErrDeliveryFailed})
		return ErrDeliveryFailed
	}

	if err := p.db.MarkReportDelivered(ctx, r.RunID); err != nil {
		logging.Log.Warnf("Failed to mark report delivered: %v", err)
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Deliver",
		Summary: fmt.Sprintf("Delivered to %d of %d sinks", len(res.Delivered), len(p.deps.Sinks)),
	})
	return nil
}

func (p *Pipeline) alert(ctx context.Context, runErr error) {
	if p.deps.Alert == nil {
		return
	}
	if err := p.deps.Alert.SendAlert(context.WithoutCancel(ctx), runErr, p.deps.Now()); err != nil {
		logging.Log.Warnf("Failed to send failure alert: %v", err)
	}
}
