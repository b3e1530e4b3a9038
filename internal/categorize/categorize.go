package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TobiSchelling/CompetitorWatch/internal/batch"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

const categorizePrompt = `You are a competitive intelligence analyst. Classify each competitor update below into exactly one category.

Categories:
- new_feature: new features, product updates or capabilities
- pricing_change: pricing, plans or monetization changes
- messaging_update: branding, positioning or marketing message changes
- other: anything else

COMPETITOR UPDATES:
%s

Respond with ONLY this JSON:
{
    "summary": "A concise 1-2 sentence summary of the most important developments above",
    "items": [
        {"item_id": "item-1", "category": "new_feature", "summary": "One-line summary of the update"}
    ]
}

Include every item_id exactly once.`

// unavailableSuffix marks updates that were never seen by the model.
const unavailableSuffix = " (uncategorized: AI analysis unavailable)"

// Options configures an Aggregator.
type Options struct {
	// Workers bounds concurrent classification calls. Defaults to 1.
	Workers int
	// Timeout applies to each classification call. Zero means none.
	Timeout time.Duration
	// Limiter throttles calls across workers. Nil means unthrottled.
	Limiter *rate.Limiter
	// Attempts is how many times a batch is sent before falling back.
	// Defaults to 1.
	Attempts int
	// RetryBackoff is the wait before the second attempt, doubling after.
	RetryBackoff time.Duration
}

// Result holds the merged output of all batches.
type Result struct {
	Updates        []model.CategorizedUpdate
	OverallSummary string
	Warnings       []model.Warning
	FailedBatches  int
}

// Aggregator drives classification of batches and merges their results.
type Aggregator struct {
	classifier Classifier
	opts       Options
}

// NewAggregator creates an aggregator over classifier.
func NewAggregator(classifier Classifier, opts Options) *Aggregator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Aggregator{classifier: classifier, opts: opts}
}

type batchOutcome struct {
	updates []model.CategorizedUpdate
	summary string
	warning *model.Warning
}

// Categorize classifies every batch and merges the results in batch order.
// Every input event appears exactly once in the output, regardless of
// classification failures.
func (a *Aggregator) Categorize(ctx context.Context, batches []batch.Batch) *Result {
	outcomes := make([]batchOutcome, len(batches))
	sem := make(chan struct{}, a.opts.Workers)
	var wg sync.WaitGroup

	for i, b := range batches {
		wg.Add(1)
		go func(i int, b batch.Batch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = a.categorizeBatch(ctx, b)
		}(i, b)
	}
	wg.Wait()

	r := &Result{}
	seen := make(map[string]struct{})
	var summaries []string
	for _, o := range outcomes {
		for _, u := range o.updates {
			if _, dup := seen[u.ItemID]; dup {
				continue
			}
			seen[u.ItemID] = struct{}{}
			r.Updates = append(r.Updates, u)
		}
		if o.summary != "" {
			summaries = append(summaries, o.summary)
		}
		if o.warning != nil {
			r.Warnings = append(r.Warnings, *o.warning)
			r.FailedBatches++
		}
	}
	r.OverallSummary = strings.Join(summaries, " ")

	logging.Log.Infof("Categorization complete: %d updates from %d batches, %d failed",
		len(r.Updates), len(batches), r.FailedBatches)
	return r
}

func (a *Aggregator) categorizeBatch(ctx context.Context, b batch.Batch) batchOutcome {
	refs := make([]string, len(b.Events))
	for i := range b.Events {
		refs[i] = fmt.Sprintf("item-%d", i+1)
	}

	cls, err := a.classify(ctx, b.Index, BuildPrompt(b, refs))
	if err != nil {
		aiErr := &model.AIError{Batch: b.Index, Err: err}
		logging.Log.WithField("batch", b.Index).Warnf("Categorization failed, using fallback: %v", err)
		malformed := errors.Is(err, ErrMalformedResponse)
		return batchOutcome{
			updates: fallbackUpdates(b, malformed),
			warning: &model.Warning{Stage: "categorize", Subject: fmt.Sprintf("batch %d", b.Index), Err: aiErr},
		}
	}

	out := batchOutcome{summary: cls.OverallSummary}
	for i, ev := range b.Events {
		item, ok := cls.Items[refs[i]]
		if !ok {
			// Some models echo the real item ID instead of the reference.
			item, ok = cls.Items[ev.Item.ItemID]
		}
		if !ok {
			out.updates = append(out.updates, update(ev, model.CategoryOther, ev.Item.Title))
			continue
		}
		summary := item.Summary
		if summary == "" {
			summary = ev.Item.Title
		}
		out.updates = append(out.updates, update(ev, item.Category, summary))
	}
	return out
}

// classify sends prompt, retrying failed attempts with exponential backoff.
func (a *Aggregator) classify(ctx context.Context, batchIndex int, prompt string) (*Classification, error) {
	if a.classifier == nil {
		return nil, errors.New("no classifier configured")
	}

	var lastErr error
	for attempt := 0; attempt < a.opts.Attempts; attempt++ {
		if attempt > 0 {
			wait := a.opts.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, lastErr
			}
		}

		cls, err := a.attempt(ctx, prompt)
		if err == nil {
			return cls, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logging.Log.WithField("batch", batchIndex).
			Warnf("Categorization attempt %d/%d failed: %v", attempt+1, a.opts.Attempts, err)
	}
	return nil, lastErr
}

func (a *Aggregator) attempt(ctx context.Context, prompt string) (*Classification, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	if a.opts.Limiter != nil {
		if err := a.opts.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	return a.classifier.Classify(ctx, prompt)
}

// BuildPrompt renders the deterministic classification prompt for a batch.
// refs[i] is the identifier the model must echo for b.Events[i].
func BuildPrompt(b batch.Batch, refs []string) string {
	var parts []string
	for i, ev := range b.Events {
		var sb strings.Builder
		fmt.Fprintf(&sb, "item_id: %s\n", refs[i])
		fmt.Fprintf(&sb, "Source: %s (%s)\n", ev.Item.SourceName, ev.Item.SourceType)
		fmt.Fprintf(&sb, "Change: %s\n", ev.Kind)
		fmt.Fprintf(&sb, "Title: %s\n", ev.Item.Title)
		if ev.Item.BodyText != "" {
			fmt.Fprintf(&sb, "Content: %s\n", ev.Item.BodyText)
		}
		parts = append(parts, sb.String())
	}
	return fmt.Sprintf(categorizePrompt, strings.Join(parts, "\n"))
}

func fallbackUpdates(b batch.Batch, malformed bool) []model.CategorizedUpdate {
	updates := make([]model.CategorizedUpdate, 0, len(b.Events))
	for _, ev := range b.Events {
		summary := ev.Item.Title
		if !malformed {
			summary += unavailableSuffix
		}
		updates = append(updates, update(ev, model.CategoryOther, summary))
	}
	return updates
}

func update(ev model.ChangeEvent, cat model.Category, summary string) model.CategorizedUpdate {
	return model.CategorizedUpdate{
		ItemID:      ev.Item.ItemID,
		SourceName:  ev.Item.SourceName,
		Title:       ev.Item.Title,
		Link:        ev.Item.Link,
		Category:    cat,
		SummaryLine: summary,
	}
}
