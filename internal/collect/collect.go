package collect

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

const userAgent = "CompetitorWatch/1.0 (competitor monitor)"

// Adapter fetches the raw entries of one configured source.
type Adapter interface {
	Fetch(ctx context.Context, src config.Source) (*model.RawFetchResult, error)
}

// Result holds the results of a collection run.
type Result struct {
	Fetches  []model.RawFetchResult
	Warnings []model.Warning
	Sources  map[string]int
}

// TotalEntries returns the number of raw entries across all fetches.
func (r *Result) TotalEntries() int {
	n := 0
	for _, f := range r.Fetches {
		n += len(f.Entries)
	}
	return n
}

// Collector fetches all configured sources with bounded concurrency.
type Collector struct {
	adapters    map[model.SourceType]Adapter
	concurrency int
	timeout     time.Duration
	now         func() time.Time
}

// NewCollector creates a collector with the default adapter per source type.
func NewCollector(concurrency int, timeout time.Duration) *Collector {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := newHTTPClient(timeout)
	return NewCollectorWithAdapters(concurrency, timeout, map[model.SourceType]Adapter{
		model.SourceRSS:     NewRSSAdapter(client),
		model.SourceWebsite: NewWebsiteAdapter(client),
		model.SourceTwitter: NewTwitterAdapter(),
	})
}

// NewCollectorWithAdapters creates a collector using the given adapters.
func NewCollectorWithAdapters(concurrency int, timeout time.Duration, adapters map[model.SourceType]Adapter) *Collector {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Collector{
		adapters:    adapters,
		concurrency: concurrency,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Collect fetches every source. A failed source becomes a warning and is
// skipped; fetches are returned in configuration order.
func (c *Collector) Collect(ctx context.Context, sources []config.Source) *Result {
	type outcome struct {
		fetch *model.RawFetchResult
		err   error
	}
	outcomes := make([]outcome, len(sources))

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src config.Source) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			f, err := c.fetchOne(ctx, src)
			outcomes[i] = outcome{fetch: f, err: err}
		}(i, src)
	}
	wg.Wait()

	r := &Result{Sources: make(map[string]int)}
	for i, o := range outcomes {
		src := sources[i]
		if o.err != nil {
			ferr := &model.FetchError{Source: src.Name, Err: o.err}
			logging.Log.WithField("source", src.Name).Warnf("Fetch failed: %v", o.err)
			r.Warnings = append(r.Warnings, model.Warning{Stage: "collect", Subject: src.Name, Err: ferr})
			continue
		}
		r.Fetches = append(r.Fetches, *o.fetch)
		r.Sources[src.Name] = len(o.fetch.Entries)
		logging.Log.WithField("source", src.Name).Debugf("Fetched %d entries", len(o.fetch.Entries))
	}

	logging.Log.Infof("Collection complete: %d sources, %d entries, %d failed",
		len(r.Fetches), r.TotalEntries(), len(r.Warnings))
	return r
}

func (c *Collector) fetchOne(ctx context.Context, src config.Source) (*model.RawFetchResult, error) {
	adapter, ok := c.adapters[src.Type]
	if !ok {
		return nil, fmt.Errorf("no adapter for source type %q", src.Type)
	}

	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	f, err := adapter.Fetch(fctx, src)
	if err != nil {
		return nil, err
	}
	f.SourceName = src.Name
	f.SourceType = src.Type
	if f.FetchedAt.IsZero() {
		f.FetchedAt = c.now().UTC()
	}
	return f, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, http.StatusText(e.code))
}
