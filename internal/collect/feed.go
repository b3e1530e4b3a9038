package collect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

const maxPerFeed = 20

// RSSAdapter parses RSS and Atom feeds.
type RSSAdapter struct {
	client *http.Client
}

// NewRSSAdapter creates a new RSSAdapter.
func NewRSSAdapter(client *http.Client) *RSSAdapter {
	return &RSSAdapter{client: client}
}

// Fetch parses the feed at src.URL and returns at most 20 entries.
func (a *RSSAdapter) Fetch(ctx context.Context, src config.Source) (*model.RawFetchResult, error) {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	if a.client != nil {
		parser.Client = a.client
	}

	feed, err := parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			return nil, &httpError{code: he.StatusCode}
		}
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	r := &model.RawFetchResult{URL: src.URL}
	for _, item := range feed.Items {
		if len(r.Entries) >= maxPerFeed {
			break
		}
		r.Entries = append(r.Entries, feedEntry(item))
	}
	return r, nil
}

func feedEntry(item *gofeed.Item) model.RawEntry {
	link := item.Link
	if link == "" {
		link = item.GUID
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}

	var published string
	switch {
	case item.PublishedParsed != nil:
		published = item.PublishedParsed.UTC().Format("2006-01-02T15:04:05Z")
	case item.UpdatedParsed != nil:
		published = item.UpdatedParsed.UTC().Format("2006-01-02T15:04:05Z")
	default:
		published = item.Published
	}

	return model.RawEntry{
		Title:     strings.TrimSpace(item.Title),
		Body:      body,
		Link:      link,
		Published: published,
	}
}
