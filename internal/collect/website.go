package collect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

const maxPageBytes = 5 << 20

// nonContentSelectors lists elements stripped before falling back to body text.
const nonContentSelectors = "script, style, nav, header, footer"

// WebsiteAdapter scrapes a web page. With an item selector every match is
// one entry; without one the page itself is a single tracked entry.
type WebsiteAdapter struct {
	client *http.Client
}

// NewWebsiteAdapter creates a new WebsiteAdapter.
func NewWebsiteAdapter(client *http.Client) *WebsiteAdapter {
	return &WebsiteAdapter{client: client}
}

// Fetch downloads src.URL and extracts entries from it.
func (a *WebsiteAdapter) Fetch(ctx context.Context, src config.Source) (*model.RawFetchResult, error) {
	pageURL, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	body, err := a.get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	r := &model.RawFetchResult{URL: src.URL}
	if src.Selectors != nil && src.Selectors.Item != "" {
		entries, err := selectEntries(body, pageURL, src.Selectors)
		if err != nil {
			return nil, err
		}
		r.Entries = entries
		return r, nil
	}

	entry, err := pageEntry(body, pageURL)
	if err != nil {
		return nil, err
	}
	if entry.Title != "" || entry.Body != "" {
		r.Entries = []model.RawEntry{entry}
	}
	return r, nil
}

func (a *WebsiteAdapter) get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpError{code: resp.StatusCode}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func selectEntries(body []byte, pageURL *url.URL, sel *config.Selectors) ([]model.RawEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var entries []model.RawEntry
	doc.Find(sel.Item).Each(func(_ int, s *goquery.Selection) {
		e := model.RawEntry{
			Title:     selectText(s, sel.Title),
			Body:      selectText(s, sel.Body),
			Published: selectDate(s, sel.Date),
			Link:      selectLink(s, sel.Link, pageURL),
		}
		if sel.Body == "" {
			e.Body = strings.TrimSpace(s.Text())
		}
		entries = append(entries, e)
	})
	return entries, nil
}

func selectText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

// selectDate prefers a datetime attribute (as on <time>) over the text.
func selectDate(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	node := s.Find(selector).First()
	if dt, ok := node.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
		return strings.TrimSpace(dt)
	}
	return strings.TrimSpace(node.Text())
}

func selectLink(s *goquery.Selection, selector string, pageURL *url.URL) string {
	node := s
	if selector != "" {
		node = s.Find(selector).First()
	} else if !s.Is("a") {
		node = s.Find("a[href]").First()
	}
	href, ok := node.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return pageURL.ResolveReference(ref).String()
}

// pageEntry reduces a whole page to one entry. Readability extraction is
// tried first; pages it cannot handle fall back to the stripped body text.
func pageEntry(body []byte, pageURL *url.URL) (model.RawEntry, error) {
	entry := model.RawEntry{Link: pageURL.String()}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		entry.Title = strings.TrimSpace(article.Title)
		entry.Body = strings.TrimSpace(article.TextContent)
		if article.PublishedTime != nil {
			entry.Published = article.PublishedTime.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	if entry.Body != "" {
		return entry, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return entry, fmt.Errorf("parse html: %w", err)
	}
	if entry.Title == "" {
		entry.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	main := doc.Find("body").First()
	main.Find(nonContentSelectors).Remove()
	entry.Body = strings.TrimSpace(main.Text())
	return entry, nil
}
