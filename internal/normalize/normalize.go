package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

const (
	idBodyPrefix   = 200
	fallbackTitle  = 80
	fieldSeparator = "\x1f"
)

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Normalize converts a raw fetch result into canonical items, one per entry
// with a usable title or body. Empty entries are dropped.
func Normalize(raw model.RawFetchResult) []model.CanonicalItem {
	var items []model.CanonicalItem
	for _, e := range raw.Entries {
		title := CleanText(e.Title)
		body := CleanText(e.Body)
		if title == "" && body == "" {
			continue
		}
		if title == "" {
			title = truncateRunes(body, fallbackTitle)
		}

		items = append(items, model.CanonicalItem{
			SourceName:  raw.SourceName,
			SourceType:  raw.SourceType,
			ItemID:      ItemID(raw.SourceName, raw.SourceType, title, body),
			Title:       title,
			BodyText:    body,
			Link:        strings.TrimSpace(e.Link),
			PublishedAt: parseDate(e.Published),
			FetchedAt:   raw.FetchedAt,
		})
	}
	return items
}

// FilterRecent drops items published before cutoff. Items without a
// parseable publication date are kept.
func FilterRecent(items []model.CanonicalItem, cutoff time.Time) (kept []model.CanonicalItem, dropped int) {
	for _, item := range items {
		if !isWithinWindow(item.PublishedAt, cutoff) {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	return kept, dropped
}

func isWithinWindow(published *time.Time, cutoff time.Time) bool {
	if published == nil {
		return true
	}
	return !published.Before(cutoff)
}

// ItemID derives the stable identity of an item from its source and the
// leading part of its content.
func ItemID(sourceName string, sourceType model.SourceType, title, body string) string {
	h := sha256.New()
	h.Write([]byte(sourceName))
	h.Write([]byte(fieldSeparator))
	h.Write([]byte(sourceType))
	h.Write([]byte(fieldSeparator))
	h.Write([]byte(title))
	h.Write([]byte(fieldSeparator))
	h.Write([]byte(truncateRunes(body, idBodyPrefix)))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash fingerprints the full normalized content of an item.
func ContentHash(item model.CanonicalItem) string {
	sum := sha256.Sum256([]byte(CleanText(item.Title) + "\n" + CleanText(item.BodyText)))
	return hex.EncodeToString(sum[:])
}

// CleanText strips HTML tags, decodes common entities and collapses whitespace.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' && inTag {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&amp;", "&")

	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
