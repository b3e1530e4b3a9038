package model

import (
	"fmt"
	"time"
)

// SourceType identifies which kind of adapter produced a fetch result.
type SourceType string

const (
	SourceWebsite SourceType = "website"
	SourceRSS     SourceType = "rss"
	SourceTwitter SourceType = "twitter"
)

// Valid reports whether t is one of the supported source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceWebsite, SourceRSS, SourceTwitter:
		return true
	}
	return false
}

// RawEntry is one unprocessed entry as returned by a source adapter.
// All fields are free-form and may be empty.
type RawEntry struct {
	Title     string
	Body      string
	Link      string
	Published string
}

// RawFetchResult is the output of a single source fetch.
type RawFetchResult struct {
	SourceName string
	SourceType SourceType
	URL        string
	FetchedAt  time.Time
	Entries    []RawEntry
}

// CanonicalItem is the normalized unit of tracked content.
type CanonicalItem struct {
	SourceName  string
	SourceType  SourceType
	ItemID      string
	Title       string
	BodyText    string
	Link        string
	PublishedAt *time.Time
	FetchedAt   time.Time
}

// FingerprintRecord is the last-seen state of an item.
type FingerprintRecord struct {
	ItemID      string
	ContentHash string
	LastSeenAt  time.Time
}

// ChangeKind distinguishes first sightings from content changes.
type ChangeKind string

const (
	ChangeNew     ChangeKind = "new"
	ChangeUpdated ChangeKind = "updated"
)

// ChangeEvent is a detected new or updated item for the current run.
type ChangeEvent struct {
	Item CanonicalItem
	Kind ChangeKind
}

// Category is one of the fixed report categories.
type Category string

const (
	CategoryNewFeature      Category = "new_feature"
	CategoryPricingChange   Category = "pricing_change"
	CategoryMessagingUpdate Category = "messaging_update"
	CategoryOther           Category = "other"
)

// Categories lists the taxonomy in report order.
var Categories = []Category{
	CategoryNewFeature,
	CategoryPricingChange,
	CategoryMessagingUpdate,
	CategoryOther,
}

// Label returns the human-readable heading for a category.
func (c Category) Label() string {
	switch c {
	case CategoryNewFeature:
		return "New Features"
	case CategoryPricingChange:
		return "Pricing Changes"
	case CategoryMessagingUpdate:
		return "Messaging Updates"
	default:
		return "Other Updates"
	}
}

// CategorizedUpdate is a change event after AI classification.
type CategorizedUpdate struct {
	ItemID      string   `json:"item_id"`
	SourceName  string   `json:"source_name"`
	Title       string   `json:"title"`
	Link        string   `json:"link,omitempty"`
	Category    Category `json:"category"`
	SummaryLine string   `json:"summary_line"`
}

// WeeklyReport is the aggregated output of one pipeline run.
type WeeklyReport struct {
	RunID             string                           `json:"run_id"`
	RunTimestamp      time.Time                        `json:"run_timestamp"`
	TotalUpdates      int                              `json:"total_updates"`
	ExecutiveSummary  string                           `json:"executive_summary"`
	UpdatesByCategory map[Category][]CategorizedUpdate `json:"updates_by_category"`
	Warnings          []string                         `json:"warnings,omitempty"`
}

// Count returns the number of updates across all categories.
func (r *WeeklyReport) Count() int {
	n := 0
	for _, updates := range r.UpdatesByCategory {
		n += len(updates)
	}
	return n
}

// Warning is a non-fatal failure recorded during a run.
type Warning struct {
	Stage   string
	Subject string
	Err     error
}

func (w Warning) String() string {
	if w.Subject == "" {
		return fmt.Sprintf("%s: %v", w.Stage, w.Err)
	}
	return fmt.Sprintf("%s: %s: %v", w.Stage, w.Subject, w.Err)
}
