package batch

import (
	"unicode/utf8"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

// TruncationMarker is appended to bodies cut down to fit a batch.
const TruncationMarker = " …[truncated]"

// Limits bounds the size of a single batch.
type Limits struct {
	MaxChars int
	MaxItems int
}

// Batch is a group of change events submitted together for categorization.
type Batch struct {
	Index  int
	Events []model.ChangeEvent
}

// Chars returns the combined text size of the batch.
func (b Batch) Chars() int {
	n := 0
	for _, ev := range b.Events {
		n += eventSize(ev)
	}
	return n
}

// Split partitions events into batches in order. An event too large to fit a
// batch on its own gets a batch to itself with its body truncated.
func Split(events []model.ChangeEvent, limits Limits) []Batch {
	var batches []Batch
	var current []model.ChangeEvent
	size := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, Batch{Index: len(batches), Events: current})
		current = nil
		size = 0
	}

	for _, ev := range events {
		n := eventSize(ev)

		if limits.MaxChars > 0 && n > limits.MaxChars {
			flush()
			current = []model.ChangeEvent{truncate(ev, limits.MaxChars)}
			flush()
			continue
		}

		if len(current) > 0 {
			overChars := limits.MaxChars > 0 && size+n > limits.MaxChars
			overItems := limits.MaxItems > 0 && len(current) >= limits.MaxItems
			if overChars || overItems {
				flush()
			}
		}

		current = append(current, ev)
		size += n
	}
	flush()

	return batches
}

func eventSize(ev model.ChangeEvent) int {
	return utf8.RuneCountInString(ev.Item.Title) + utf8.RuneCountInString(ev.Item.BodyText)
}

// truncate cuts the body so that title plus body fits in limit runes, then
// appends the marker. A title that alone exceeds the limit is cut to it.
func truncate(ev model.ChangeEvent, limit int) model.ChangeEvent {
	title := []rune(ev.Item.Title)
	if len(title) > limit {
		title = title[:limit]
		ev.Item.Title = string(title)
	}
	keep := limit - len(title)
	body := []rune(ev.Item.BodyText)
	if keep < len(body) {
		body = body[:keep]
	}
	ev.Item.BodyText = string(body) + TruncationMarker
	return ev
}
