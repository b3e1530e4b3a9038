package batch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

func event(id, body string) model.ChangeEvent {
	return model.ChangeEvent{
		Kind: model.ChangeNew,
		Item: model.CanonicalItem{ItemID: id, SourceName: "Blog", Title: "T" + id, BodyText: body},
	}
}

func ids(b Batch) []string {
	var out []string
	for _, ev := range b.Events {
		out = append(out, ev.Item.ItemID)
	}
	return out
}

func TestSplitPreservesOrder(t *testing.T) {
	var events []model.ChangeEvent
	for i := 0; i < 5; i++ {
		events = append(events, event(fmt.Sprint(i), "body"))
	}

	batches := Split(events, Limits{MaxChars: 1000, MaxItems: 2})
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}

	var all []string
	for i, b := range batches {
		if b.Index != i {
			t.Errorf("expected index %d, got %d", i, b.Index)
		}
		all = append(all, ids(b)...)
	}
	if strings.Join(all, ",") != "0,1,2,3,4" {
		t.Errorf("expected original order, got %v", all)
	}
}

func TestSplitRespectsCharLimit(t *testing.T) {
	events := []model.ChangeEvent{
		event("a", strings.Repeat("x", 40)),
		event("b", strings.Repeat("x", 40)),
		event("c", strings.Repeat("x", 10)),
	}

	batches := Split(events, Limits{MaxChars: 60, MaxItems: 10})
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	for _, b := range batches {
		if b.Chars() > 60 {
			t.Errorf("batch %d exceeds limit: %d chars", b.Index, b.Chars())
		}
	}
	if strings.Join(ids(batches[1]), ",") != "b,c" {
		t.Errorf("unexpected second batch %v", ids(batches[1]))
	}
}

func TestSplitTruncatesOversizedItem(t *testing.T) {
	events := []model.ChangeEvent{
		event("small", "tiny"),
		event("huge", strings.Repeat("y", 500)),
		event("after", "tiny"),
	}

	batches := Split(events, Limits{MaxChars: 100, MaxItems: 10})
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}

	huge := batches[1]
	if len(huge.Events) != 1 || huge.Events[0].Item.ItemID != "huge" {
		t.Fatalf("expected oversized item alone in its batch, got %v", ids(huge))
	}
	body := huge.Events[0].Item.BodyText
	if !strings.HasSuffix(body, TruncationMarker) {
		t.Error("expected truncation marker")
	}
	if got := len([]rune(strings.TrimSuffix(body, TruncationMarker))) + len("Thuge"); got != 100 {
		t.Errorf("expected truncated content to fill the limit exactly, got %d", got)
	}

	count := 0
	for _, b := range batches {
		for _, id := range ids(b) {
			if id == "huge" {
				count++
			}
		}
	}
	if count != 1 {
		t.Errorf("expected oversized item in exactly one batch, got %d", count)
	}
}

func TestSplitTruncationIsRuneSafe(t *testing.T) {
	batches := Split([]model.ChangeEvent{event("u", strings.Repeat("é", 50))}, Limits{MaxChars: 10})
	body := batches[0].Events[0].Item.BodyText
	if !strings.HasPrefix(body, "éééééééé") || strings.ContainsRune(body, '�') {
		t.Errorf("expected clean rune truncation, got %q", body)
	}
}

func TestSplitTruncatesOversizedTitle(t *testing.T) {
	ev := event("long", strings.Repeat("b", 30))
	ev.Item.Title = strings.Repeat("Pricing overhaul ", 3)

	batches := Split([]model.ChangeEvent{ev}, Limits{MaxChars: 20})
	if len(batches) != 1 || len(batches[0].Events) != 1 {
		t.Fatalf("expected the item alone in one batch, got %d batches", len(batches))
	}
	item := batches[0].Events[0].Item
	if item.Title != "Pricing overhaul Pri" {
		t.Errorf("expected title cut to the limit, got %q", item.Title)
	}
	if item.BodyText != TruncationMarker {
		t.Errorf("expected only the marker left in the body, got %q", item.BodyText)
	}
	if got := batches[0].Chars() - len([]rune(TruncationMarker)); got != 20 {
		t.Errorf("expected content within the limit, got %d", got)
	}
}

func TestSplitEmpty(t *testing.T) {
	if got := Split(nil, Limits{MaxChars: 10, MaxItems: 1}); len(got) != 0 {
		t.Errorf("expected no batches, got %d", len(got))
	}
}

func TestSplitUnboundedLimits(t *testing.T) {
	events := []model.ChangeEvent{event("a", "x"), event("b", "y")}
	batches := Split(events, Limits{})
	if len(batches) != 1 || len(batches[0].Events) != 2 {
		t.Errorf("expected single batch without limits, got %d", len(batches))
	}
}
