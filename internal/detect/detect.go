package detect

import (
	"context"
	"errors"
	"time"

	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
	"github.com/TobiSchelling/CompetitorWatch/internal/normalize"
)

// ErrStoreUnavailable is returned when no item could be checked against the
// fingerprint store during a run.
var ErrStoreUnavailable = errors.New("fingerprint store unavailable")

// FingerprintStore persists the last-seen content hash per item.
type FingerprintStore interface {
	// Lookup returns nil, nil when the item has never been seen.
	Lookup(ctx context.Context, itemID string) (*model.FingerprintRecord, error)
	Upsert(ctx context.Context, itemID, contentHash string, seenAt time.Time) error
}

// ConditionalStore is implemented by stores that can write a fingerprint only
// if it changed, atomically. The detector prefers it when available.
type ConditionalStore interface {
	UpsertIfChanged(ctx context.Context, itemID, contentHash string, seenAt time.Time) (bool, error)
}

// Result holds the outcome of a detection pass.
type Result struct {
	Events    []model.ChangeEvent
	Unchanged int
	Skipped   int
	Warnings  []model.Warning
}

// Detector compares canonical items against the fingerprint store.
type Detector struct {
	store    FingerprintStore
	now      func() time.Time
	readOnly bool
}

// NewDetector creates a change detector over store.
func NewDetector(store FingerprintStore) *Detector {
	return &Detector{store: store, now: time.Now}
}

// NewPreviewDetector creates a detector that reports changes without
// recording fingerprints.
func NewPreviewDetector(store FingerprintStore) *Detector {
	return &Detector{store: store, now: time.Now, readOnly: true}
}

// Detect emits a change event for every item that is new or whose content
// changed, recording the new fingerprint as it goes. Store failures for a
// single item are returned as warnings; the item is skipped.
func (d *Detector) Detect(ctx context.Context, items []model.CanonicalItem) (*Result, error) {
	r := &Result{}
	seen := make(map[string]struct{}, len(items))
	lookupFailures := 0

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		if _, dup := seen[item.ItemID]; dup {
			continue
		}
		seen[item.ItemID] = struct{}{}

		hash := normalize.ContentHash(item)
		rec, err := d.store.Lookup(ctx, item.ItemID)
		if err != nil {
			lookupFailures++
			d.skip(r, item, &model.StoreError{ItemID: item.ItemID, Op: "lookup", Err: err})
			continue
		}

		if rec != nil && rec.ContentHash == hash {
			r.Unchanged++
			continue
		}

		kind := model.ChangeNew
		if rec != nil {
			kind = model.ChangeUpdated
		}

		if !d.readOnly {
			recorded, err := d.record(ctx, item, hash)
			if err != nil {
				d.skip(r, item, &model.StoreError{ItemID: item.ItemID, Op: "upsert", Err: err})
				continue
			}
			if !recorded {
				// Another run recorded this exact content in the meantime.
				r.Unchanged++
				continue
			}
		}

		r.Events = append(r.Events, model.ChangeEvent{Item: item, Kind: kind})
		logging.Log.WithField("source", item.SourceName).Debugf("Detected %s item: %s", kind, item.Title)
	}

	if len(seen) > 0 && lookupFailures == len(seen) {
		return r, ErrStoreUnavailable
	}

	logging.Log.Infof("Change detection complete: %d changed, %d unchanged, %d skipped",
		len(r.Events), r.Unchanged, r.Skipped)
	return r, nil
}

// record writes the fingerprint, reporting false if the store already held
// this hash.
func (d *Detector) record(ctx context.Context, item model.CanonicalItem, hash string) (bool, error) {
	if cond, ok := d.store.(ConditionalStore); ok {
		return cond.UpsertIfChanged(ctx, item.ItemID, hash, d.now())
	}
	return true, d.store.Upsert(ctx, item.ItemID, hash, d.now())
}

func (d *Detector) skip(r *Result, item model.CanonicalItem, err error) {
	r.Skipped++
	r.Warnings = append(r.Warnings, model.Warning{Stage: "detect", Subject: item.SourceName, Err: err})
	logging.Log.WithField("item_id", item.ItemID).Warnf("Skipping item %q: %v", item.Title, err)
}
