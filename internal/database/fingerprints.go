package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Lookup returns the fingerprint for an item, or nil if it has never been seen.
func (db *DB) Lookup(ctx context.Context, itemID string) (*model.FingerprintRecord, error) {
	query, args, err := sq.Select("item_id", "content_hash", "last_seen_at").
		From("fingerprints").
		Where(sq.Eq{"item_id": itemID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rec model.FingerprintRecord
	var lastSeen string
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&rec.ItemID, &rec.ContentHash, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.LastSeenAt = parseTime(lastSeen)
	return &rec, nil
}

// Upsert records the current content hash for an item. Each call is committed
// on its own, so earlier writes survive a crash later in the run.
func (db *DB) Upsert(ctx context.Context, itemID, contentHash string, seenAt time.Time) error {
	query, args, err := upsertFingerprint(itemID, contentHash, seenAt).ToSql()
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, query, args...)
	return err
}

// UpsertIfChanged writes the fingerprint only when the item is unknown or its
// hash differs from the stored one. It reports whether a row was written, which
// makes it safe for two overlapping runs to race on the same item.
func (db *DB) UpsertIfChanged(ctx context.Context, itemID, contentHash string, seenAt time.Time) (bool, error) {
	query, args, err := upsertFingerprint(itemID, contentHash, seenAt).
		Suffix("WHERE fingerprints.content_hash <> excluded.content_hash").
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func upsertFingerprint(itemID, contentHash string, seenAt time.Time) sq.InsertBuilder {
	ts := formatTime(seenAt)
	return sq.Insert("fingerprints").
		Columns("item_id", "content_hash", "first_seen_at", "last_seen_at").
		Values(itemID, contentHash, ts, ts).
		Suffix("ON CONFLICT(item_id) DO UPDATE SET content_hash = excluded.content_hash, last_seen_at = excluded.last_seen_at")
}
