package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ErrRunLocked is returned when another live run holds the detection lock.
var ErrRunLocked = errors.New("another run holds the fingerprint store lock")

// AcquireRunLock takes the single-writer lock for change detection. A lock
// older than staleAfter is considered abandoned and is taken over.
func (db *DB) AcquireRunLock(ctx context.Context, holder string, staleAfter time.Duration) error {
	now := time.Now()
	cutoff := formatTime(now.Add(-staleAfter))

	query, args, err := sq.Insert("run_lock").
		Columns("id", "holder", "acquired_at").
		Values(1, holder, formatTime(now)).
		Suffix("ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, acquired_at = excluded.acquired_at WHERE run_lock.acquired_at < ?", cutoff).
		ToSql()
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	if n == 0 {
		return ErrRunLocked
	}
	return nil
}

// ReleaseRunLock drops the lock if it is still held by holder.
func (db *DB) ReleaseRunLock(ctx context.Context, holder string) error {
	query, args, err := sq.Delete("run_lock").Where(sq.Eq{"holder": holder}).ToSql()
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}

// RunLockHolder returns the current lock holder, or "" if the lock is free.
func (db *DB) RunLockHolder(ctx context.Context) (string, error) {
	var holder string
	err := db.conn.QueryRowContext(ctx, "SELECT holder FROM run_lock WHERE id = 1").Scan(&holder)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return holder, nil
}
