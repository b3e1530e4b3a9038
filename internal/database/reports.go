package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

var reportColumns = []string{
	"run_id", "generated_at", "total_updates", "summary",
	"body_markdown", "report_json", "warning_count", "delivered",
}

// InsertReport stores a report together with its rendered Markdown body.
func (db *DB) InsertReport(ctx context.Context, r *model.WeeklyReport, bodyMarkdown string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	query, args, err := sq.Insert("reports").
		Options("OR REPLACE").
		Columns(reportColumns...).
		Values(r.RunID, formatTime(r.RunTimestamp), r.TotalUpdates, r.ExecutiveSummary,
			bodyMarkdown, string(data), len(r.Warnings), 0).
		ToSql()
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, query, args...)
	return err
}

// MarkReportDelivered flags a stored report as delivered to at least one sink.
func (db *DB) MarkReportDelivered(ctx context.Context, runID string) error {
	query, args, err := sq.Update("reports").
		Set("delivered", 1).
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, query, args...)
	return err
}

// GetReport returns the stored report for a run, or nil if not found.
func (db *DB) GetReport(ctx context.Context, runID string) (*ReportRecord, error) {
	query, args, err := sq.Select(reportColumns...).
		From("reports").
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rec, err := scanReport(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListReports returns stored reports, newest first. limit <= 0 means all.
func (db *DB) ListReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	b := sq.Select(reportColumns...).From("reports").OrderBy("generated_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM fingerprints", &s.TrackedItems},
		{"SELECT COUNT(*) FROM reports", &s.Reports},
		{"SELECT COUNT(*) FROM reports WHERE delivered = 1", &s.DeliveredReports},
		{"SELECT COALESCE(SUM(total_updates), 0) FROM reports", &s.ReportedUpdates},
	}

	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var last sql.NullString
	if err := db.conn.QueryRowContext(ctx, "SELECT MAX(generated_at) FROM reports").Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		t := parseTime(last.String)
		s.LastRunAt = &t
	}

	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*ReportRecord, error) {
	var rec ReportRecord
	var generatedAt, reportJSON string
	var delivered int
	if err := row.Scan(&rec.RunID, &generatedAt, &rec.TotalUpdates, &rec.Summary,
		&rec.BodyMarkdown, &reportJSON, &rec.WarningCount, &delivered); err != nil {
		return nil, err
	}
	rec.GeneratedAt = parseTime(generatedAt)
	rec.Delivered = delivered != 0
	rec.ReportJSON = reportJSON
	return &rec, nil
}

// Decode unmarshals the stored report.
func (r *ReportRecord) Decode() (*model.WeeklyReport, error) {
	var report model.WeeklyReport
	if err := json.Unmarshal([]byte(r.ReportJSON), &report); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", r.RunID, err)
	}
	return &report, nil
}
