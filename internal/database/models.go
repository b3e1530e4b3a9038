package database

import "time"

// ReportRecord is a stored weekly report.
type ReportRecord struct {
	RunID        string
	GeneratedAt  time.Time
	TotalUpdates int
	Summary      string
	BodyMarkdown string
	ReportJSON   string
	WarningCount int
	Delivered    bool
}

// Stats contains aggregate database statistics.
type Stats struct {
	TrackedItems     int
	Reports          int
	DeliveredReports int
	ReportedUpdates  int
	LastRunAt        *time.Time
}
