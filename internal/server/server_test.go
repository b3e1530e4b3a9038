package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/CompetitorWatch/internal/database"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
	"github.com/TobiSchelling/CompetitorWatch/internal/report"
)

func init() { logging.Discard() }

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storeReport(t *testing.T, db *database.DB, runID string) *model.WeeklyReport {
	t.Helper()
	r := report.Assemble(runID, []model.CategorizedUpdate{{
		ItemID:      "a",
		SourceName:  "Acme Blog",
		Title:       "Acme v2",
		Link:        "https://acme.example/v2",
		Category:    model.CategoryNewFeature,
		SummaryLine: "New dashboard.",
	}}, "Acme shipped v2.", nil, func() time.Time { return time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC) })
	if err := db.InsertReport(context.Background(), r, report.Markdown(r)); err != nil {
		t.Fatalf("InsertReport: %v", err)
	}
	return r
}

func serve(t *testing.T, db *database.DB, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRouteEmpty(t *testing.T) {
	rec := serve(t, openTestDB(t), "/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No reports yet") {
		t.Error("expected empty state in response body")
	}
}

func TestIndexListsReports(t *testing.T) {
	db := openTestDB(t)
	storeReport(t, db, "run-1")

	rec := serve(t, db, "/")
	body := rec.Body.String()
	if !strings.Contains(body, `href="/report/run-1"`) {
		t.Error("expected link to stored report")
	}
	if !strings.Contains(body, "Acme shipped v2.") {
		t.Error("expected report summary in list")
	}
}

func TestReportRoute(t *testing.T) {
	db := openTestDB(t)
	storeReport(t, db, "run-1")

	rec := serve(t, db, "/report/run-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h2>New Features</h2>") {
		t.Error("expected rendered markdown heading")
	}
	if !strings.Contains(body, `<a href="https://acme.example/v2">Acme v2</a>`) {
		t.Error("expected rendered update link")
	}
}

func TestReportJSONRoute(t *testing.T) {
	db := openTestDB(t)
	storeReport(t, db, "run-1")

	rec := serve(t, db, "/report/run-1.json")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected json content type, got %q", ct)
	}
	var got model.WeeklyReport
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.RunID != "run-1" || got.TotalUpdates != 1 {
		t.Errorf("unexpected report %+v", got)
	}
}

func TestReportNotFound(t *testing.T) {
	rec := serve(t, openTestDB(t), "/report/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(t, openTestDB(t), "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := serve(t, openTestDB(t), "/healthz")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "ok" {
		t.Errorf("expected ok, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	rec := serve(t, openTestDB(t), "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
