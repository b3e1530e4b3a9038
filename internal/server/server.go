package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/CompetitorWatch/internal/database"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const reportListLimit = 52

// Server is the HTTP server for browsing stored reports.
type Server struct {
	db    *database.DB
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"date": func(t time.Time) string {
			return t.Local().Format("Jan 02, 2006 15:04")
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of the base so its {{define}} blocks
	// do not collide with other pages.
	pageNames := []string{"index.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/report/", s.handleReport)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	reports, err := s.db.ListReports(r.Context(), reportListLimit)
	if err != nil {
		logging.Log.Errorf("Listing reports: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		logging.Log.Errorf("Reading stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Reports": reports,
		"Stats":   stats,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/report/")
	if runID == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	asJSON := strings.HasSuffix(runID, ".json")
	runID = strings.TrimSuffix(runID, ".json")

	rec, err := s.db.GetReport(r.Context(), runID)
	if err != nil {
		logging.Log.Errorf("Loading report %s: %v", runID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.NotFound(w, r)
		return
	}

	if asJSON {
		report, err := rec.Decode()
		if err != nil {
			logging.Log.Errorf("Decoding report %s: %v", runID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
		return
	}

	s.render(w, "report.html", map[string]any{
		"Report": rec,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ok")
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		logging.Log.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		logging.Log.Errorf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	logging.Log.Infof("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
