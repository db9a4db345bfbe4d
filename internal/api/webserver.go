// Package api is the HTTP surface of the counter: live status, count
// history, export triggers, and the operator debug charts.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gatesense/footfall/internal/export"
	"github.com/gatesense/footfall/internal/storage/sqlite"
	"github.com/gatesense/footfall/internal/version"
	"github.com/gatesense/footfall/internal/vision/pipeline"
)

// WebServer handles the HTTP interface for the counting pipeline.
type WebServer struct {
	address  string
	runner   *pipeline.Runner
	store    *sqlite.CountStore
	exporter *export.Exporter
	db       *sqlite.DB
	server   *http.Server
	started  time.Time
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address  string
	Runner   *pipeline.Runner
	Store    *sqlite.CountStore
	Exporter *export.Exporter
	DB       *sqlite.DB
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:  config.Address,
		runner:   config.Runner,
		store:    config.Store,
		exporter: config.Exporter,
		db:       config.DB,
		started:  time.Now().UTC(),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// Start begins the HTTP server in a goroutine and handles graceful
// shutdown when ctx is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/history", ws.handleHistory)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/summary", ws.handleSummary)
	mux.HandleFunc("/api/export", ws.handleExport)
	mux.HandleFunc("/api/export/download", ws.handleExportDownload)
	mux.HandleFunc("/debug/chart/hourly", ws.handleHourlyChart)

	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"git_sha": version.GitSHA,
	})
}

// handleStatus returns the live counting state: totals, tracker and
// pipeline counters, and session identity.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := map[string]interface{}{
		"session_id":     ws.runner.SessionID,
		"started_at":     ws.runner.StartedAt,
		"uptime_seconds": time.Since(ws.started).Seconds(),
		"totals":         ws.runner.Totals(),
		"pipeline":       ws.runner.Stats(),
		"tracker":        ws.runner.TrackerStats(),
		"active_tracks":  len(ws.runner.ActiveTracks()),
	}
	ws.writeJSON(w, resp)
}

// handleHistory returns persisted count events.
// Query params:
//
//	since (optional, RFC3339)
//	limit (optional, default 100, max 1000)
func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'since' parameter, want RFC3339")
			return
		}
		since = t
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 || v > 1000 {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter (1-1000)")
			return
		}
		limit = v
	}

	events, err := ws.store.ListEvents(r.Context(), since, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []sqlite.StoredEvent{}
	}
	ws.writeJSON(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handleTracks returns a snapshot of the live track table.
func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	type trackView struct {
		TrackID    string  `json:"track_id"`
		State      string  `json:"state"`
		Hits       int     `json:"hits"`
		Misses     int     `json:"misses"`
		FirstFrame int64   `json:"first_frame"`
		LastFrame  int64   `json:"last_frame"`
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		HasCounted bool    `json:"has_counted"`
	}

	tracks := ws.runner.ActiveTracks()
	views := make([]trackView, 0, len(tracks))
	for _, t := range tracks {
		c := t.Centroid()
		views = append(views, trackView{
			TrackID:    t.TrackID,
			State:      string(t.State),
			Hits:       t.Hits,
			Misses:     t.Misses,
			FirstFrame: t.FirstFrame,
			LastFrame:  t.LastSeenFrame,
			X:          c.X,
			Y:          c.Y,
			HasCounted: t.HasCounted,
		})
	}
	ws.writeJSON(w, map[string]interface{}{"tracks": views})
}

// handleSummary returns inter-arrival statistics over recent counts.
func (ws *WebServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := ws.exporter.ComputeArrivalStats(r.Context(), 1000)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, stats)
}

// handleExport triggers an incremental CSV export.
func (ws *WebServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path, n, err := ws.exporter.ExportCSV(r.Context())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// An empty path means there was nothing to export.
	file := ""
	if path != "" {
		file = filepath.Base(path)
	}
	ws.writeJSON(w, map[string]interface{}{
		"file": file,
		"rows": n,
	})
}

// handleExportDownload streams the newest export file.
func (ws *WebServer) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	entries, err := os.ReadDir(ws.exporter.Dir())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "visitors-") && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no exports available")
		return
	}
	// Filenames embed a sortable UTC timestamp, so the lexical max is the
	// newest export.
	sort.Strings(names)
	newest := names[len(names)-1]

	w.Header().Set("Content-Disposition", "attachment; filename="+newest)
	w.Header().Set("Content-Type", "text/csv")
	http.ServeFile(w, r, filepath.Join(ws.exporter.Dir(), newest))
}
