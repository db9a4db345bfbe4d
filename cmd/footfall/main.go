// Command footfall runs the visitor counting daemon: it consumes a
// detection stream, tracks people across frames, counts directional
// crossings of the configured virtual line, and serves the results over
// HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gatesense/footfall/internal/api"
	"github.com/gatesense/footfall/internal/config"
	"github.com/gatesense/footfall/internal/export"
	"github.com/gatesense/footfall/internal/storage/sqlite"
	"github.com/gatesense/footfall/internal/version"
	"github.com/gatesense/footfall/internal/vision/counting"
	"github.com/gatesense/footfall/internal/vision/crossing"
	"github.com/gatesense/footfall/internal/vision/detect"
	"github.com/gatesense/footfall/internal/vision/pipeline"
	"github.com/gatesense/footfall/internal/vision/track"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	dbFile     = flag.String("db", "footfall.db", "Path to the SQLite database file")
	configFile = flag.String("config", "", "Path to a tuning config JSON file (defaults apply when empty)")
	input      = flag.String("input", "-", "Detection NDJSON log to consume ('-' for stdin)")
	exportDir  = flag.String("export-dir", "exports", "Directory for CSV exports and charts")
	linger     = flag.Bool("linger", false, "Keep serving HTTP after the detection source drains")
	verbose    = flag.Bool("verbose", false, "Enable per-frame trace logging")
	debugLog   = flag.String("debug-log", "", "Route pipeline logs to this file instead of stderr")
)

func main() {
	flag.Parse()
	log.Printf("footfall %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	// Pipeline log streams: ops and diag to stderr (or the debug file),
	// trace only when asked for.
	logPath := *debugLog
	if logPath == "" {
		logPath = os.Getenv("FOOTFALL_DEBUG_LOG")
	}
	var logOut io.Writer = os.Stderr
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("failed to open debug log: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	var traceOut io.Writer
	if *verbose {
		traceOut = logOut
	}
	pipeline.SetLogWriters(logOut, logOut, traceOut)

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	var src detect.Source
	if *input == "-" || *input == "" {
		src = detect.NewReplaySource("stdin", os.Stdin)
	} else {
		rs, err := detect.OpenReplayFile(*input)
		if err != nil {
			log.Fatalf("failed to open detection log: %v", err)
		}
		src = rs
	}

	db, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	line, err := crossing.NewVirtualLine(cfg.GetLineA(), cfg.GetLineB())
	if err != nil {
		log.Fatalf("invalid virtual line: %v", err)
	}

	sessionID := uuid.NewString()
	store := sqlite.NewCountStore(db, sessionID)

	tracker := track.NewTracker(track.ConfigFromTuning(cfg))
	counter := counting.NewCounter(cfg.GetRequiredDirection(), tracker, store, cfg.GetSinkMaxRetries(), cfg.GetSinkRetryBackoff())
	runner := pipeline.NewRunner(src, tracker, crossing.NewAnalyzer(line), counter, cfg.GetMaxTickRate())
	runner.SessionID = sessionID
	runner.SetTrackSink(store)

	cfgJSON, _ := json.Marshal(cfg)
	if err := store.StartSession(context.Background(), runner.StartedAt, string(cfgJSON)); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	exporter, err := export.NewExporter(store, *exportDir)
	if err != nil {
		log.Fatalf("failed to create exporter: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Counting pipeline.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			log.Printf("pipeline error: %v", err)
		}
		log.Print("pipeline routine terminated")
		if !*linger {
			stop()
		}
	}()

	// Periodic CSV export.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetAutoExportInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, _, err := exporter.ExportCSV(ctx); err != nil {
					log.Printf("periodic export failed: %v", err)
				}
			case <-ctx.Done():
				log.Print("export routine terminated")
				return
			}
		}
	}()

	// HTTP server.
	ws := api.NewWebServer(api.WebServerConfig{
		Address:  *listen,
		Runner:   runner,
		Store:    store,
		Exporter: exporter,
		DB:       db,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("web server error: %v", err)
		}
	}()

	wg.Wait()

	// Final export and session close run on a fresh context; the signal
	// context is already cancelled by now.
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if path, n, err := exporter.ExportCSV(finalCtx); err != nil {
		log.Printf("final export failed: %v", err)
	} else if n > 0 {
		log.Printf("final export: %d events to %s", n, path)
	}
	if path, err := exporter.WriteActivityChart(finalCtx); err != nil {
		log.Printf("activity chart failed: %v", err)
	} else if path != "" {
		log.Printf("activity chart written to %s", path)
	}
	if err := store.EndSession(finalCtx, time.Now().UTC()); err != nil {
		log.Printf("failed to close session: %v", err)
	}

	totals := counter.Totals()
	log.Printf("session %s finished: %d visitors counted (%d left-to-right, %d right-to-left)",
		sessionID, totals.Counted, totals.LeftToRight, totals.RightToLeft)
}
