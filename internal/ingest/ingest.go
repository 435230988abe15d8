// Package ingest watches a drop folder for roster files and loads them into a
// records repository.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/lineage/internal/fixture"
	"github.com/freeeve/lineage/internal/records"
)

// Config configures the ingest worker.
type Config struct {
	WatchDir     string         // Directory to watch for roster files
	ProcessedDir string         // Directory to move loaded files to
	FailedDir    string         // Directory to move unreadable files to
	NumWorkers   int            // Files loaded in parallel (default 2)
	PollInterval time.Duration  // How often to check for new files (default 10s)
	Logger       zerolog.Logger // Logger
	OnLoaded     func(n int)    // optional; called after each batch with the records loaded
}

// Worker watches a folder and loads roster files.
type Worker struct {
	cfg   Config
	repo  records.Repository
	files *fixture.Store
	log   zerolog.Logger
}

// NewWorker creates a new ingest worker. An empty WatchDir disables it.
func NewWorker(cfg Config, repo records.Repository) (*Worker, error) {
	if cfg.WatchDir == "" {
		return nil, nil // Disabled
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.FailedDir == "" {
		cfg.FailedDir = filepath.Join(cfg.WatchDir, "failed")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}

	for _, dir := range []string{cfg.WatchDir, cfg.ProcessedDir, cfg.FailedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return &Worker{
		cfg:   cfg,
		repo:  repo,
		files: fixture.New(fixture.Config{}),
		log:   cfg.Logger,
	}, nil
}

// Run polls the watch directory until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Str("watch_dir", w.cfg.WatchDir).
		Str("processed_dir", w.cfg.ProcessedDir).
		Dur("poll", w.cfg.PollInterval).
		Msg("ingest worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessNewFiles(ctx); err != nil {
			w.log.Warn().Err(err).Msg("process files failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNewFiles loads every pending roster file and returns how many
// records were stored.
func (w *Worker) ProcessNewFiles(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(w.cfg.WatchDir)
	if err != nil {
		return 0, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsRosterFile(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return 0, nil
	}
	// Later files overwrite earlier ones, so order matters.
	sort.Strings(files)
	w.log.Info().Int("files", len(files)).Int("workers", w.cfg.NumWorkers).Msg("found roster files")

	type fileResult struct {
		name string
		recs []records.Record
		err  error
	}
	results := make([]fileResult, len(files))
	idx := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range idx {
				name := files[j]
				recs, err := w.files.LoadRoster(ctx, filepath.Join(w.cfg.WatchDir, name))
				results[j] = fileResult{name: name, recs: recs, err: err}
			}
		}()
	}
	for j := range files {
		idx <- j
	}
	close(idx)
	wg.Wait()

	// Store in name order once every file has been parsed.
	var loaded, failed int
	for _, res := range results {
		dest := w.cfg.ProcessedDir
		if res.err == nil {
			res.err = records.Load(ctx, w.repo, res.recs)
		}
		if res.err != nil {
			if ctx.Err() != nil {
				return loaded, ctx.Err()
			}
			w.log.Error().Err(res.err).Str("file", res.name).Msg("ingest failed")
			dest = w.cfg.FailedDir
			failed++
		} else {
			loaded += len(res.recs)
			w.log.Info().Str("file", res.name).Int("records", len(res.recs)).Msg("roster file loaded")
		}
		if err := os.Rename(filepath.Join(w.cfg.WatchDir, res.name), filepath.Join(dest, res.name)); err != nil {
			w.log.Warn().Err(err).Str("file", res.name).Msg("move file failed")
		}
	}

	w.log.Info().Int("records", loaded).Int("failed_files", failed).Msg("batch complete")
	if w.cfg.OnLoaded != nil && loaded > 0 {
		w.cfg.OnLoaded(loaded)
	}
	return loaded, nil
}

// IsRosterFile reports whether name is a .csv or .csv.zst file.
func IsRosterFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".csv.zst")
}
