package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/lineage/internal/fixture"
	"github.com/freeeve/lineage/internal/httpapi"
	"github.com/freeeve/lineage/internal/ingest"
	"github.com/freeeve/lineage/internal/logx"
	"github.com/freeeve/lineage/internal/records"
)

func main() {
	var (
		// Server
		addr     = flag.String("addr", ":3000", "record service listen address")
		wsAddr   = flag.String("ws-addr", ":4000", "location feed listen address")
		public   = flag.String("public-url", "", "base URL for master/apprentice links (default: request host)")
		latency  = flag.Duration("latency", 0, "artificial delay before each record lookup")
		interval = flag.Duration("interval", 5*time.Second, "location change interval")
		pprof    = flag.Bool("pprof", false, "serve /debug/pprof")

		// Data
		dsn       = flag.String("dsn", os.Getenv("LINEAGE_DSN"), "SQLite path or postgres:// URL (empty = in memory)")
		roster    = flag.String("roster", "", "CSV roster to load at startup (path or s3://bucket/key, .zst ok)")
		ingestDir = flag.String("ingest-dir", "", "Directory to watch for roster CSV files (empty = disabled)")

		// Logging
		logLevel = flag.String("log-level", "info", "log level")
		logJSON  = flag.Bool("log-json", false, "log JSON lines")
	)
	flag.Parse()

	logger, err := logx.New(logx.Config{Level: *logLevel, JSON: *logJSON})
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to info level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, logger, *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open repository")
	}
	defer repo.Close()

	if err := seed(ctx, logger, repo, *roster); err != nil {
		logger.Fatal().Err(err).Msg("load roster")
	}

	all, err := repo.All(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("read roster")
	}
	worlds := records.Worlds(all)
	logger.Info().Int("records", len(all)).Int("worlds", len(worlds)).Msg("roster ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := httpapi.NewMetrics(reg)

	bc := httpapi.NewBroadcaster(httpapi.BroadcasterConfig{
		Logger:   logger.With().Str("component", "broadcaster").Logger(),
		Worlds:   worlds,
		Interval: *interval,
		Metrics:  metrics,
	})

	srv := &http.Server{
		Addr: *addr,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Logger:      logger.With().Str("component", "http").Logger(),
			Repo:        repo,
			Broadcaster: bc,
			Gatherer:    reg,
			Metrics:     metrics,
			PublicURL:   *public,
			Latency:     *latency,
			Pprof:       *pprof,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// The feed listener has no write timeout; subscriptions are long lived.
	wsSrv := &http.Server{
		Addr:              *wsAddr,
		Handler:           bc,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("record service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", wsSrv.Addr).Msg("location feed listening")
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	worker, err := ingest.NewWorker(ingest.Config{
		WatchDir: *ingestDir,
		Logger:   logger.With().Str("component", "ingest").Logger(),
		OnLoaded: func(int) {
			if all, err := repo.All(gctx); err == nil {
				bc.SetWorlds(records.Worlds(all))
			}
		},
	}, repo)
	if err != nil {
		logger.Fatal().Err(err).Msg("create ingest worker")
	}
	if worker != nil {
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := bc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server shutdown error")
		}
		if err := wsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("feed server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("chain service")
	}
	logger.Info().Msg("shutdown complete")
}

func openRepository(ctx context.Context, logger zerolog.Logger, dsn string) (records.Repository, error) {
	if dsn == "" {
		logger.Info().Msg("using in-memory repository")
		return records.NewMemoryRepository(), nil
	}
	repo, err := records.OpenDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("opened sql repository")
	return repo, nil
}

// seed loads the roster file, or the built-in roster into an empty repository.
func seed(ctx context.Context, logger zerolog.Logger, repo records.Repository, src string) error {
	if src != "" {
		recs, err := fixture.New(fixture.FromEnv()).LoadRoster(ctx, src)
		if err != nil {
			return err
		}
		logger.Info().Str("src", src).Int("records", len(recs)).Msg("loaded roster file")
		return records.Load(ctx, repo, recs)
	}
	n, err := repo.Len(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	logger.Info().Msg("seeding built-in roster")
	return records.Load(ctx, repo, records.Builtin())
}
