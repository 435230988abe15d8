package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/freeeve/lineage/internal/chain"
	"github.com/freeeve/lineage/internal/feed"
	"github.com/freeeve/lineage/internal/loader"
	"github.com/freeeve/lineage/internal/logx"
	"github.com/freeeve/lineage/internal/remote"
)

const LineageVersion = "0.1.0"

const usage = `Browse a master/apprentice lineage.

The default urls are:
    chain_url: http://localhost:3000 (or LINEAGE_CHAIN_URL)
    planet_url: ws://localhost:4000 (or LINEAGE_PLANET_URL)

Usage:
    lineage watch [--chain_url=<url>] [--planet_url=<url>] [--anchor=<id>]
        [--window=<n>] [--fetch_timeout=<dur>] [--metrics_addr=<addr>]
        [--log_level=<level>]
    lineage dump [--chain_url=<url>] [--anchor=<id>] [--window=<n>]
        [--fetch_timeout=<dur>] [--moves=<moves>] [--settle=<dur>] [--json]
        [--log_level=<level>]
    lineage -h | --help
    lineage --version

Options:
    -h --help                Show this screen.
    --version                Show version.
    --chain_url=<url>        Record service root.
    --planet_url=<url>       Location feed WebSocket.
    --anchor=<id>            Record shown at position 0 [default: 3616].
    --window=<n>             Visible positions [default: 5].
    --fetch_timeout=<dur>    Give up on one record after this long [default: 10s].
    --metrics_addr=<addr>    Serve loader metrics on this address.
    --moves=<moves>          Scroll script, u = up and d = down, e.g. ddu.
    --settle=<dur>           Longest wait for fetches after each move [default: 5s].
    --json                   Print the final snapshot as JSON.
    --log_level=<level>      trace, debug, info, warn, error [default: warn].`

type options struct {
	chainURL     string
	planetURL    string
	anchor       string
	window       int
	fetchTimeout time.Duration
	metricsAddr  string
	moves        string
	settle       time.Duration
	json         bool
	logLevel     string
}

func parseOptions(args []string) (docopt.Opts, options, error) {
	opts, err := docopt.ParseArgs(usage, args, LineageVersion)
	if err != nil {
		return nil, options{}, err
	}
	o := options{
		chainURL:  envOr("LINEAGE_CHAIN_URL", remote.DefaultBaseURL),
		planetURL: envOr("LINEAGE_PLANET_URL", feed.DefaultURL),
	}
	if s, _ := opts.String("--chain_url"); s != "" {
		o.chainURL = s
	}
	if s, _ := opts.String("--planet_url"); s != "" {
		o.planetURL = s
	}
	o.anchor, _ = opts.String("--anchor")
	o.metricsAddr, _ = opts.String("--metrics_addr")
	o.moves, _ = opts.String("--moves")
	o.json, _ = opts.Bool("--json")
	o.logLevel, _ = opts.String("--log_level")

	window, _ := opts.String("--window")
	if o.window, err = strconv.Atoi(window); err != nil || o.window < 2 {
		return nil, options{}, fmt.Errorf("--window=%q: want an integer >= 2", window)
	}
	timeout, _ := opts.String("--fetch_timeout")
	if o.fetchTimeout, err = time.ParseDuration(timeout); err != nil {
		return nil, options{}, fmt.Errorf("--fetch_timeout: %w", err)
	}
	if settle, _ := opts.String("--settle"); settle != "" {
		if o.settle, err = time.ParseDuration(settle); err != nil {
			return nil, options{}, fmt.Errorf("--settle: %w", err)
		}
	}
	return opts, o, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func main() {
	opts, o, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := logx.New(logx.Config{Out: os.Stderr, Level: o.logLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watch, _ := opts.Bool("watch"); watch {
		err = runWatch(ctx, logger, o)
	} else if dump, _ := opts.Bool("dump"); dump {
		err = runDump(ctx, logger, o)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("lineage")
	}
}

func newLoader(logger zerolog.Logger, o options, metrics *loader.Metrics) (*loader.Loader, error) {
	client, err := remote.New(remote.Config{
		BaseURL: o.chainURL,
		Logger:  logger.With().Str("component", "remote").Logger(),
	})
	if err != nil {
		return nil, err
	}
	return loader.New(loader.Config{
		Logger:       logger.With().Str("component", "loader").Logger(),
		AnchorID:     o.anchor,
		Span:         o.window,
		FetchTimeout: o.fetchTimeout,
		Metrics:      metrics,
	}, client)
}

// runWatch is the interactive browser: one frame per snapshot, arrow keys scroll.
func runWatch(ctx context.Context, logger zerolog.Logger, o options) error {
	var metrics *loader.Metrics
	reg := prometheus.NewRegistry()
	if o.metricsAddr != "" {
		metrics = loader.NewMetrics(reg)
	}
	l, err := newLoader(logger, o, metrics)
	if err != nil {
		return err
	}
	fc, err := feed.New(feed.Config{
		URL:    o.planetURL,
		Logger: logger.With().Str("component", "feed").Logger(),
	}, l)
	if err != nil {
		return err
	}

	eol := "\n"
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		prev, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer func() { _ = term.Restore(fd, prev) }()
		eol = "\r\n"
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.Run(gctx) })
	g.Go(func() error { return fc.Run(gctx) })
	if o.metricsAddr != "" {
		srv := &http.Server{Addr: o.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	keys := make(chan key)
	// Stdin reads cannot be interrupted; this goroutine is abandoned on exit.
	go func() { _ = readKeys(gctx, os.Stdin, keys) }()

	g.Go(func() error {
		var last loader.Snapshot
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case snap := <-l.Updates():
				last = snap
				fmt.Print("\x1b[H\x1b[2J")
				render(os.Stdout, snap, eol)
			case k := <-keys:
				switch {
				case k == keyQuit:
					cancel()
					return nil
				case k == keyUp && last.CanScrollUp:
					if err := l.ScrollUp(gctx); err != nil {
						return err
					}
				case k == keyDown && last.CanScrollDown:
					if err := l.ScrollDown(gctx); err != nil {
						return err
					}
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runDump applies a scroll script and prints the settled result once.
func runDump(ctx context.Context, logger zerolog.Logger, o options) error {
	l, err := newLoader(logger, o, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	snap, err := settle(ctx, l, o.settle)
	if err != nil {
		return err
	}
	for _, k := range parseMoves(o.moves) {
		d := chain.Down
		if k == keyUp {
			d = chain.Up
		}
		if err := l.Scroll(ctx, d); err != nil {
			return err
		}
		if snap, err = settle(ctx, l, o.settle); err != nil {
			return err
		}
	}
	cancel()
	<-runErr

	if o.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	render(os.Stdout, snap, "\n")
	return nil
}

// settle waits until nothing is in flight or max elapses, and returns the
// latest snapshot either way.
func settle(ctx context.Context, l *loader.Loader, max time.Duration) (loader.Snapshot, error) {
	deadline := time.NewTimer(max)
	defer deadline.Stop()
	for {
		snap, err := l.Snapshot(ctx)
		if err != nil {
			return loader.Snapshot{}, err
		}
		if len(snap.Fetching) == 0 {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-deadline.C:
			return snap, nil
		case <-l.Updates():
		}
	}
}
