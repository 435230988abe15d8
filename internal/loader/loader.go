package loader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/lineage/internal/chain"
	"github.com/freeeve/lineage/internal/entity"
)

// DefaultAnchorID is the node fetched at position 0 on startup.
const DefaultAnchorID = "3616"

var (
	// ErrStopped is returned by mutators once Run has returned.
	ErrStopped = errors.New("loader stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("loader already running")
)

// Fetcher resolves a node id to its record. Implementations must honor ctx
// cancellation. The returned node's Position is ignored; the loader assigns it.
type Fetcher interface {
	FetchNode(ctx context.Context, id string) (chain.Node, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, id string) (chain.Node, error)

func (f FetcherFunc) FetchNode(ctx context.Context, id string) (chain.Node, error) {
	return f(ctx, id)
}

// Config configures a Loader.
type Config struct {
	Logger       zerolog.Logger
	AnchorID     string        // node fetched at position 0 (default DefaultAnchorID)
	Span         int           // visible positions, at least 2 (default chain.DefaultSpan)
	FetchTimeout time.Duration // per-fetch timeout (0 = wait until canceled)
	EventBuffer  int           // queued events before mutators block (default 64)
	Metrics      *Metrics      // optional
}

// State is everything the loader owns. It is only touched by the Run
// goroutine.
type State struct {
	CurrentLocation string
	Window          chain.Window
	Bindings        *chain.Bindings
	Entities        *entity.Store
}

// Loader is the single owner of application state and the per-direction
// fetch state machine.
type Loader struct {
	cfg     Config
	log     zerolog.Logger
	fetcher Fetcher
	metrics *Metrics

	events  chan event
	updates chan Snapshot // capacity 1, newest wins
	done    chan struct{}
	running atomic.Bool

	// dispatch starts the network half of a fetch. Replaced in tests.
	dispatch func(ctx context.Context, f *fetch)

	// Owned by the Run goroutine.
	state    State
	inflight [slotCount]*fetch
	ends     [2]boundary
}

type boundary struct {
	known    bool
	position int
}

// New creates a loader. Nothing is fetched until Run is called.
func New(cfg Config, fetcher Fetcher) (*Loader, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher required")
	}
	if cfg.AnchorID == "" {
		cfg.AnchorID = DefaultAnchorID
	}
	if cfg.Span < 2 {
		cfg.Span = chain.DefaultSpan
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.FetchTimeout < 0 {
		cfg.FetchTimeout = 0
	}

	l := &Loader{
		cfg:     cfg,
		log:     cfg.Logger,
		fetcher: fetcher,
		metrics: cfg.Metrics,
		events:  make(chan event, cfg.EventBuffer),
		updates: make(chan Snapshot, 1),
		done:    make(chan struct{}),
		state: State{
			Window:   chain.NewWindow(cfg.Span),
			Bindings: chain.NewBindings(),
			Entities: entity.NewStore(),
		},
	}
	l.dispatch = l.runFetch
	return l, nil
}

// Run seeds the chain with the anchor fetch and then applies events until ctx
// is done. All in-flight fetches are canceled on return.
func (l *Loader) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)

	l.log.Info().
		Str("anchor", l.cfg.AnchorID).
		Int("span", l.cfg.Span).
		Dur("fetch_timeout", l.cfg.FetchTimeout).
		Msg("loader started")

	l.start(ctx)
	for {
		select {
		case <-ctx.Done():
			l.cancelAll("shutdown")
			l.log.Info().Int("entities", l.state.Entities.Len()).Msg("loader stopped")
			return ctx.Err()
		case ev := <-l.events:
			l.handle(ctx, ev)
		}
	}
}

// ScrollUp shifts the window one position toward the root.
func (l *Loader) ScrollUp(ctx context.Context) error {
	return l.send(ctx, scrollEvent{dir: chain.Up})
}

// ScrollDown shifts the window one position away from the root.
func (l *Loader) ScrollDown(ctx context.Context) error {
	return l.send(ctx, scrollEvent{dir: chain.Down})
}

// Scroll shifts the window one position in d.
func (l *Loader) Scroll(ctx context.Context, d chain.Direction) error {
	return l.send(ctx, scrollEvent{dir: d})
}

// SetLocation replaces the current location. It satisfies feed.Sink.
func (l *Loader) SetLocation(ctx context.Context, name string) error {
	return l.send(ctx, locationEvent{name: name})
}

// Snapshot returns the state as of every event queued before the call.
func (l *Loader) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := l.send(ctx, snapshotRequest{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-l.done:
		return Snapshot{}, ErrStopped
	}
}

// Scrollable reports whether scrolling up or down would still reveal chain
// positions. The loader itself never refuses a scroll.
func (l *Loader) Scrollable(ctx context.Context) (up, down bool, err error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return false, false, err
	}
	return snap.CanScrollUp, snap.CanScrollDown, nil
}

// Updates delivers a snapshot after every applied change. Only the newest
// snapshot is kept for a slow reader.
func (l *Loader) Updates() <-chan Snapshot {
	return l.updates
}

// Done is closed when Run returns.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

func (l *Loader) send(ctx context.Context, ev event) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// runFetch performs the fetch off the event loop and posts the outcome back
// as an event.
func (l *Loader) runFetch(ctx context.Context, f *fetch) {
	go func() {
		node, err := l.fetcher.FetchNode(ctx, f.nodeID)
		select {
		case l.events <- resultEvent{fetch: f, node: node, err: err}:
		case <-l.done:
		}
	}()
}
