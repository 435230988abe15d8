package loader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/freeeve/lineage/internal/chain"
)

// recorder captures fetches instead of running them so tests can deliver
// results, in any order, straight into the event handler.
type recorder struct {
	fetches []*fetch
	ctxs    []context.Context
}

func (r *recorder) last() *fetch {
	if len(r.fetches) == 0 {
		return nil
	}
	return r.fetches[len(r.fetches)-1]
}

func (r *recorder) ctxOf(f *fetch) context.Context {
	for i, g := range r.fetches {
		if g == f {
			return r.ctxs[i]
		}
	}
	return nil
}

func newHarness(t *testing.T, cfg Config) (*Loader, *recorder) {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	l, err := New(cfg, FetcherFunc(func(ctx context.Context, id string) (chain.Node, error) {
		return chain.Node{}, fmt.Errorf("unexpected network fetch of %s", id)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &recorder{}
	l.dispatch = func(ctx context.Context, f *fetch) {
		rec.fetches = append(rec.fetches, f)
		rec.ctxs = append(rec.ctxs, ctx)
	}
	return l, rec
}

// infinite returns the node at pos of an unbounded chain whose ids encode
// their position.
func infinite(pos int) chain.Node {
	return chain.Node{
		ID:           "n" + strconv.Itoa(pos),
		Name:         fmt.Sprintf("Lord %d", pos),
		Location:     fmt.Sprintf("World %d", pos%3),
		MasterID:     "n" + strconv.Itoa(pos-1),
		ApprenticeID: "n" + strconv.Itoa(pos+1),
	}
}

func infiniteByID(id string) chain.Node {
	pos, err := strconv.Atoi(strings.TrimPrefix(id, "n"))
	if err != nil {
		panic(err)
	}
	return infinite(pos)
}

func deliver(l *Loader, f *fetch, node chain.Node) {
	l.handle(context.Background(), resultEvent{fetch: f, node: node})
}

func fail(l *Loader, f *fetch, err error) {
	l.handle(context.Background(), resultEvent{fetch: f, err: err})
}

func scroll(l *Loader, d chain.Direction) {
	l.handle(context.Background(), scrollEvent{dir: d})
}

// walkDown starts the loader on the infinite chain and delivers down fetches
// until position upTo is in flight.
func walkDown(t *testing.T, l *Loader, rec *recorder, upTo int) {
	t.Helper()
	l.start(context.Background())
	for {
		f := rec.last()
		if f == nil {
			t.Fatal("no fetch in flight")
		}
		if f.target == upTo {
			return
		}
		deliver(l, f, infiniteByID(f.nodeID))
	}
}

func TestAnchorFetchedOnStart(t *testing.T) {
	l, rec := newHarness(t, Config{})
	l.start(context.Background())

	if len(rec.fetches) != 1 {
		t.Fatalf("fetches = %d, want 1", len(rec.fetches))
	}
	f := rec.fetches[0]
	if f.slot != slotAnchor || f.nodeID != DefaultAnchorID || f.target != 0 {
		t.Errorf("anchor fetch = %s/%s/%d, want anchor/%s/0", f.slot, f.nodeID, f.target, DefaultAnchorID)
	}
}

func TestAnchorLoadImmediatelyFetchesApprentice(t *testing.T) {
	l, rec := newHarness(t, Config{})
	l.start(context.Background())

	deliver(l, rec.last(), chain.Node{ID: "3616", Name: "Darth Sidious", ApprenticeID: "A1"})

	if len(rec.fetches) != 2 {
		t.Fatalf("fetches = %d, want 2", len(rec.fetches))
	}
	f := rec.last()
	if f.slot != slotDown || f.nodeID != "A1" || f.target != 1 {
		t.Errorf("next fetch = %s/%s/%d, want down/A1/1", f.slot, f.nodeID, f.target)
	}
	if id, _ := l.state.Bindings.Lookup(0); id != "3616" {
		t.Errorf("binding 0 = %q, want 3616", id)
	}
}

func TestScrollDownEvictsAndFetchesNewEdge(t *testing.T) {
	l, rec := newHarness(t, Config{AnchorID: "n0"})
	walkDown(t, l, rec, 4)

	for p := 0; p <= 3; p++ {
		if !l.state.Bindings.Bound(p) {
			t.Fatalf("position %d unbound before scroll", p)
		}
	}

	scroll(l, chain.Down)
	if l.state.Window != (chain.Window{Start: 1, End: 5}) {
		t.Fatalf("window = %v, want {1 5}", l.state.Window)
	}
	if l.state.Bindings.Bound(0) {
		t.Error("position 0 still bound after scrolling to {1,5}")
	}

	pending := rec.last()
	if pending.target != 4 {
		t.Fatalf("in-flight target = %d, want 4", pending.target)
	}
	deliver(l, pending, infiniteByID(pending.nodeID))

	f := rec.last()
	if f.slot != slotDown || f.target != 5 || f.nodeID != "n5" {
		t.Errorf("fetch after scroll = %s/%s/%d, want down/n5/5", f.slot, f.nodeID, f.target)
	}
}

func TestOpposingScrollCancelsAndDropsLateResult(t *testing.T) {
	l, rec := newHarness(t, Config{AnchorID: "n0"})
	walkDown(t, l, rec, 4)
	scroll(l, chain.Down)
	deliver(l, rec.last(), infiniteByID(rec.last().nodeID))

	five := rec.last()
	if five.target != 5 {
		t.Fatalf("in-flight target = %d, want 5", five.target)
	}

	scroll(l, chain.Up)
	if l.state.Window != (chain.Window{Start: 0, End: 4}) {
		t.Fatalf("window = %v, want {0 4}", l.state.Window)
	}
	if l.inflight[slotDown] != nil {
		t.Fatal("down fetch still in flight after opposing scroll")
	}
	if err := rec.ctxOf(five).Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled fetch ctx err = %v, want context.Canceled", err)
	}

	// Scrolling up exposed position 0 with 1 bound, so the up slot walks.
	up := rec.last()
	if up.slot != slotUp || up.target != 0 || up.nodeID != "n0" {
		t.Errorf("fetch after scroll up = %s/%s/%d, want up/n0/0", up.slot, up.nodeID, up.target)
	}

	before := len(rec.fetches)
	deliver(l, five, infinite(5))

	if l.state.Bindings.Bound(5) {
		t.Error("late result bound position 5")
	}
	if _, ok := l.state.Entities.Get("n5"); ok {
		t.Error("late result reached the entity store")
	}
	if len(rec.fetches) != before {
		t.Errorf("late result issued %d fetches", len(rec.fetches)-before)
	}
}

// The late completion of a canceled fetch must leave state exactly as if it
// had never arrived.
func TestCanceledCompletionIsInvisible(t *testing.T) {
	run := func(deliverStale bool) (Snapshot, []string, int) {
		l, rec := newHarness(t, Config{AnchorID: "n0"})
		walkDown(t, l, rec, 4)
		scroll(l, chain.Down)
		deliver(l, rec.last(), infiniteByID(rec.last().nodeID))
		five := rec.last()
		scroll(l, chain.Up)
		if deliverStale {
			deliver(l, five, infinite(5))
		}
		up := rec.last()
		deliver(l, up, infiniteByID(up.nodeID))
		return l.snapshot(), l.state.Entities.IDs(), len(rec.fetches)
	}

	snapA, idsA, nA := run(false)
	snapB, idsB, nB := run(true)
	if !reflect.DeepEqual(snapA, snapB) {
		t.Errorf("snapshot differs:\n without stale: %+v\n with stale:    %+v", snapA, snapB)
	}
	if !reflect.DeepEqual(idsA, idsB) {
		t.Errorf("entities = %v, want %v", idsB, idsA)
	}
	if nA != nB {
		t.Errorf("fetches = %d, want %d", nB, nA)
	}
}

func TestSameDirectionScrollKeepsFetch(t *testing.T) {
	l, rec := newHarness(t, Config{AnchorID: "n0"})
	walkDown(t, l, rec, 3)

	scroll(l, chain.Down)
	if l.inflight[slotDown] == nil {
		t.Fatal("down fetch canceled by a down scroll")
	}

	l2, rec2 := newHarness(t, Config{AnchorID: "n0"})
	walkDown(t, l2, rec2, 3)
	scroll(l2, chain.Up) // {-1,3} still contains 3
	if l2.inflight[slotDown] == nil {
		t.Error("down fetch canceled although its target is still visible")
	}
}

func TestChainBoundaryStopsDownFetches(t *testing.T) {
	short := map[string]chain.Node{
		"a": {ID: "a", ApprenticeID: "b"},
		"b": {ID: "b", MasterID: "a", ApprenticeID: "c"},
		"c": {ID: "c", MasterID: "b"},
	}
	l, rec := newHarness(t, Config{AnchorID: "a", Span: 3})
	l.start(context.Background())
	for l.inflight[slotAnchor] != nil || l.inflight[slotDown] != nil {
		f := rec.last()
		deliver(l, f, short[f.nodeID])
	}
	if len(rec.fetches) != 3 {
		t.Fatalf("fetches = %d, want 3", len(rec.fetches))
	}

	for i := 0; i < 4; i++ {
		scroll(l, chain.Down)
		if l.inflight[slotDown] != nil {
			t.Fatalf("scroll %d issued a down fetch past the end of the chain", i+1)
		}
	}
	if len(rec.fetches) != 3 {
		t.Errorf("fetches = %d after scrolling, want 3", len(rec.fetches))
	}

	snap := l.snapshot()
	if snap.DownEnd == nil || *snap.DownEnd != 2 {
		t.Errorf("DownEnd = %v, want 2", snap.DownEnd)
	}
}

func TestFetchFailureStopsWithoutRetry(t *testing.T) {
	l, rec := newHarness(t, Config{AnchorID: "n0"})
	walkDown(t, l, rec, 2)

	fail(l, rec.last(), errors.New("connection reset"))
	if l.inflight[slotDown] != nil {
		t.Fatal("failed fetch left the down slot busy")
	}
	if l.state.Bindings.Bound(2) {
		t.Error("failed fetch produced a binding")
	}
	n := len(rec.fetches)

	// The window still demands position 2 but nothing retries on its own.
	l.handle(context.Background(), locationEvent{name: "Tatooine"})
	if len(rec.fetches) != n {
		t.Errorf("fetches = %d, want %d (no retry)", len(rec.fetches), n)
	}
}

func TestAnchorSurvivesScrolling(t *testing.T) {
	l, rec := newHarness(t, Config{AnchorID: "n0"})
	l.start(context.Background())
	anchor := rec.last()

	for i := 0; i < 6; i++ {
		scroll(l, chain.Down)
	}
	if l.inflight[slotAnchor] != anchor {
		t.Fatal("anchor fetch canceled by scrolling")
	}

	deliver(l, anchor, infinite(0))
	if _, ok := l.state.Entities.Get("n0"); !ok {
		t.Error("anchor missing from entity store")
	}
	if l.state.Bindings.Bound(0) {
		t.Error("anchor bound outside window {6,10}")
	}
	// The walk still heads toward the window.
	if f := rec.last(); f.slot != slotDown || f.target != 1 {
		t.Errorf("next fetch = %s/%d, want down/1", f.slot, f.target)
	}
}

func TestHighlightMatchesCurrentLocation(t *testing.T) {
	l, rec := newHarness(t, Config{})
	l.start(context.Background())
	deliver(l, rec.last(), chain.Node{ID: "3616", Location: "Naboo"})

	snap := l.snapshot()
	if snap.Slots[0].Highlight {
		t.Error("highlighted before any location arrived")
	}

	l.handle(context.Background(), locationEvent{name: "Naboo"})
	snap = l.snapshot()
	if !snap.Slots[0].Highlight || snap.CurrentLocation != "Naboo" {
		t.Errorf("slot 0 highlight = %v, location = %q", snap.Slots[0].Highlight, snap.CurrentLocation)
	}

	l.handle(context.Background(), locationEvent{name: "Dagobah"})
	if l.snapshot().Slots[0].Highlight {
		t.Error("still highlighted after location changed")
	}
}

func TestMetricsCountCancellation(t *testing.T) {
	m := NewMetrics(nil)
	l, rec := newHarness(t, Config{AnchorID: "n0", Metrics: m})
	walkDown(t, l, rec, 4)
	scroll(l, chain.Down)
	deliver(l, rec.last(), infiniteByID(rec.last().nodeID))
	five := rec.last()
	scroll(l, chain.Up)
	deliver(l, five, infinite(5))

	if got := testutil.ToFloat64(m.FetchesCanceled.WithLabelValues("down")); got != 1 {
		t.Errorf("canceled{down} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResultsDiscarded.WithLabelValues("down")); got != 1 {
		t.Errorf("discarded{down} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BindingsEvicted); got != 1 {
		t.Errorf("evicted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Bindings); got != float64(l.state.Bindings.Len()) {
		t.Errorf("bindings gauge = %v, want %d", got, l.state.Bindings.Len())
	}
}

// Random interleavings of scrolls and (possibly stale, possibly reordered)
// completions must keep the binding map bounded and every binding correct.
func TestRandomInterleavingsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 30; run++ {
		l, rec := newHarness(t, Config{AnchorID: "n0"})
		l.start(context.Background())
		var open []*fetch
		seen := 0

		for step := 0; step < 300; step++ {
			open = append(open, rec.fetches[seen:]...)
			seen = len(rec.fetches)

			switch r := rng.Intn(3); {
			case r == 0:
				scroll(l, chain.Up)
			case r == 1:
				scroll(l, chain.Down)
			case len(open) > 0:
				i := rng.Intn(len(open))
				f := open[i]
				open = append(open[:i], open[i+1:]...)
				if rng.Intn(5) == 0 {
					fail(l, f, errors.New("boom"))
				} else {
					deliver(l, f, infiniteByID(f.nodeID))
				}
			}

			w := l.state.Window
			if l.state.Bindings.Len() > w.Span() {
				t.Fatalf("run %d step %d: %d bindings for span %d", run, step, l.state.Bindings.Len(), w.Span())
			}
			for pos, id := range l.state.Bindings.Copy() {
				if !w.Contains(pos) {
					t.Fatalf("run %d step %d: binding %d outside %v", run, step, pos, w)
				}
				if want := "n" + strconv.Itoa(pos); id != want {
					t.Fatalf("run %d step %d: position %d bound to %s, want %s", run, step, pos, id, want)
				}
			}
		}
	}
}
