package loader

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/freeeve/lineage/internal/chain"
)

// slot indexes the in-flight table. The first two values line up with
// chain.Up and chain.Down.
type slot uint8

const (
	slotUp slot = iota
	slotDown
	slotAnchor
	slotCount
)

func slotFor(d chain.Direction) slot {
	if d == chain.Up {
		return slotUp
	}
	return slotDown
}

func (s slot) String() string {
	switch s {
	case slotUp:
		return "up"
	case slotDown:
		return "down"
	case slotAnchor:
		return "anchor"
	default:
		return "unknown"
	}
}

// fetch is the token bound 1:1 to one network request. A result is applied
// only while its fetch is still inflight[slot].
type fetch struct {
	id      ulid.ULID
	slot    slot
	target  int
	nodeID  string
	cancel  context.CancelFunc
	started time.Time
}

type event interface{ isEvent() }

type scrollEvent struct{ dir chain.Direction }

type resultEvent struct {
	fetch *fetch
	node  chain.Node
	err   error
}

type locationEvent struct{ name string }

type snapshotRequest struct{ reply chan Snapshot }

func (scrollEvent) isEvent()     {}
func (resultEvent) isEvent()     {}
func (locationEvent) isEvent()   {}
func (snapshotRequest) isEvent() {}

func (l *Loader) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case scrollEvent:
		l.onScroll(ctx, ev.dir)
		l.publish()
	case resultEvent:
		if l.onResult(ctx, ev) {
			l.publish()
		}
	case locationEvent:
		l.state.CurrentLocation = ev.name
		l.publish()
	case snapshotRequest:
		ev.reply <- l.snapshot()
	}
}

// start issues the unconditional anchor fetch.
func (l *Loader) start(ctx context.Context) {
	l.issue(ctx, slotAnchor, l.cfg.AnchorID, 0)
	l.publish()
}

func (l *Loader) onScroll(ctx context.Context, dir chain.Direction) {
	w := l.state.Window.Shift(dir)
	l.state.Window = w

	if evicted := l.state.Bindings.Sweep(w); evicted > 0 {
		l.metrics.evicted(evicted)
	}
	l.metrics.setBindings(l.state.Bindings.Len())

	// A fetch walking the other way is moot once its target has scrolled out.
	if f := l.inflight[slotFor(dir.Opposite())]; f != nil && !w.Contains(f.target) {
		l.cancel(f, "target scrolled out of window")
	}

	l.log.Debug().
		Str("dir", dir.String()).
		Int("start", w.Start).
		Int("end", w.End).
		Int("bindings", l.state.Bindings.Len()).
		Msg("window shifted")

	l.scrollTrigger(ctx, dir)
}

// scrollTrigger fetches past the newly exposed edge when the position just
// inside it is bound and the edge itself is not.
func (l *Loader) scrollTrigger(ctx context.Context, dir chain.Direction) {
	if l.inflight[slotFor(dir)] != nil {
		return
	}
	w := l.state.Window
	edge := w.Edge(dir)
	inner := edge - dir.Step()
	if l.state.Bindings.Bound(edge) {
		return
	}
	id, ok := l.state.Bindings.Lookup(inner)
	if !ok {
		return
	}
	node, ok := l.state.Entities.Get(id)
	if !ok {
		return
	}
	l.advance(ctx, dir, node, inner)
}

// onResult applies a fetch outcome and reports whether state changed.
func (l *Loader) onResult(ctx context.Context, ev resultEvent) bool {
	f := ev.fetch
	if l.inflight[f.slot] != f {
		l.metrics.discarded(f.slot)
		l.log.Debug().
			Str("fetch", f.id.String()).
			Str("slot", f.slot.String()).
			Int("target", f.target).
			Msg("dropping result of canceled fetch")
		return false
	}
	l.inflight[f.slot] = nil
	f.cancel()
	l.metrics.observe(f.slot, time.Since(f.started))

	if ev.err != nil {
		l.metrics.failed(f.slot)
		l.log.Warn().
			Err(ev.err).
			Str("fetch", f.id.String()).
			Str("slot", f.slot.String()).
			Str("node", f.nodeID).
			Int("target", f.target).
			Msg("fetch failed")
		return true
	}

	node := ev.node
	if node.ID == "" {
		node.ID = f.nodeID
	}
	node.Position = f.target

	l.state.Entities.Upsert(node)
	l.metrics.setEntities(l.state.Entities.Len())

	if !l.state.Bindings.Bind(l.state.Window, node.Position, node.ID) {
		l.log.Debug().
			Str("node", node.ID).
			Int("position", node.Position).
			Msg("loaded node outside window, not bound")
	}
	l.metrics.setBindings(l.state.Bindings.Len())

	l.log.Debug().
		Str("fetch", f.id.String()).
		Str("slot", f.slot.String()).
		Str("node", node.ID).
		Str("name", node.Name).
		Int("position", node.Position).
		Msg("node loaded")

	l.nodeLoaded(ctx, node)
	return true
}

// nodeLoaded keeps each idle direction walking while the loaded node is the
// outermost bound node on that side and the window extends past it.
func (l *Loader) nodeLoaded(ctx context.Context, node chain.Node) {
	w := l.state.Window
	b := l.state.Bindings

	for _, dir := range []chain.Direction{chain.Up, chain.Down} {
		if l.inflight[slotFor(dir)] != nil {
			continue
		}
		switch dir {
		case chain.Up:
			if p, ok := b.Shallowest(w); ok && node.Position > p {
				continue
			}
			if node.Position <= w.Start {
				if !node.HasNeighbor(dir) {
					l.markEnd(dir, node.Position)
				}
				continue
			}
		case chain.Down:
			if p, ok := b.Deepest(w); ok && node.Position < p {
				continue
			}
			if node.Position >= w.End {
				if !node.HasNeighbor(dir) {
					l.markEnd(dir, node.Position)
				}
				continue
			}
		}
		l.advance(ctx, dir, node, node.Position)
	}
}

// advance fetches the neighbor of node (bound at pos) in dir, or records the
// chain boundary when there is none.
func (l *Loader) advance(ctx context.Context, dir chain.Direction, node chain.Node, pos int) {
	if !node.HasNeighbor(dir) {
		l.markEnd(dir, pos)
		return
	}
	l.issue(ctx, slotFor(dir), node.Neighbor(dir), pos+dir.Step())
}

func (l *Loader) markEnd(dir chain.Direction, pos int) {
	if e := l.ends[dir]; e.known && e.position == pos {
		return
	}
	l.ends[dir] = boundary{known: true, position: pos}
	l.log.Debug().Str("dir", dir.String()).Int("position", pos).Msg("end of chain")
}

func (l *Loader) issue(ctx context.Context, s slot, nodeID string, target int) {
	var fctx context.Context
	var cancel context.CancelFunc
	if l.cfg.FetchTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, l.cfg.FetchTimeout)
	} else {
		fctx, cancel = context.WithCancel(ctx)
	}

	f := &fetch{
		id:      ulid.Make(),
		slot:    s,
		target:  target,
		nodeID:  nodeID,
		cancel:  cancel,
		started: time.Now(),
	}
	l.inflight[s] = f
	l.metrics.started(s)

	l.log.Debug().
		Str("fetch", f.id.String()).
		Str("slot", s.String()).
		Str("node", nodeID).
		Int("target", target).
		Msg("fetch issued")

	l.dispatch(fctx, f)
}

func (l *Loader) cancel(f *fetch, reason string) {
	f.cancel()
	l.inflight[f.slot] = nil
	l.metrics.canceled(f.slot)
	l.log.Debug().
		Str("fetch", f.id.String()).
		Str("slot", f.slot.String()).
		Int("target", f.target).
		Str("reason", reason).
		Msg("fetch canceled")
}

func (l *Loader) cancelAll(reason string) {
	for _, f := range l.inflight {
		if f != nil {
			l.cancel(f, reason)
		}
	}
}
