package loader

import "github.com/freeeve/lineage/internal/chain"

// Slot is one visible position. Node is nil while the position is unresolved.
type Slot struct {
	Position  int         `json:"position"`
	Node      *chain.Node `json:"node,omitempty"`
	Highlight bool        `json:"highlight,omitempty"` // node's location is the current location
}

// Snapshot is a read-only copy of the state for presentation.
type Snapshot struct {
	Window          chain.Window `json:"window"`
	CurrentLocation string       `json:"current_location"`
	Slots           []Slot       `json:"slots"`
	Fetching        []int        `json:"fetching,omitempty"` // target positions in flight
	Entities        int          `json:"entities"`

	UpEnd   *int `json:"up_end,omitempty"`   // position of the root, once seen
	DownEnd *int `json:"down_end,omitempty"` // position of the last apprentice, once seen

	CanScrollUp   bool `json:"can_scroll_up"`
	CanScrollDown bool `json:"can_scroll_down"`
}

// Resolved returns the number of slots with a node.
func (s Snapshot) Resolved() int {
	n := 0
	for _, slot := range s.Slots {
		if slot.Node != nil {
			n++
		}
	}
	return n
}

// Node returns the node shown at pos, if any.
func (s Snapshot) Node(pos int) (chain.Node, bool) {
	for _, slot := range s.Slots {
		if slot.Position == pos && slot.Node != nil {
			return *slot.Node, true
		}
	}
	return chain.Node{}, false
}

func (l *Loader) snapshot() Snapshot {
	w := l.state.Window
	snap := Snapshot{
		Window:          w,
		CurrentLocation: l.state.CurrentLocation,
		Slots:           make([]Slot, 0, w.Span()),
		Entities:        l.state.Entities.Len(),
		CanScrollUp:     true,
		CanScrollDown:   true,
	}

	for _, pos := range w.Positions() {
		slot := Slot{Position: pos}
		if id, ok := l.state.Bindings.Lookup(pos); ok {
			if node, ok := l.state.Entities.Get(id); ok {
				n := node
				slot.Node = &n
				slot.Highlight = l.state.CurrentLocation != "" && n.Location == l.state.CurrentLocation
			}
		}
		snap.Slots = append(snap.Slots, slot)
	}

	for _, f := range l.inflight {
		if f != nil {
			snap.Fetching = append(snap.Fetching, f.target)
		}
	}

	if e := l.ends[chain.Up]; e.known {
		p := e.position
		snap.UpEnd = &p
		snap.CanScrollUp = p < w.Start
	}
	if e := l.ends[chain.Down]; e.known {
		p := e.position
		snap.DownEnd = &p
		snap.CanScrollDown = p > w.End
	}
	return snap
}

// publish replaces whatever snapshot is waiting in the updates channel.
func (l *Loader) publish() {
	snap := l.snapshot()
	select {
	case <-l.updates:
	default:
	}
	select {
	case l.updates <- snap:
	default:
	}
}
