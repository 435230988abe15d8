package chain

// DefaultSpan is the number of positions visible at once.
const DefaultSpan = 5

// Window is an inclusive range of positions. The span never changes; scrolling
// moves the whole range by one.
type Window struct {
	Start int
	End   int
}

// NewWindow returns the window {0, span-1}. A span below 1 falls back to
// DefaultSpan.
func NewWindow(span int) Window {
	if span < 1 {
		span = DefaultSpan
	}
	return Window{Start: 0, End: span - 1}
}

// ShiftUp moves the window one position toward the chain's root.
func (w Window) ShiftUp() Window { return Window{Start: w.Start - 1, End: w.End - 1} }

// ShiftDown moves the window one position away from the chain's root.
func (w Window) ShiftDown() Window { return Window{Start: w.Start + 1, End: w.End + 1} }

// Shift moves the window one step in d.
func (w Window) Shift(d Direction) Window {
	if d == Up {
		return w.ShiftUp()
	}
	return w.ShiftDown()
}

// Contains reports whether pos lies inside the window.
func (w Window) Contains(pos int) bool {
	return w.Start <= pos && pos <= w.End
}

// Span is the number of positions covered.
func (w Window) Span() int { return w.End - w.Start + 1 }

// Edge returns the outermost position on the d side.
func (w Window) Edge(d Direction) int {
	if d == Up {
		return w.Start
	}
	return w.End
}

// Positions lists every position from Start to End.
func (w Window) Positions() []int {
	out := make([]int, 0, w.Span())
	for p := w.Start; p <= w.End; p++ {
		out = append(out, p)
	}
	return out
}

// Bindings maps window positions to node ids. Writes outside the window are
// rejected and Sweep drops whatever a shift has pushed out, so the map never
// holds more than the window's span.
type Bindings struct {
	byPos map[int]string
}

// NewBindings returns an empty binding map.
func NewBindings() *Bindings {
	return &Bindings{byPos: make(map[int]string)}
}

// Bind records id at pos if pos is inside w. It returns false for a stale
// write, which leaves the map untouched.
func (b *Bindings) Bind(w Window, pos int, id string) bool {
	if !w.Contains(pos) {
		return false
	}
	b.byPos[pos] = id
	return true
}

// Sweep deletes every binding outside w and returns how many were removed.
func (b *Bindings) Sweep(w Window) int {
	removed := 0
	for pos := range b.byPos {
		if !w.Contains(pos) {
			delete(b.byPos, pos)
			removed++
		}
	}
	return removed
}

// Lookup returns the id bound at pos.
func (b *Bindings) Lookup(pos int) (string, bool) {
	id, ok := b.byPos[pos]
	return id, ok
}

// Bound reports whether pos has a binding.
func (b *Bindings) Bound(pos int) bool {
	_, ok := b.byPos[pos]
	return ok
}

// Len returns the number of live bindings.
func (b *Bindings) Len() int { return len(b.byPos) }

// Shallowest returns the lowest bound position inside w.
func (b *Bindings) Shallowest(w Window) (int, bool) {
	for p := w.Start; p <= w.End; p++ {
		if b.Bound(p) {
			return p, true
		}
	}
	return 0, false
}

// Deepest returns the highest bound position inside w.
func (b *Bindings) Deepest(w Window) (int, bool) {
	for p := w.End; p >= w.Start; p-- {
		if b.Bound(p) {
			return p, true
		}
	}
	return 0, false
}

// Outermost returns the bound position closest to w's edge on the d side.
func (b *Bindings) Outermost(w Window, d Direction) (int, bool) {
	if d == Up {
		return b.Shallowest(w)
	}
	return b.Deepest(w)
}

// Copy returns a detached copy of the position to id map.
func (b *Bindings) Copy() map[int]string {
	out := make(map[int]string, len(b.byPos))
	for p, id := range b.byPos {
		out[p] = id
	}
	return out
}
