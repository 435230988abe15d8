package chain

import (
	"math/rand"
	"testing"
)

func TestWindowShift(t *testing.T) {
	w := NewWindow(5)
	if w != (Window{0, 4}) {
		t.Fatalf("NewWindow(5) = %v, want {0 4}", w)
	}

	tests := []struct {
		name string
		got  Window
		want Window
	}{
		{"up", w.ShiftUp(), Window{-1, 3}},
		{"down", w.ShiftDown(), Window{1, 5}},
		{"up past root", w.ShiftUp().ShiftUp(), Window{-2, 2}},
		{"shift up", w.Shift(Up), Window{-1, 3}},
		{"shift down", w.Shift(Down), Window{1, 5}},
		{"round trip", w.ShiftDown().ShiftUp(), w},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s: got = %v, want %v", tc.name, tc.got, tc.want)
		}
		if tc.got.Span() != 5 {
			t.Errorf("%s: span = %d, want 5", tc.name, tc.got.Span())
		}
	}
}

func TestNewWindowDefaultSpan(t *testing.T) {
	if got := NewWindow(0).Span(); got != DefaultSpan {
		t.Errorf("NewWindow(0).Span() = %d, want %d", got, DefaultSpan)
	}
}

func TestWindowEdgeAndPositions(t *testing.T) {
	w := Window{Start: 2, End: 4}
	if w.Edge(Up) != 2 || w.Edge(Down) != 4 {
		t.Errorf("Edge = (%d, %d), want (2, 4)", w.Edge(Up), w.Edge(Down))
	}
	pos := w.Positions()
	if len(pos) != 3 || pos[0] != 2 || pos[2] != 4 {
		t.Errorf("Positions = %v, want [2 3 4]", pos)
	}
}

func TestBindRejectsStaleWrite(t *testing.T) {
	b := NewBindings()
	w := Window{0, 4}

	if !b.Bind(w, 4, "a") {
		t.Fatal("Bind(4) rejected inside window")
	}
	if b.Bind(w, 5, "b") {
		t.Error("Bind(5) accepted outside window")
	}
	if b.Bind(w, -1, "c") {
		t.Error("Bind(-1) accepted outside window")
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
}

func TestSweepEvictsOutOfRange(t *testing.T) {
	b := NewBindings()
	w := Window{0, 4}
	for p := 0; p <= 4; p++ {
		b.Bind(w, p, string(rune('a'+p)))
	}

	w = w.ShiftDown()
	if removed := b.Sweep(w); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if b.Bound(0) {
		t.Error("position 0 still bound after shift to {1,5}")
	}
	if id, ok := b.Lookup(4); !ok || id != "e" {
		t.Errorf("Lookup(4) = %q, %v, want e, true", id, ok)
	}
}

func TestShallowestDeepest(t *testing.T) {
	b := NewBindings()
	w := Window{0, 4}
	if _, ok := b.Shallowest(w); ok {
		t.Error("Shallowest on empty bindings reported a position")
	}
	b.Bind(w, 1, "x")
	b.Bind(w, 3, "y")

	if p, _ := b.Shallowest(w); p != 1 {
		t.Errorf("Shallowest = %d, want 1", p)
	}
	if p, _ := b.Deepest(w); p != 3 {
		t.Errorf("Deepest = %d, want 3", p)
	}
	if p, _ := b.Outermost(w, Down); p != 3 {
		t.Errorf("Outermost(Down) = %d, want 3", p)
	}
}

// Random scroll walks with a binding write after every step must keep the map
// bounded by the span and free of out-of-range entries.
func TestBindingsBoundedUnderRandomScroll(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		w := NewWindow(5)
		b := NewBindings()
		for step := 0; step < 200; step++ {
			if rng.Intn(2) == 0 {
				w = w.ShiftUp()
			} else {
				w = w.ShiftDown()
			}
			b.Sweep(w)
			b.Bind(w, w.Start+rng.Intn(9)-2, "n")

			if b.Len() > w.Span() {
				t.Fatalf("run %d step %d: Len = %d > span %d", run, step, b.Len(), w.Span())
			}
			for p := range b.Copy() {
				if !w.Contains(p) {
					t.Fatalf("run %d step %d: binding %d outside %v", run, step, p, w)
				}
			}
		}
	}
}

func TestDirection(t *testing.T) {
	n := Node{ID: "1", MasterID: "0", ApprenticeID: ""}
	if !n.HasNeighbor(Up) || n.Neighbor(Up) != "0" {
		t.Errorf("Neighbor(Up) = %q, want 0", n.Neighbor(Up))
	}
	if n.HasNeighbor(Down) {
		t.Error("HasNeighbor(Down) = true for empty apprentice")
	}
	if Up.Opposite() != Down || Down.Opposite() != Up {
		t.Error("Opposite mismatch")
	}
	if Up.Step() != -1 || Down.Step() != 1 {
		t.Error("Step mismatch")
	}
	if Up.String() != "up" || Down.String() != "down" {
		t.Errorf("String = %s/%s", Up, Down)
	}
}
