package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/freeeve/lineage/internal/loader"
)

// render writes one frame for s. eol is "\r\n" while the terminal is raw.
func render(w io.Writer, s loader.Snapshot, eol string) {
	loc := s.CurrentLocation
	if loc == "" {
		loc = "unknown"
	}
	fmt.Fprintf(w, "Obi-Wan currently on %s%s", loc, eol)
	fmt.Fprintf(w, "%s%s", strings.Repeat("-", 40), eol)
	for _, slot := range s.Slots {
		marker := "  "
		if slot.Highlight {
			marker = "* "
		}
		if slot.Node == nil {
			fmt.Fprintf(w, "%s%4d  %s%s", marker, slot.Position, pending(s, slot.Position), eol)
			continue
		}
		fmt.Fprintf(w, "%s%4d  %-24s %s%s", marker, slot.Position, slot.Node.Name, "Homeworld: "+slot.Node.Location, eol)
	}
	fmt.Fprintf(w, "%s%s", strings.Repeat("-", 40), eol)
	fmt.Fprintf(w, "[%s] up  [%s] down  entities: %d%s",
		enabled(s.CanScrollUp), enabled(s.CanScrollDown), s.Entities, eol)
}

func pending(s loader.Snapshot, pos int) string {
	for _, p := range s.Fetching {
		if p == pos {
			return "loading..."
		}
	}
	if s.UpEnd != nil && pos < *s.UpEnd {
		return ""
	}
	if s.DownEnd != nil && pos > *s.DownEnd {
		return ""
	}
	return "..."
}

func enabled(ok bool) string {
	if ok {
		return "x"
	}
	return " "
}
