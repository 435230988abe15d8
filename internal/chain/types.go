package chain

import "fmt"

// Node is one record of the lineage. MasterID and ApprenticeID are empty when
// the chain ends on that side.
type Node struct {
	ID           string `json:"id"`
	Position     int    `json:"position"` // assigned by the loader, 0 is the anchor
	Name         string `json:"name"`
	Location     string `json:"location"`
	MasterID     string `json:"master_id,omitempty"`
	ApprenticeID string `json:"apprentice_id,omitempty"`
}

// Direction is the way the chain is walked.
type Direction uint8

const (
	Up   Direction = iota // toward decreasing positions, via MasterID
	Down                  // toward increasing positions, via ApprenticeID
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

// Step is the position delta of one hop in d.
func (d Direction) Step() int {
	if d == Up {
		return -1
	}
	return 1
}

// Neighbor returns the id of n's neighbor in d ("" at a chain boundary).
func (n Node) Neighbor(d Direction) string {
	if d == Up {
		return n.MasterID
	}
	return n.ApprenticeID
}

// HasNeighbor reports whether the chain continues past n in d.
func (n Node) HasNeighbor(d Direction) bool {
	return n.Neighbor(d) != ""
}
