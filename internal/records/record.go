// Package records is the persistent roster behind the reference chain service.
//
// A Repository holds Records keyed by id. The memory backend serves tests and
// the built-in roster; the SQL backend stores the same rows in SQLite or
// Postgres. Roster files move in and out as CSV (see ReadCSV and WriteCSV).
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/freeeve/lineage/internal/chain"
)

// ErrNotFound is returned by Get when no record has the id.
var ErrNotFound = errors.New("record not found")

// Record is one member of the lineage as the service stores it.
type Record struct {
	ID           string
	Name         string
	HomeworldID  string
	Homeworld    string
	MasterID     string // empty ends the chain upward
	ApprenticeID string // empty ends the chain downward
}

// Validate checks the fields every stored record must carry.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record: empty id")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("record %s: empty name", r.ID)
	}
	if r.MasterID == r.ID || r.ApprenticeID == r.ID {
		return fmt.Errorf("record %s: links to itself", r.ID)
	}
	return nil
}

// Node converts the record to a chain node (Position left at zero).
func (r Record) Node() chain.Node {
	return chain.Node{
		ID:           r.ID,
		Name:         r.Name,
		Location:     r.Homeworld,
		MasterID:     r.MasterID,
		ApprenticeID: r.ApprenticeID,
	}
}

// Repository stores records. Put overwrites an existing id in place.
type Repository interface {
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, recs ...Record) error
	Len(ctx context.Context) (int, error)
	All(ctx context.Context) ([]Record, error)
	Close() error
}

// World is a distinct homeworld across a roster.
type World struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Worlds returns the distinct homeworlds of recs sorted by name.
func Worlds(recs []Record) []World {
	seen := make(map[string]World)
	for _, r := range recs {
		if r.Homeworld == "" {
			continue
		}
		if _, ok := seen[r.Homeworld]; !ok {
			seen[r.Homeworld] = World{ID: r.HomeworldID, Name: r.Homeworld}
		}
	}
	out := make([]World, 0, len(seen))
	for _, w := range seen {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load copies recs into repo after validating every one.
func Load(ctx context.Context, repo Repository, recs []Record) error {
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if err := repo.Put(ctx, recs...); err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	return nil
}
