// Package entity holds every chain node ever fetched, keyed by id.
//
// The store is the system of record for observed nodes and is independent of
// what is currently visible: entries are never removed. It is not safe for
// concurrent use; the loader's event loop is its only writer.
package entity

import "github.com/freeeve/lineage/internal/chain"

// Store is an append-only id to node cache.
type Store struct {
	byID  map[string]chain.Node
	order []string // insertion order, each id once
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string]chain.Node),
		order: make([]string, 0),
	}
}

// Upsert adds node or replaces the record already held for its id. A
// re-delivered id keeps its original slot in the insertion order.
func (s *Store) Upsert(node chain.Node) {
	if _, exists := s.byID[node.ID]; !exists {
		s.order = append(s.order, node.ID)
	}
	s.byID[node.ID] = node
}

// Get returns the node stored under id.
func (s *Store) Get(id string) (chain.Node, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// Len returns the number of distinct nodes held.
func (s *Store) Len() int { return len(s.order) }

// IDs returns a copy of the ids in insertion order.
func (s *Store) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
