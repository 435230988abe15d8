package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/freeeve/lineage/internal/chain"
)

// ID is a record id that may arrive as a JSON number, string or null.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if v, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(v, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Link points at a neighbor record. A null id ends the chain.
type Link struct {
	URL *string `json:"url"`
	ID  ID      `json:"id"`
}

// World is the location a record belongs to.
type World struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Record is the wire shape of GET /dark-jedis/{id}.
type Record struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	Homeworld  World  `json:"homeworld"`
	Master     Link   `json:"master"`
	Apprentice Link   `json:"apprentice"`
}

// Node converts the record to a chain node (Position left at zero).
func (r Record) Node() chain.Node {
	return chain.Node{
		ID:           string(r.ID),
		Name:         r.Name,
		Location:     r.Homeworld.Name,
		MasterID:     string(r.Master.ID),
		ApprenticeID: string(r.Apprentice.ID),
	}
}

func (r Record) validate() error {
	if r.ID == "" {
		return fmt.Errorf("record without id")
	}
	return nil
}
