package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/freeeve/lineage/internal/records"
	"github.com/freeeve/lineage/internal/remote"
)

// ToRecordResponse converts a stored record to the wire shape, linking
// neighbors under base.
func ToRecordResponse(rec records.Record, base string) remote.Record {
	return remote.Record{
		ID:   remote.ID(rec.ID),
		Name: rec.Name,
		Homeworld: remote.World{
			ID:   remote.ID(rec.HomeworldID),
			Name: rec.Homeworld,
		},
		Master:     link(base, rec.MasterID),
		Apprentice: link(base, rec.ApprenticeID),
	}
}

func link(base, id string) remote.Link {
	if id == "" {
		return remote.Link{}
	}
	u := strings.TrimRight(base, "/") + recordPrefix + id
	return remote.Link{URL: &u, ID: remote.ID(id)}
}

// locationMessage is one push on the location feed.
type locationMessage struct {
	ID   remote.ID `json:"id"`
	Name string    `json:"name"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// splitPath splits a URL path into non-empty parts.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
