package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSVHeader is the column order of roster files.
var CSVHeader = []string{"id", "name", "homeworld_id", "homeworld", "master_id", "apprentice_id"}

// CSVReader reads roster rows one at a time.
type CSVReader struct {
	r    *csv.Reader
	cols map[string]int
	line int
}

// NewCSVReader reads and checks the header. Columns may appear in any order;
// id and name are required.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"id", "name"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("invalid header: missing %q column, got %v", need, header)
		}
	}
	return &CSVReader{r: cr, cols: cols, line: 1}, nil
}

// Next returns the next valid record, io.EOF at the end, or a row error the
// caller may skip past.
func (c *CSVReader) Next() (Record, error) {
	row, err := c.r.Read()
	c.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("line %d: %w", c.line, err)
	}
	rec := Record{
		ID:           c.field(row, "id"),
		Name:         c.field(row, "name"),
		HomeworldID:  c.field(row, "homeworld_id"),
		Homeworld:    c.field(row, "homeworld"),
		MasterID:     c.field(row, "master_id"),
		ApprenticeID: c.field(row, "apprentice_id"),
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("line %d: %w", c.line, err)
	}
	return rec, nil
}

func (c *CSVReader) field(row []string, name string) string {
	i, ok := c.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadCSV reads every row and fails on the first bad one.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr, err := NewCSVReader(r)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// WriteCSV writes recs with CSVHeader.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range recs {
		row := []string{r.ID, r.Name, r.HomeworldID, r.Homeworld, r.MasterID, r.ApprenticeID}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
