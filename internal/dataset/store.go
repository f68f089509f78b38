package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
)

// DefaultLimit is how many leading rows are addressable by index.
const DefaultLimit = 500

var ErrRowOutOfRange = errors.New("row index out of range")

// Store is a read-only, in-memory view over the first rows of the dataset.
type Store struct {
	columns []string
	rows    []*Record
}

// Load reads a CSV file with a header row and keeps the first limit rows.
func Load(path string, limit int) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	s, err := Read(f, limit)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	slog.Info("Dataset loaded", "path", path, "rows", s.Len(), "columns", len(s.columns))
	return s, nil
}

// Read parses CSV from r. Rows shorter than the header leave the trailing
// columns missing rather than failing the load.
func Read(r io.Reader, limit int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("dataset is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	s := &Store{columns: header}
	for len(s.rows) < limit {
		line, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(s.rows)+1, err)
		}

		raw := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(line) {
				raw[col] = line[i]
			}
		}
		s.rows = append(s.rows, NewRecord(len(s.rows), raw))
	}
	return s, nil
}

// FromRecords builds a store over already-constructed records.
func FromRecords(records ...*Record) *Store {
	s := &Store{}
	for i, r := range records {
		r.Index = i
		s.rows = append(s.rows, r)
	}
	return s
}

func (s *Store) Len() int {
	return len(s.rows)
}

func (s *Store) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Row returns the record at index i.
func (s *Store) Row(i int) (*Record, error) {
	if i < 0 || i >= len(s.rows) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrRowOutOfRange, i, len(s.rows))
	}
	return s.rows[i], nil
}

// RandomOther picks a random index different from current. With fewer than
// two rows it returns current unchanged.
func (s *Store) RandomOther(current int, rnd *rand.Rand) int {
	n := len(s.rows)
	if n < 2 {
		return current
	}
	if current < 0 || current >= n {
		return rnd.Intn(n)
	}
	// draw from the n-1 other slots
	next := rnd.Intn(n - 1)
	if next >= current {
		next++
	}
	return next
}
