package pivot

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Info summarizes a registered dataset for clients: its opaque handle, the
// schema split into dimension and measure candidates, and the row count.
type Info struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	Dimensions []string `json:"dimensions"`
	Measures   []string `json:"measures"`
	RowCount   int      `json:"rowCount"`
}

// Store keeps uploaded datasets in memory behind opaque uuid handles with
// caller-controlled lifetime. The engine itself holds no process-wide
// state; a Store is an explicit collaborator owned by whoever uploads the
// data. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	datasets map[string]storedDataset
	order    []string
}

type storedDataset struct {
	info Info
	data Dataset
}

// NewStore creates an empty dataset store.
func NewStore() *Store {
	return &Store{datasets: make(map[string]storedDataset)}
}

// Add registers a dataset under a fresh handle and returns its summary.
// Dimension candidates are the non-numeric columns; measure candidates the
// numeric ones, falling back to every column when none is numeric.
func (s *Store) Add(name string, ds Dataset) Info {
	columns := ds.Schema()
	measures := ds.NumericColumns()
	measureSet := make(map[string]bool, len(measures))
	for _, m := range measures {
		measureSet[m] = true
	}
	var dimensions []string
	for _, column := range columns {
		if !measureSet[column] {
			dimensions = append(dimensions, column)
		}
	}

	info := Info{
		ID:         uuid.NewString(),
		Name:       name,
		Columns:    columns,
		Dimensions: dimensions,
		Measures:   measures,
		RowCount:   len(ds),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[info.ID] = storedDataset{info: info, data: ds}
	s.order = append(s.order, info.ID)
	return info
}

// Get returns the dataset and summary behind a handle.
func (s *Store) Get(id string) (Dataset, Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.datasets[id]
	if !ok {
		return nil, Info{}, newPivotErrorf("dataset %q was not found or has expired", id)
	}
	return stored.data, stored.info, nil
}

// IDs lists the registered handles in registration order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Remove drops a dataset. Removing an unknown handle is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return
	}
	delete(s.datasets, id)
	for i, handle := range s.order {
		if handle == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// FilterValues returns the distinct values of one column as strings, in
// natural order, for building filter pickers.
func (s *Store) FilterValues(id, column string) ([]string, error) {
	ds, _, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var values []string
	for _, row := range ds {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		rendered := valueString(v)
		if !seen[rendered] {
			seen[rendered] = true
			values = append(values, rendered)
		}
	}
	collator := newValueComparator()
	sort.SliceStable(values, func(i, j int) bool {
		return collator.collator.CompareString(values[i], values[j]) < 0
	})
	return values, nil
}
