package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/hupe1980/vecbridge/engine/filter"
)

// tableState is the mutable core shared by both backends: the schema, the
// retained record batches, and the index registry. persist, when set, is
// invoked under the write lock after every mutation.
type tableState struct {
	mu      sync.RWMutex
	name    string
	schema  *arrow.Schema
	records []arrow.Record
	indices map[string]IndexInfo // keyed by column
	persist func(ctx context.Context, schema *arrow.Schema, records []arrow.Record) error
}

func newTableState(name string, schema *arrow.Schema) *tableState {
	return &tableState{
		name:    name,
		schema:  schema,
		indices: make(map[string]IndexInfo),
	}
}

func (s *tableState) Schema() *arrow.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

func (s *tableState) CountRows() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.records {
		n += rec.NumRows()
	}
	return n
}

// Snapshot returns the current batches, retained for the caller.
func (s *tableState) Snapshot() (*arrow.Schema, []arrow.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]arrow.Record, len(s.records))
	for i, rec := range s.records {
		rec.Retain()
		recs[i] = rec
	}
	return s.schema, recs
}

func (s *tableState) Add(ctx context.Context, rec arrow.Record, mode AddMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !rec.Schema().Equal(s.schema) {
		return &SchemaMismatchError{
			Table:  s.name,
			Reason: "batch schema does not match table schema",
		}
	}

	rec.Retain()
	switch mode {
	case AddModeOverwrite:
		for _, old := range s.records {
			old.Release()
		}
		s.records = []arrow.Record{rec}
	default:
		s.records = append(s.records, rec)
	}

	return s.persistLocked(ctx)
}

// Delete removes rows matching the predicate and reports how many were
// removed. Batches left empty by the deletion are dropped.
func (s *tableState) Delete(ctx context.Context, predicate string) (int64, error) {
	pred, err := filter.Parse(predicate)
	if err != nil {
		return 0, err
	}
	if pred == nil {
		return 0, ErrEmptyPredicate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := make([]arrow.Record, 0, len(s.records))
	for _, rec := range s.records {
		sel, err := pred.Eval(rec)
		if err != nil {
			releaseAll(kept)
			return 0, err
		}
		if sel.IsEmpty() {
			rec.Retain()
			kept = append(kept, rec)
			continue
		}
		deleted += int64(sel.GetCardinality())

		remaining := make([]uint32, 0, int(rec.NumRows())-int(sel.GetCardinality()))
		for row := uint32(0); row < uint32(rec.NumRows()); row++ {
			if !sel.Contains(row) {
				remaining = append(remaining, row)
			}
		}
		if len(remaining) == 0 {
			continue
		}
		out, err := takeRows(rec, remaining, allFieldIndices(s.schema), nil)
		if err != nil {
			releaseAll(kept)
			return 0, err
		}
		kept = append(kept, out)
	}

	for _, old := range s.records {
		old.Release()
	}
	s.records = kept
	return deleted, s.persistLocked(ctx)
}

func (s *tableState) CreateIndex(spec IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.schema.FieldIndices(spec.Column)
	if len(idx) == 0 {
		return &UnknownColumnError{Column: spec.Column}
	}

	indexType := strings.ToUpper(spec.Type)
	if indexType == "IVF_PQ" {
		field := s.schema.Field(idx[0])
		if _, ok := vectorElemType(field.Type); !ok {
			return &IndexError{
				Table:  s.name,
				Column: spec.Column,
				Reason: "IVF_PQ requires a fixed-size list of float32",
			}
		}
	}

	if _, exists := s.indices[spec.Column]; exists && !spec.Replace {
		return &IndexError{
			Table:  s.name,
			Column: spec.Column,
			Reason: "index already exists and replace is false",
		}
	}

	s.indices[spec.Column] = IndexInfo{
		Name:    spec.Column + "_idx",
		Type:    indexType,
		Columns: []string{spec.Column},
	}
	return nil
}

func (s *tableState) ListIndices() []IndexInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]IndexInfo, 0, len(s.indices))
	for _, info := range s.indices {
		out = append(out, info)
	}
	// Map iteration order is not stable; listings are.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *tableState) persistLocked(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	return s.persist(ctx, s.schema, s.records)
}

func releaseAll(recs []arrow.Record) {
	for _, rec := range recs {
		rec.Release()
	}
}

// stateTable adapts a tableState to the Table interface.
type stateTable struct {
	state *tableState
}

func (t *stateTable) Name() string { return t.state.name }

func (t *stateTable) Schema(ctx context.Context) (*arrow.Schema, error) {
	return t.state.Schema(), nil
}

func (t *stateTable) CountRows(ctx context.Context) (int64, error) {
	return t.state.CountRows(), nil
}

func (t *stateTable) Add(ctx context.Context, rec arrow.Record, mode AddMode) error {
	return t.state.Add(ctx, rec, mode)
}

func (t *stateTable) Delete(ctx context.Context, predicate string) (int64, error) {
	return t.state.Delete(ctx, predicate)
}

func (t *stateTable) Scan(ctx context.Context, spec ScanSpec) (RecordStream, error) {
	schema, records := t.state.Snapshot()
	return newScanStream(ctx, schema, records, spec)
}

func (t *stateTable) CreateIndex(ctx context.Context, spec IndexSpec) error {
	return t.state.CreateIndex(spec)
}

func (t *stateTable) ListIndices(ctx context.Context) ([]IndexInfo, error) {
	return t.state.ListIndices(), nil
}

func (t *stateTable) Close() error { return nil }
