package engine

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecbridge/distance"
	"github.com/hupe1980/vecbridge/engine/filter"
)

// newScanStream builds a RecordStream over a snapshot of retained records.
// The stream takes ownership of the snapshot and releases it on Close or
// exhaustion.
func newScanStream(ctx context.Context, schema *arrow.Schema, records []arrow.Record, spec ScanSpec) (RecordStream, error) {
	fieldIdx, identity, err := resolveColumns(schema, spec.Columns)
	if err != nil {
		releaseAll(records)
		return nil, err
	}

	pred, err := filter.Parse(spec.Filter)
	if err != nil {
		releaseAll(records)
		return nil, err
	}

	if spec.Vector != nil {
		out, err := runVectorScan(ctx, schema, records, spec, pred, fieldIdx)
		releaseAll(records)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return &sliceStream{}, nil
		}
		return &sliceStream{records: []arrow.Record{out}}, nil
	}

	limit := int64(-1)
	if spec.Limit >= 0 {
		limit = int64(spec.Limit)
	}
	return &plainStream{
		records:  records,
		pred:     pred,
		fieldIdx: fieldIdx,
		identity: identity,
		offset:   int64(spec.Offset),
		limit:    limit,
	}, nil
}

// plainStream yields one output batch per input batch, after filter,
// projection, offset, and limit.
type plainStream struct {
	records  []arrow.Record
	pred     *filter.Predicate
	fieldIdx []int
	identity bool
	offset   int64
	limit    int64 // -1 means unlimited
	pos      int
	closed   bool
}

func (s *plainStream) Next(ctx context.Context) (arrow.Record, error) {
	if s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for s.pos < len(s.records) {
		if s.limit == 0 {
			break
		}
		rec := s.records[s.pos]
		s.pos++

		out, err := s.nextFrom(rec)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}

	s.release()
	return nil, io.EOF
}

func (s *plainStream) nextFrom(rec arrow.Record) (arrow.Record, error) {
	// Unfiltered identity scans slice the source batch without copying.
	if s.pred == nil && s.identity {
		n := rec.NumRows()
		if s.offset >= n {
			s.offset -= n
			return nil, nil
		}
		start := s.offset
		s.offset = 0
		end := n
		if s.limit >= 0 && end-start > s.limit {
			end = start + s.limit
		}
		if s.limit >= 0 {
			s.limit -= end - start
		}
		if start == end {
			return nil, nil
		}
		if start == 0 && end == n {
			rec.Retain()
			return rec, nil
		}
		return rec.NewSlice(start, end), nil
	}

	sel, err := s.pred.Eval(rec)
	if err != nil {
		return nil, err
	}
	rows := sel.ToArray()

	if s.offset >= int64(len(rows)) {
		s.offset -= int64(len(rows))
		return nil, nil
	}
	rows = rows[s.offset:]
	s.offset = 0

	if s.limit >= 0 && int64(len(rows)) > s.limit {
		rows = rows[:s.limit]
	}
	if s.limit >= 0 {
		s.limit -= int64(len(rows))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return takeRows(rec, rows, s.fieldIdx, nil)
}

func (s *plainStream) Close() error {
	s.release()
	return nil
}

func (s *plainStream) release() {
	if s.closed {
		return
	}
	s.closed = true
	releaseAll(s.records)
	s.records = nil
}

// sliceStream yields an already-materialized list of batches.
type sliceStream struct {
	records []arrow.Record
	pos     int
}

func (s *sliceStream) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.records[s.pos] = nil
	s.pos++
	return rec, nil
}

func (s *sliceStream) Close() error {
	for ; s.pos < len(s.records); s.pos++ {
		if s.records[s.pos] != nil {
			s.records[s.pos].Release()
		}
	}
	return nil
}

type candidate struct {
	batch int
	row   uint32
	dist  float32
}

// runVectorScan ranks all rows by distance to the query vector and
// materializes the winners into a single batch with a trailing _distance
// column. Returns nil when nothing matched.
func runVectorScan(ctx context.Context, schema *arrow.Schema, records []arrow.Record, spec ScanSpec, pred *filter.Predicate, fieldIdx []int) (arrow.Record, error) {
	dim := len(spec.Vector)
	vecIdx := -1
	for i, f := range schema.Fields() {
		if d, ok := vectorElemType(f.Type); ok && d == dim {
			vecIdx = i
			break
		}
	}
	if vecIdx < 0 {
		return nil, &NoVectorColumnError{Dim: dim}
	}

	distFn, ok := distance.Provider(spec.Metric)
	if !ok {
		return nil, fmt.Errorf("engine: unsupported metric %d", spec.Metric)
	}

	// Distance ranking is embarrassingly parallel across batches.
	perBatch := make([][]candidate, len(records))
	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sel, err := pred.Eval(rec)
			if err != nil {
				return err
			}
			col, ok := rec.Column(vecIdx).(*array.FixedSizeList)
			if !ok {
				return &UnsupportedTypeError{Type: rec.Column(vecIdx).DataType().String()}
			}
			cands := make([]candidate, 0, sel.GetCardinality())
			it := sel.Iterator()
			for it.HasNext() {
				row := it.Next()
				if col.IsNull(int(row)) {
					continue
				}
				v := vectorAt(col, int(row), dim)
				cands = append(cands, candidate{
					batch: i,
					row:   row,
					dist:  distFn(spec.Vector, v),
				})
			}
			perBatch[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []candidate
	for _, cands := range perBatch {
		all = append(all, cands...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		if all[i].batch != all[j].batch {
			return all[i].batch < all[j].batch
		}
		return all[i].row < all[j].row
	})

	if spec.Offset > 0 {
		if spec.Offset >= len(all) {
			all = nil
		} else {
			all = all[spec.Offset:]
		}
	}
	limit := spec.Limit
	if limit < 0 {
		limit = DefaultVectorLimit
	}
	if len(all) > limit {
		all = all[:limit]
	}
	if len(all) == 0 {
		return nil, nil
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, projectedSchema(schema, fieldIdx, true))
	defer b.Release()
	distB := b.Field(len(fieldIdx)).(*array.Float32Builder)
	for _, c := range all {
		if err := appendRow(b, records[c.batch], int(c.row), fieldIdx); err != nil {
			return nil, err
		}
		distB.Append(c.dist)
	}
	return b.NewRecord(), nil
}

// takeRows copies the given rows of rec into a fresh batch over the
// projected fields. dists, when non-nil, is appended as the _distance
// column and must parallel rows.
func takeRows(rec arrow.Record, rows []uint32, fieldIdx []int, dists []float32) (arrow.Record, error) {
	b := array.NewRecordBuilder(memory.DefaultAllocator, projectedSchema(rec.Schema(), fieldIdx, dists != nil))
	defer b.Release()

	for i, row := range rows {
		if err := appendRow(b, rec, int(row), fieldIdx); err != nil {
			return nil, err
		}
		if dists != nil {
			b.Field(len(fieldIdx)).(*array.Float32Builder).Append(dists[i])
		}
	}
	return b.NewRecord(), nil
}

func appendRow(b *array.RecordBuilder, rec arrow.Record, row int, fieldIdx []int) error {
	for k, fi := range fieldIdx {
		if err := appendCell(b.Field(k), rec.Column(fi), row); err != nil {
			return err
		}
	}
	return nil
}

func appendCell(fb array.Builder, col arrow.Array, row int) error {
	if col.IsNull(row) {
		fb.AppendNull()
		return nil
	}

	switch c := col.(type) {
	case *array.Int32:
		fb.(*array.Int32Builder).Append(c.Value(row))
	case *array.Int64:
		fb.(*array.Int64Builder).Append(c.Value(row))
	case *array.Float32:
		fb.(*array.Float32Builder).Append(c.Value(row))
	case *array.Float64:
		fb.(*array.Float64Builder).Append(c.Value(row))
	case *array.String:
		fb.(*array.StringBuilder).Append(c.Value(row))
	case *array.Boolean:
		fb.(*array.BooleanBuilder).Append(c.Value(row))
	case *array.FixedSizeList:
		lb, ok := fb.(*array.FixedSizeListBuilder)
		if !ok {
			return &UnsupportedTypeError{Type: col.DataType().String()}
		}
		vb, ok := lb.ValueBuilder().(*array.Float32Builder)
		if !ok {
			return &UnsupportedTypeError{Type: col.DataType().String()}
		}
		vals, ok := c.ListValues().(*array.Float32)
		if !ok {
			return &UnsupportedTypeError{Type: col.DataType().String()}
		}
		dim := int(c.DataType().(*arrow.FixedSizeListType).Len())
		start := (row + c.Data().Offset()) * dim
		lb.Append(true)
		for i := 0; i < dim; i++ {
			if vals.IsValid(start + i) {
				vb.Append(vals.Value(start + i))
			} else {
				vb.AppendNull()
			}
		}
	default:
		return &UnsupportedTypeError{Type: col.DataType().String()}
	}
	return nil
}

// vectorAt returns the row's vector as a zero-copy view into the column.
func vectorAt(c *array.FixedSizeList, row, dim int) []float32 {
	vals := c.ListValues().(*array.Float32)
	start := (row + c.Data().Offset()) * dim
	return vals.Float32Values()[start : start+dim]
}

// vectorElemType reports the dimension of a fixed-size-list<float32> type.
func vectorElemType(dt arrow.DataType) (int, bool) {
	fsl, ok := dt.(*arrow.FixedSizeListType)
	if !ok {
		return 0, false
	}
	if fsl.Elem().ID() != arrow.FLOAT32 {
		return 0, false
	}
	return int(fsl.Len()), true
}

func projectedSchema(src *arrow.Schema, fieldIdx []int, withDistance bool) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(fieldIdx)+1)
	for _, fi := range fieldIdx {
		fields = append(fields, src.Field(fi))
	}
	if withDistance {
		fields = append(fields, arrow.Field{Name: DistanceColumn, Type: arrow.PrimitiveTypes.Float32})
	}
	return arrow.NewSchema(fields, nil)
}

// resolveColumns maps the requested projection to field indices. identity
// reports whether the projection preserves the full schema in order.
func resolveColumns(schema *arrow.Schema, columns []string) (fieldIdx []int, identity bool, err error) {
	if columns == nil {
		return allFieldIndices(schema), true, nil
	}
	fieldIdx = make([]int, 0, len(columns))
	for _, name := range columns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, false, &UnknownColumnError{Column: name}
		}
		fieldIdx = append(fieldIdx, idx[0])
	}
	identity = len(fieldIdx) == schema.NumFields()
	for i, fi := range fieldIdx {
		if fi != i {
			identity = false
			break
		}
	}
	return fieldIdx, identity, nil
}

func allFieldIndices(schema *arrow.Schema) []int {
	idx := make([]int, schema.NumFields())
	for i := range idx {
		idx[i] = i
	}
	return idx
}
