package vecbridge

import (
	"context"
	"errors"
	"io"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/hupe1980/vecbridge/distance"
	"github.com/hupe1980/vecbridge/engine"
	"github.com/hupe1980/vecbridge/internal/task"
)

// Query accumulates scan parameters against one table. A query starts plain
// and becomes a nearest-neighbor query once NearestTo is called; that
// transition happens at most once. Setters replace any previous value.
//
// A Query is not safe for concurrent use.
type Query struct {
	table   *Table
	vector  []float32
	metric  distance.Metric
	limit   int // -1 means unset
	offset  int
	filter  string
	columns []string
}

func newQuery(t *Table) *Query {
	return &Query{
		table:  t,
		metric: distance.MetricL2,
		limit:  -1,
	}
}

// NearestTo turns the query into a nearest-neighbor query ranked against
// vec. Calling it a second time is an error.
func (q *Query) NearestTo(vec []float32) error {
	if q.vector != nil {
		return invalidArgument("query already has a nearest_to vector")
	}
	if len(vec) == 0 {
		return invalidArgument("query vector is empty")
	}
	q.vector = append([]float32(nil), vec...)
	return nil
}

// DistanceType sets the ranking metric. Only valid after NearestTo.
func (q *Query) DistanceType(m distance.Metric) error {
	if q.vector == nil {
		return invalidArgument("distance type requires a nearest_to vector")
	}
	if !m.Valid() {
		return invalidArgument("unknown distance metric %d", m)
	}
	q.metric = m
	return nil
}

// Limit caps the number of result rows. Negative limits are rejected; an
// unset limit means unlimited for plain queries and the engine default for
// nearest-neighbor queries.
func (q *Query) Limit(n int) error {
	if n < 0 {
		return invalidArgument("limit must be non-negative")
	}
	q.limit = n
	return nil
}

// Offset skips the first n result rows.
func (q *Query) Offset(n int) error {
	if n < 0 {
		return invalidArgument("offset must be non-negative")
	}
	q.offset = n
	return nil
}

// Filter restricts results to rows matching the predicate.
func (q *Query) Filter(predicate string) {
	q.filter = predicate
}

// Select restricts result columns to the given names, in the given order.
func (q *Query) Select(columns []string) {
	q.columns = append([]string(nil), columns...)
}

func (q *Query) spec() engine.ScanSpec {
	return engine.ScanSpec{
		Filter:  q.filter,
		Columns: q.columns,
		Limit:   q.limit,
		Offset:  q.offset,
		Vector:  q.vector,
		Metric:  q.metric,
	}
}

// Execute runs the query and returns all result batches. Returned records
// are retained; the caller releases them.
func (q *Query) Execute() ([]arrow.Record, error) {
	if err := q.table.guard(); err != nil {
		return nil, err
	}

	recs, err := task.Block(func(ctx context.Context) ([]arrow.Record, error) {
		stream, err := q.table.tbl.Scan(ctx, q.spec())
		if err != nil {
			return nil, err
		}
		return drainStream(ctx, stream)
	})
	q.table.logger.LogQuery(context.Background(), q.vector != nil, len(recs), err)
	return recs, Classify(err)
}

// ExecuteStream runs the query and returns the result batches one at a
// time.
func (q *Query) ExecuteStream() (*Stream, error) {
	if err := q.table.guard(); err != nil {
		return nil, err
	}

	stream, err := task.Block(func(ctx context.Context) (engine.RecordStream, error) {
		return q.table.tbl.Scan(ctx, q.spec())
	})
	if err != nil {
		q.table.logger.LogQuery(context.Background(), q.vector != nil, 0, err)
		return nil, Classify(err)
	}
	return &Stream{inner: stream}, nil
}

// Stream yields query result batches. Next returns io.EOF after the final
// batch; returned records are retained for the caller.
type Stream struct {
	inner engine.RecordStream
	done  bool
}

// Next returns the next batch, or io.EOF when the stream is exhausted.
func (s *Stream) Next() (arrow.Record, error) {
	if s.done {
		return nil, io.EOF
	}
	rec, err := task.Block(func(ctx context.Context) (arrow.Record, error) {
		return s.inner.Next(ctx)
	})
	if err != nil {
		s.done = true
		if isEOF(err) {
			return nil, io.EOF
		}
		return nil, Classify(err)
	}
	return rec, nil
}

// Close releases the stream and any unconsumed batches.
func (s *Stream) Close() error {
	s.done = true
	return Classify(s.inner.Close())
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
