package vecbridge

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/goccy/go-json"

	"github.com/hupe1980/vecbridge/distance"
	"github.com/hupe1980/vecbridge/engine"
	"github.com/hupe1980/vecbridge/internal/task"
)

// AddMode selects how Add applies a batch.
type AddMode = engine.AddMode

const (
	// AddModeAppend adds rows to the tail of the table.
	AddModeAppend = engine.AddModeAppend
	// AddModeOverwrite atomically replaces all rows.
	AddModeOverwrite = engine.AddModeOverwrite
)

// AddModeFromCode maps the wire encoding (0 append, 1 overwrite) to an
// AddMode.
func AddModeFromCode(code int) (AddMode, error) {
	switch code {
	case 0:
		return AddModeAppend, nil
	case 1:
		return AddModeOverwrite, nil
	default:
		return 0, invalidArgument("unknown add mode %d", code)
	}
}

// MetricFromCode maps the wire encoding (0 l2, 1 cosine, 2 dot) to a
// distance metric.
func MetricFromCode(code int) (distance.Metric, error) {
	m, ok := distance.FromCode(code)
	if !ok {
		return 0, invalidArgument("unknown distance metric %d", code)
	}
	return m, nil
}

// IndexOptions describe an index build request.
type IndexOptions struct {
	// Column is the column to index.
	Column string
	// Type is "IVF_PQ" or "AUTO", case-insensitive.
	Type string
	// Metric ranks vectors during index probes.
	Metric distance.Metric
	// NumPartitions and NumSubVectors tune IVF_PQ; zero picks defaults.
	NumPartitions int
	NumSubVectors int
	// Replace drops an existing index on the same column first.
	Replace bool
}

// Table is a handle to a single table. The handle stays valid across Add
// calls in both modes.
type Table struct {
	tbl    engine.Table
	logger *Logger
	closed atomic.Bool
}

func newTable(tbl engine.Table, logger *Logger) *Table {
	return &Table{tbl: tbl, logger: logger.WithTable(tbl.Name())}
}

// Name returns the table name.
func (t *Table) Name() string { return t.tbl.Name() }

// Schema returns the table schema.
func (t *Table) Schema() (*arrow.Schema, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	schema, err := task.Block(func(ctx context.Context) (*arrow.Schema, error) {
		return t.tbl.Schema(ctx)
	})
	return schema, Classify(err)
}

// CountRows returns the number of rows in the table.
func (t *Table) CountRows() (int64, error) {
	if err := t.guard(); err != nil {
		return 0, err
	}
	n, err := task.Block(func(ctx context.Context) (int64, error) {
		return t.tbl.CountRows(ctx)
	})
	return n, Classify(err)
}

// Add ingests one batch. The batch schema must match the table schema.
func (t *Table) Add(rec arrow.Record, mode AddMode) error {
	if err := t.guard(); err != nil {
		return err
	}
	if rec == nil {
		return invalidArgument("record is nil")
	}

	_, err := task.Block(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.tbl.Add(ctx, rec, mode)
	})
	t.logger.LogAdd(context.Background(), rec.NumRows(), mode == AddModeOverwrite, err)
	return Classify(err)
}

// Delete removes rows matching the predicate and reports how many were
// removed. An empty predicate is rejected.
func (t *Table) Delete(predicate string) (int64, error) {
	if err := t.guard(); err != nil {
		return 0, err
	}

	n, err := task.Block(func(ctx context.Context) (int64, error) {
		return t.tbl.Delete(ctx, predicate)
	})
	t.logger.LogDelete(context.Background(), predicate, n, err)
	return n, Classify(err)
}

// ToArrow materializes the table contents as record batches. limit < 0
// exports everything. Returned records are retained; the caller releases
// them.
func (t *Table) ToArrow(limit int) ([]arrow.Record, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}

	recs, err := task.Block(func(ctx context.Context) ([]arrow.Record, error) {
		stream, err := t.tbl.Scan(ctx, engine.ScanSpec{Limit: limit})
		if err != nil {
			return nil, err
		}
		return drainStream(ctx, stream)
	})
	return recs, Classify(err)
}

// CreateIndex builds an index over one column. Index types "IVF_PQ" and
// "AUTO" are accepted, case-insensitive.
func (t *Table) CreateIndex(opts IndexOptions) error {
	if err := t.guard(); err != nil {
		return err
	}

	indexType := strings.ToUpper(opts.Type)
	switch indexType {
	case "IVF_PQ", "AUTO":
	default:
		return invalidArgument("unknown index type %q", opts.Type)
	}
	if !opts.Metric.Valid() {
		return invalidArgument("unknown distance metric %d", opts.Metric)
	}
	if opts.NumPartitions < 0 || opts.NumSubVectors < 0 {
		return invalidArgument("index parameters must be non-negative")
	}

	_, err := task.Block(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.tbl.CreateIndex(ctx, engine.IndexSpec{
			Column:        opts.Column,
			Type:          indexType,
			Metric:        opts.Metric,
			NumPartitions: opts.NumPartitions,
			NumSubVectors: opts.NumSubVectors,
			Replace:       opts.Replace,
		})
	})
	t.logger.LogCreateIndex(context.Background(), opts.Column, indexType, err)
	return Classify(err)
}

// IndexInfo describes an existing index.
type IndexInfo = engine.IndexInfo

// Indices returns the table's indices sorted by name. The slice is never
// nil.
func (t *Table) Indices() ([]IndexInfo, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}

	infos, err := task.Block(func(ctx context.Context) ([]engine.IndexInfo, error) {
		return t.tbl.ListIndices(ctx)
	})
	if err != nil {
		return nil, Classify(err)
	}
	if infos == nil {
		infos = []engine.IndexInfo{}
	}
	return infos, nil
}

// ListIndices returns the table's indices as a JSON array of objects with
// "name", "type" and "columns" fields, sorted by name.
func (t *Table) ListIndices() (string, error) {
	infos, err := t.Indices()
	if err != nil {
		return "", err
	}

	buf, err := json.Marshal(infos)
	if err != nil {
		return "", &Error{Kind: KindOther, Message: err.Error(), cause: err}
	}
	return string(buf), nil
}

// Query starts a new query against this table.
func (t *Table) Query() *Query {
	return newQuery(t)
}

// Close releases the table handle. Close is idempotent.
func (t *Table) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return Classify(t.tbl.Close())
}

func (t *Table) guard() error {
	if t.closed.Load() {
		return invalidArgument("table is closed")
	}
	return nil
}

func drainStream(ctx context.Context, stream engine.RecordStream) ([]arrow.Record, error) {
	defer stream.Close()

	var out []arrow.Record
	for {
		rec, err := stream.Next(ctx)
		if err != nil {
			if isEOF(err) {
				return out, nil
			}
			for _, r := range out {
				r.Release()
			}
			return nil, err
		}
		out = append(out, rec)
	}
}
