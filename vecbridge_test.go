package vecbridge_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbridge"
	"github.com/hupe1980/vecbridge/distance"
)

var uriCounter int

func freshURI(t *testing.T) string {
	t.Helper()
	uriCounter++
	return fmt.Sprintf("memory://bridge-test-%s-%d", t.Name(), uriCounter)
}

func vectorSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "v", Type: arrow.FixedSizeListOf(4, arrow.PrimitiveTypes.Float32), Nullable: true},
	}, nil)
}

func vectorBatch(t *testing.T, ids []int32, vecs [][]float32) arrow.Record {
	t.Helper()

	b := array.NewRecordBuilder(memory.DefaultAllocator, vectorSchema())
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues(ids, nil)
	vb := b.Field(1).(*array.FixedSizeListBuilder)
	fb := vb.ValueBuilder().(*array.Float32Builder)
	for _, v := range vecs {
		vb.Append(true)
		fb.AppendValues(v, nil)
	}
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func releaseAll(t *testing.T, recs []arrow.Record) {
	t.Helper()
	for _, rec := range recs {
		rec.Release()
	}
}

func TestConnectValidation(t *testing.T) {
	_, err := vecbridge.Connect("")
	requireKind(t, err, vecbridge.KindInvalidArgument)

	_, err = vecbridge.Connect("memory://ok\xff")
	requireKind(t, err, vecbridge.KindInvalidArgument)

	_, err = vecbridge.Connect("gs://nope")
	require.Error(t, err)
}

func requireKind(t *testing.T, err error, kind vecbridge.Kind) {
	t.Helper()
	var be *vecbridge.Error
	require.True(t, errors.As(err, &be), "error %v", err)
	assert.Equal(t, kind, be.Kind)
}

// Close, reopen, and list again: the memory catalog outlives the connection.
func TestCreateListReopen(t *testing.T) {
	uri := freshURI(t)

	conn, err := vecbridge.Connect(uri)
	require.NoError(t, err)

	names, err := conn.TableNames("", 0)
	require.NoError(t, err)
	assert.Empty(t, names)

	tbl, err := conn.CreateTable("t")
	require.NoError(t, err)
	assert.Equal(t, "t", tbl.Name())
	require.NoError(t, tbl.Close())

	names, err = conn.TableNames("", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, names)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close()) // idempotent

	_, err = conn.TableNames("", 0)
	requireKind(t, err, vecbridge.KindInvalidArgument)

	conn2, err := vecbridge.Connect(uri)
	require.NoError(t, err)
	names, err = conn2.TableNames("", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, names)
}

func TestDefaultSchema(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)

	tbl, err := conn.CreateTable("t")
	require.NoError(t, err)

	schema, err := tbl.Schema()
	require.NoError(t, err)
	require.Equal(t, 2, len(schema.Fields()))
	assert.Equal(t, "id", schema.Field(0).Name)
	assert.Equal(t, arrow.PrimitiveTypes.Int32, schema.Field(0).Type)
	assert.False(t, schema.Field(0).Nullable)
	assert.Equal(t, "text", schema.Field(1).Name)
	assert.Equal(t, arrow.BinaryTypes.String, schema.Field(1).Type)
	assert.True(t, schema.Field(1).Nullable)
}

func TestAppendCountAndToArrow(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	tbl, err := conn.CreateTableWithSchema("t2", schema)
	require.NoError(t, err)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues([]int32{1, 2, 3}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"Alice", "Bob", "Charlie"}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	require.NoError(t, tbl.Add(rec, vecbridge.AddModeAppend))
	n, err := tbl.CountRows()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	recs, err := tbl.ToArrow(-1)
	require.NoError(t, err)
	defer releaseAll(t, recs)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(3), recs[0].NumRows())
	assert.True(t, recs[0].Schema().Equal(schema))
	assert.Equal(t, "Charlie", recs[0].Column(1).(*array.String).Value(2))

	// Overwrite replaces all rows regardless of prior state.
	require.NoError(t, tbl.Add(rec, vecbridge.AddModeOverwrite))
	n, err = tbl.CountRows()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestVectorQuery(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTableWithSchema("t", vectorSchema())
	require.NoError(t, err)

	rec := vectorBatch(t,
		[]int32{1, 2, 3},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0.9, 0.1, 0, 0}},
	)
	require.NoError(t, tbl.Add(rec, vecbridge.AddModeAppend))

	q := tbl.Query()
	require.NoError(t, q.NearestTo([]float32{1, 0, 0, 0}))
	require.NoError(t, q.DistanceType(distance.MetricCosine))
	require.NoError(t, q.Limit(2))

	recs, err := q.Execute()
	require.NoError(t, err)
	defer releaseAll(t, recs)
	require.Len(t, recs, 1)
	out := recs[0]
	assert.LessOrEqual(t, out.NumRows(), int64(2))
	assert.Len(t, out.Schema().FieldIndices("_distance"), 1)
	assert.Equal(t, int32(1), out.Column(0).(*array.Int32).Value(0))
}

func TestQueryEmptyTable(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTable("t")
	require.NoError(t, err)

	recs, err := tbl.Query().Execute()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNearestToIsOneShot(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTableWithSchema("t", vectorSchema())
	require.NoError(t, err)

	rec := vectorBatch(t, []int32{1}, [][]float32{{1, 2, 3, 0}})
	require.NoError(t, tbl.Add(rec, vecbridge.AddModeAppend))

	q := tbl.Query()
	require.NoError(t, q.NearestTo([]float32{1, 2, 3, 0}))
	err = q.NearestTo([]float32{4, 5, 6, 0})
	requireKind(t, err, vecbridge.KindInvalidArgument)

	// The query stays usable with the first vector.
	recs, err := q.Execute()
	require.NoError(t, err)
	defer releaseAll(t, recs)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1), recs[0].NumRows())
}

func TestQueryValidation(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTable("t")
	require.NoError(t, err)

	q := tbl.Query()
	requireKind(t, q.DistanceType(distance.MetricCosine), vecbridge.KindInvalidArgument)
	requireKind(t, q.Limit(-1), vecbridge.KindInvalidArgument)
	requireKind(t, q.Offset(-1), vecbridge.KindInvalidArgument)
	requireKind(t, q.NearestTo(nil), vecbridge.KindInvalidArgument)

	require.NoError(t, q.Limit(0))
	require.NoError(t, q.Offset(0))

	recs, err := q.Execute()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// Streamed batches concatenate to the same rows a materialized execute
// returns.
func TestStreamMatchesExecute(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTableWithSchema("t", vectorSchema())
	require.NoError(t, err)

	rec := vectorBatch(t,
		[]int32{1, 2, 3},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
	)
	require.NoError(t, tbl.Add(rec, vecbridge.AddModeAppend))
	require.NoError(t, tbl.Add(rec, vecbridge.AddModeAppend))

	exec, err := tbl.Query().Execute()
	require.NoError(t, err)
	defer releaseAll(t, exec)

	stream, err := tbl.Query().ExecuteStream()
	require.NoError(t, err)

	var streamed []arrow.Record
	for {
		out, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		streamed = append(streamed, out)
	}
	defer releaseAll(t, streamed)
	require.NoError(t, stream.Close())

	var execRows, streamRows int64
	for _, r := range exec {
		execRows += r.NumRows()
	}
	for _, r := range streamed {
		streamRows += r.NumRows()
	}
	assert.Equal(t, execRows, streamRows)
	assert.Equal(t, int64(6), streamRows)

	// Next after exhaustion keeps returning EOF.
	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDelete(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTableWithSchema("t", vectorSchema())
	require.NoError(t, err)

	rec := vectorBatch(t,
		[]int32{1, 2, 3},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
	)
	require.NoError(t, tbl.Add(rec, vecbridge.AddModeAppend))

	n, err := tbl.Delete("id >= 2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := tbl.CountRows()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = tbl.Delete("")
	requireKind(t, err, vecbridge.KindInvalidArgument)
}

func TestIndices(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTableWithSchema("t", vectorSchema())
	require.NoError(t, err)

	err = tbl.CreateIndex(vecbridge.IndexOptions{Column: "v", Type: "bitmap"})
	requireKind(t, err, vecbridge.KindInvalidArgument)

	require.NoError(t, tbl.CreateIndex(vecbridge.IndexOptions{
		Column: "v",
		Type:   "ivf_pq",
		Metric: distance.MetricL2,
	}))

	out, err := tbl.ListIndices()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"v_idx","type":"IVF_PQ","columns":["v"]}]`, out)
}

func TestListIndicesEmpty(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)
	tbl, err := conn.CreateTable("t")
	require.NoError(t, err)

	out, err := tbl.ListIndices()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestErrorKinds(t *testing.T) {
	conn, err := vecbridge.Connect(freshURI(t))
	require.NoError(t, err)

	_, err = conn.OpenTable("missing")
	requireKind(t, err, vecbridge.KindNotFound)

	_, err = conn.CreateTable("t")
	require.NoError(t, err)
	_, err = conn.CreateTable("t")
	requireKind(t, err, vecbridge.KindAlreadyExists)

	_, err = conn.CreateTable(".bad")
	requireKind(t, err, vecbridge.KindInvalidName)
}

func TestModeAndMetricCodes(t *testing.T) {
	mode, err := vecbridge.AddModeFromCode(0)
	require.NoError(t, err)
	assert.Equal(t, vecbridge.AddModeAppend, mode)
	mode, err = vecbridge.AddModeFromCode(1)
	require.NoError(t, err)
	assert.Equal(t, vecbridge.AddModeOverwrite, mode)
	_, err = vecbridge.AddModeFromCode(2)
	requireKind(t, err, vecbridge.KindInvalidArgument)

	m, err := vecbridge.MetricFromCode(1)
	require.NoError(t, err)
	assert.Equal(t, distance.MetricCosine, m)
	_, err = vecbridge.MetricFromCode(7)
	requireKind(t, err, vecbridge.KindInvalidArgument)
}
