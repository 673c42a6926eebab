package capi

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/cdata"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbridge"
)

var uriCounter int

func freshURI(t *testing.T) string {
	t.Helper()
	uriCounter++
	return fmt.Sprintf("memory://capi-test-%s-%d", t.Name(), uriCounter)
}

func plainSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
}

func plainBatch(t *testing.T, ids []int32, names []string) arrow.Record {
	t.Helper()

	b := array.NewRecordBuilder(memory.DefaultAllocator, plainSchema())
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues(ids, nil)
	b.Field(1).(*array.StringBuilder).AppendValues(names, nil)
	return b.NewRecord()
}

func vecSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "v", Type: arrow.FixedSizeListOf(4, arrow.PrimitiveTypes.Float32), Nullable: true},
	}, nil)
}

func vecBatch(t *testing.T, ids []int32, vecs [][]float32) arrow.Record {
	t.Helper()

	b := array.NewRecordBuilder(memory.DefaultAllocator, vecSchema())
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues(ids, nil)
	vb := b.Field(1).(*array.FixedSizeListBuilder)
	fb := vb.ValueBuilder().(*array.Float32Builder)
	for _, v := range vecs {
		vb.Append(true)
		fb.AppendValues(v, nil)
	}
	return b.NewRecord()
}

// addBatch pushes rec through the interchange slots the way a foreign
// caller would.
func addBatch(t *testing.T, table uintptr, rec arrow.Record, mode int) {
	t.Helper()

	var carr cdata.CArrowArray
	var csch cdata.CArrowSchema
	require.NoError(t, exportRecord(rec, unsafe.Pointer(&carr), unsafe.Pointer(&csch)))
	rec.Release()

	require.NoError(t, doTableAdd(table, unsafe.Pointer(&carr), unsafe.Pointer(&csch), mode))
	// The array slot was moved out and zeroed; only the schema remains ours.
	releaseSchema(unsafe.Pointer(&csch))
	releaseArray(unsafe.Pointer(&carr)) // no-op after the move
}

func TestLastErrorSlot(t *testing.T) {
	setLastError(fmt.Errorf("boom"))
	assert.Contains(t, lastError(), "boom")

	setLastError(vecbridge.NewError(vecbridge.KindInvalidArgument, "bad limit"))
	assert.Contains(t, lastError(), "Invalid argument")
	assert.Contains(t, lastError(), "bad limit")
}

func TestRecordRoundTrip(t *testing.T) {
	rec := plainBatch(t, []int32{1, 2, 3}, []string{"Alice", "Bob", "Charlie"})
	defer rec.Release()

	var carr cdata.CArrowArray
	var csch cdata.CArrowSchema
	require.NoError(t, exportRecord(rec, unsafe.Pointer(&carr), unsafe.Pointer(&csch)))

	got, err := importRecord(unsafe.Pointer(&carr), unsafe.Pointer(&csch))
	require.NoError(t, err)
	defer got.Release()
	releaseSchema(unsafe.Pointer(&csch))

	assert.True(t, got.Schema().Equal(rec.Schema()))
	assert.Equal(t, rec.NumRows(), got.NumRows())
	assert.Equal(t, rec.NumCols(), got.NumCols())
	assert.Equal(t, int32(2), got.Column(0).(*array.Int32).Value(1))
	assert.Equal(t, "Charlie", got.Column(1).(*array.String).Value(2))

	// The array slot was zeroed on import; releasing it again is a no-op.
	releaseArray(unsafe.Pointer(&carr))
}

func TestSchemaRoundTrip(t *testing.T) {
	schema := vecSchema()

	var csch cdata.CArrowSchema
	require.NoError(t, exportSchema(schema, unsafe.Pointer(&csch)))

	got, err := importSchema(unsafe.Pointer(&csch))
	require.NoError(t, err)
	releaseSchema(unsafe.Pointer(&csch))

	assert.True(t, got.Equal(schema))
}

func TestImportNullGuards(t *testing.T) {
	_, err := importRecord(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")

	_, err = importSchema(nil)
	require.Error(t, err)

	rec := plainBatch(t, nil, nil)
	defer rec.Release()
	err = exportRecord(rec, nil, nil)
	require.Error(t, err)
}

// Create, list, close and reconnect: the catalog outlives the connection
// handle.
func TestConnectionLifecycle(t *testing.T) {
	uri := freshURI(t)

	conn, err := doConnect(uri)
	require.NoError(t, err)

	names, err := doTableNames(conn, "", 0)
	require.NoError(t, err)
	assert.Empty(t, names)

	tbl, err := doTableCreate(conn, "t", nil)
	require.NoError(t, err)

	names, err = doTableNames(conn, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, names)

	doTableClose(tbl)
	doConnectionClose(conn)

	conn2, err := doConnect(uri)
	require.NoError(t, err)
	defer doConnectionClose(conn2)

	names, err = doTableNames(conn2, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, names)
}

func TestAddCountToArrow(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t2", plainSchema())
	require.NoError(t, err)
	defer doTableClose(tbl)

	rec := plainBatch(t, []int32{1, 2, 3}, []string{"Alice", "Bob", "Charlie"})
	addBatch(t, tbl, rec, 0)

	n, err := doTableCountRows(tbl)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	arrays, schemas, count, err := doTableToArrow(tbl, -1)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	arrSlot, schSlot := batchListSlot(arrays, schemas, 0)
	got, err := importRecord(arrSlot, schSlot)
	require.NoError(t, err)
	releaseSchema(schSlot)
	freeBatchList(arrays, schemas)
	defer got.Release()

	assert.True(t, got.Schema().Equal(plainSchema()))
	assert.Equal(t, int64(3), got.NumRows())
	assert.Equal(t, "Alice", got.Column(1).(*array.String).Value(0))
}

func TestOverwriteResetsCount(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", plainSchema())
	require.NoError(t, err)
	defer doTableClose(tbl)

	addBatch(t, tbl, plainBatch(t, []int32{1, 2}, []string{"a", "b"}), 0)
	addBatch(t, tbl, plainBatch(t, []int32{3, 4}, []string{"c", "d"}), 0)
	n, err := doTableCountRows(tbl)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	addBatch(t, tbl, plainBatch(t, []int32{5}, []string{"e"}), 1)
	n, err = doTableCountRows(tbl)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Any other mode is rejected before touching the slots.
	err = doTableAdd(tbl, nil, nil, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestAddNullGuard(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", nil)
	require.NoError(t, err)
	defer doTableClose(tbl)

	err = doTableAdd(tbl, nil, nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")
}

func TestVectorQueryEndToEnd(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", vecSchema())
	require.NoError(t, err)
	defer doTableClose(tbl)

	addBatch(t, tbl, vecBatch(t,
		[]int32{1, 2, 3},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0.9, 0.1, 0, 0}},
	), 0)

	q, err := doQueryNew(tbl)
	require.NoError(t, err)
	defer doQueryClose(q)

	require.NoError(t, doQueryNearestTo(q, []float32{1, 0, 0, 0}))
	require.NoError(t, doQueryDistanceType(q, 1)) // cosine
	require.NoError(t, doQueryLimit(q, 2))

	arrays, schemas, count, err := doQueryExecute(q)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	arrSlot, schSlot := batchListSlot(arrays, schemas, 0)
	got, err := importRecord(arrSlot, schSlot)
	require.NoError(t, err)
	releaseSchema(schSlot)
	freeBatchList(arrays, schemas)
	defer got.Release()

	assert.LessOrEqual(t, got.NumRows(), int64(2))
	assert.Len(t, got.Schema().FieldIndices("_distance"), 1)
	assert.Equal(t, int32(1), got.Column(0).(*array.Int32).Value(0))
}

func TestQueryEmptyTable(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", nil)
	require.NoError(t, err)
	defer doTableClose(tbl)

	q, err := doQueryNew(tbl)
	require.NoError(t, err)
	defer doQueryClose(q)

	arrays, schemas, count, err := doQueryExecute(q)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Nil(t, arrays)
	assert.Nil(t, schemas)
}

func TestNearestToOneShot(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", vecSchema())
	require.NoError(t, err)
	defer doTableClose(tbl)

	addBatch(t, tbl, vecBatch(t, []int32{1}, [][]float32{{1, 2, 3, 0}}), 0)

	q, err := doQueryNew(tbl)
	require.NoError(t, err)
	defer doQueryClose(q)

	require.NoError(t, doQueryNearestTo(q, []float32{1, 2, 3, 0}))
	err = doQueryNearestTo(q, []float32{4, 5, 6, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid argument")

	// The first vector still drives the query.
	arrays, schemas, count, err := doQueryExecute(q)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	arrSlot, schSlot := batchListSlot(arrays, schemas, 0)
	got, err := importRecord(arrSlot, schSlot)
	require.NoError(t, err)
	releaseSchema(schSlot)
	freeBatchList(arrays, schemas)
	got.Release()
}

func TestStreamMatchesExecute(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", plainSchema())
	require.NoError(t, err)
	defer doTableClose(tbl)

	addBatch(t, tbl, plainBatch(t, []int32{1, 2}, []string{"a", "b"}), 0)
	addBatch(t, tbl, plainBatch(t, []int32{3}, []string{"c"}), 0)

	q, err := doQueryNew(tbl)
	require.NoError(t, err)
	defer doQueryClose(q)

	stream, err := doQueryExecuteStream(q)
	require.NoError(t, err)

	var streamed int64
	for {
		var carr cdata.CArrowArray
		var csch cdata.CArrowSchema
		rc, err := doStreamNext(stream, unsafe.Pointer(&carr), unsafe.Pointer(&csch))
		require.NoError(t, err)
		if rc == 0 {
			break
		}
		require.Equal(t, 1, rc)
		got, err := importRecord(unsafe.Pointer(&carr), unsafe.Pointer(&csch))
		require.NoError(t, err)
		releaseSchema(unsafe.Pointer(&csch))
		streamed += got.NumRows()
		got.Release()
	}
	doStreamClose(stream)

	assert.Equal(t, int64(3), streamed)
}

func TestQuerySettersValidate(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", nil)
	require.NoError(t, err)
	defer doTableClose(tbl)

	q, err := doQueryNew(tbl)
	require.NoError(t, err)
	defer doQueryClose(q)

	require.Error(t, doQueryLimit(q, -1))
	require.Error(t, doQueryOffset(q, -2))
	require.Error(t, doQueryDistanceType(q, 0)) // plain state
	require.NoError(t, doQueryLimit(q, 0))
	require.NoError(t, doQueryFilter(q, "id > 1"))
	require.NoError(t, doQuerySelect(q, []string{"id"}))
}

func TestIndexAndDelete(t *testing.T) {
	conn, err := doConnect(freshURI(t))
	require.NoError(t, err)
	defer doConnectionClose(conn)

	tbl, err := doTableCreate(conn, "t", vecSchema())
	require.NoError(t, err)
	defer doTableClose(tbl)

	addBatch(t, tbl, vecBatch(t,
		[]int32{1, 2, 3},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
	), 0)

	require.NoError(t, doTableCreateIndex(tbl, "v", "ivf_pq", 0, 0, 0, false))
	require.Error(t, doTableCreateIndex(tbl, "v", "btree", 0, 0, 0, false))
	require.Error(t, doTableCreateIndex(tbl, "v", "auto", 9, 0, 0, false))

	out, count, err := doTableListIndices(tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, out, `"v_idx"`)
	assert.Contains(t, out, `"IVF_PQ"`)

	deleted, err := doTableDelete(tbl, "id = 2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := doTableCountRows(tbl)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCloseIsNullSafe(t *testing.T) {
	doConnectionClose(0)
	doTableClose(0)
	doQueryClose(0)
	doStreamClose(0)
}

func TestInvalidHandles(t *testing.T) {
	_, err := doTableNames(0, "", 0)
	require.Error(t, err)
	_, err = doTableCountRows(0)
	require.Error(t, err)
	_, err = doQueryNew(0)
	require.Error(t, err)
}
