package engine_test

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbridge/engine"
)

func TestLocalPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	conn, err := engine.Connect(ctx, "file://"+dir)
	require.NoError(t, err)

	tbl, err := conn.CreateTable(ctx, "people", testSchema())
	require.NoError(t, err)

	rec := makeRecord(t,
		[]int32{1, 2},
		[]string{"Alice", "Bob"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
	)
	require.NoError(t, tbl.Add(ctx, rec, engine.AddModeAppend))
	require.NoError(t, conn.Close())

	// A fresh connection reads the table back from disk.
	conn2, err := engine.Connect(ctx, "file://"+dir)
	require.NoError(t, err)

	names, err := conn2.TableNames(ctx, engine.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"people"}, names)

	tbl2, err := conn2.OpenTable(ctx, "people")
	require.NoError(t, err)

	n, err := tbl2.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	schema, err := tbl2.Schema(ctx)
	require.NoError(t, err)
	assert.True(t, schema.Equal(testSchema()))

	stream, err := tbl2.Scan(ctx, engine.ScanSpec{Limit: -1})
	require.NoError(t, err)
	recs := collect(t, stream)
	require.Len(t, recs, 1)
	names2 := recs[0].Column(1).(*array.String)
	assert.Equal(t, "Alice", names2.Value(0))
	assert.Equal(t, "Bob", names2.Value(1))
}

func TestLocalDeletePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	conn, err := engine.Connect(ctx, "file://"+dir)
	require.NoError(t, err)
	tbl, err := conn.CreateTable(ctx, "people", testSchema())
	require.NoError(t, err)

	rec := makeRecord(t,
		[]int32{1, 2, 3},
		[]string{"Alice", "Bob", "Charlie"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
	)
	require.NoError(t, tbl.Add(ctx, rec, engine.AddModeAppend))

	n, err := tbl.Delete(ctx, "id = 2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	conn2, err := engine.Connect(ctx, "file://"+dir)
	require.NoError(t, err)
	tbl2, err := conn2.OpenTable(ctx, "people")
	require.NoError(t, err)
	count, err := tbl2.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestLocalCreateConflict(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	conn, err := engine.Connect(ctx, "file://"+dir)
	require.NoError(t, err)

	_, err = conn.CreateTable(ctx, "t", testSchema())
	require.NoError(t, err)
	_, err = conn.CreateTable(ctx, "t", testSchema())
	assert.Error(t, err)
}
