package engine

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

type persistCtxKey struct{}

func TestMutationsThreadContextToPersist(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
	}, nil)

	state := newTableState("t", schema)
	var got context.Context
	state.persist = func(ctx context.Context, _ *arrow.Schema, _ []arrow.Record) error {
		got = ctx
		return nil
	}
	tbl := &stateTable{state: state}

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	b.Field(0).(*array.Int32Builder).AppendValues([]int32{1, 2}, nil)
	rec := b.NewRecord()
	b.Release()
	defer rec.Release()

	ctx := context.WithValue(context.Background(), persistCtxKey{}, "add")
	if err := tbl.Add(ctx, rec, AddModeAppend); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got == nil || got.Value(persistCtxKey{}) != "add" {
		t.Fatal("persist did not receive the caller's context on add")
	}

	ctx = context.WithValue(context.Background(), persistCtxKey{}, "delete")
	if _, err := tbl.Delete(ctx, "id = 1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got.Value(persistCtxKey{}) != "delete" {
		t.Fatal("persist did not receive the caller's context on delete")
	}
}
