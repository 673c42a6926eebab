package capi

/*
#include "abi.h"
#include <string.h>
*/
import "C"

import (
	"unsafe"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/cdata"

	"github.com/hupe1980/vecbridge"
)

// The local ArrowArray/ArrowSchema structs share their layout with the
// cdata package's counterparts, so pointers convert freely through
// unsafe.Pointer.

func columnarError(format string, args ...any) error {
	return vecbridge.NewError(vecbridge.KindColumnar, format, args...)
}

// exportRecord moves rec into the caller-provided slots. The caller becomes
// responsible for both release callbacks. The record itself stays retained
// by the bridge.
func exportRecord(rec arrow.Record, arrayOut, schemaOut unsafe.Pointer) error {
	if arrayOut == nil || schemaOut == nil {
		return invalidArgument("output slot is null")
	}
	cdata.ExportArrowRecordBatch(rec,
		(*cdata.CArrowArray)(arrayOut),
		(*cdata.CArrowSchema)(schemaOut))
	return nil
}

// exportSchema moves schema into the caller-provided slot.
func exportSchema(schema *arrow.Schema, schemaOut unsafe.Pointer) error {
	if schemaOut == nil {
		return invalidArgument("output slot is null")
	}
	cdata.ExportArrowSchema(schema, (*cdata.CArrowSchema)(schemaOut))
	return nil
}

// importRecord moves the array out of the caller's slot and reconstructs a
// record using the schema. The array slot is zeroed so a later release on
// the foreign side cannot double-free; the schema slot is read by reference
// and stays owned by the caller.
func importRecord(arrayIn, schemaIn unsafe.Pointer) (arrow.Record, error) {
	if arrayIn == nil || schemaIn == nil {
		return nil, invalidArgument("array and schema must not be null")
	}

	rec, err := cdata.ImportCRecordBatch(
		(*cdata.CArrowArray)(arrayIn),
		(*cdata.CArrowSchema)(schemaIn))
	if err != nil {
		return nil, columnarError("import record batch: %s", err)
	}
	C.memset(arrayIn, 0, C.sizeof_struct_ArrowArray)
	return rec, nil
}

// importSchema reads the caller's schema slot by reference.
func importSchema(schemaIn unsafe.Pointer) (*arrow.Schema, error) {
	if schemaIn == nil {
		return nil, invalidArgument("schema must not be null")
	}
	schema, err := cdata.ImportCArrowSchema((*cdata.CArrowSchema)(schemaIn))
	if err != nil {
		return nil, columnarError("import schema: %s", err)
	}
	return schema, nil
}

// exportBatchList exports recs into two freshly allocated contiguous
// arrays, one of array structures and one of schema structures. Zero
// batches yields null pointers. On failure every already-exported pair is
// released and the backing arrays are freed, so the caller observes a clean
// "nothing produced" state. The caller releases each pair and frees both
// backing arrays with free().
func exportBatchList(recs []arrow.Record) (arrays, schemas unsafe.Pointer, err error) {
	n := len(recs)
	if n == 0 {
		return nil, nil, nil
	}

	arrayBase := C.malloc(C.size_t(n) * C.sizeof_struct_ArrowArray)
	schemaBase := C.malloc(C.size_t(n) * C.sizeof_struct_ArrowSchema)
	if arrayBase == nil || schemaBase == nil {
		if arrayBase != nil {
			C.free(arrayBase)
		}
		if schemaBase != nil {
			C.free(schemaBase)
		}
		return nil, nil, columnarError("allocating batch list for %d batches", n)
	}

	rollback := func(written int) {
		for i := 0; i < written; i++ {
			C.vecbridge_array_release_invoke(batchArrayAt(arrayBase, i))
			C.vecbridge_schema_release_invoke(batchSchemaAt(schemaBase, i))
		}
		C.free(arrayBase)
		C.free(schemaBase)
	}

	for i, rec := range recs {
		if rec == nil {
			rollback(i)
			return nil, nil, columnarError("nil batch at position %d", i)
		}
		cdata.ExportArrowRecordBatch(rec,
			(*cdata.CArrowArray)(unsafe.Pointer(batchArrayAt(arrayBase, i))),
			(*cdata.CArrowSchema)(unsafe.Pointer(batchSchemaAt(schemaBase, i))))
	}
	return arrayBase, schemaBase, nil
}

func batchArrayAt(base unsafe.Pointer, i int) *C.struct_ArrowArray {
	return (*C.struct_ArrowArray)(unsafe.Add(base, uintptr(i)*C.sizeof_struct_ArrowArray))
}

func batchSchemaAt(base unsafe.Pointer, i int) *C.struct_ArrowSchema {
	return (*C.struct_ArrowSchema)(unsafe.Add(base, uintptr(i)*C.sizeof_struct_ArrowSchema))
}

// batchListSlot returns the pair at position i of a batch-list result.
func batchListSlot(arrays, schemas unsafe.Pointer, i int) (unsafe.Pointer, unsafe.Pointer) {
	return unsafe.Pointer(batchArrayAt(arrays, i)), unsafe.Pointer(batchSchemaAt(schemas, i))
}

// freeBatchList frees the backing arrays of a batch-list result. The
// structures inside must already be released.
func freeBatchList(arrays, schemas unsafe.Pointer) {
	if arrays != nil {
		C.free(arrays)
	}
	if schemas != nil {
		C.free(schemas)
	}
}

// releaseArray fires the structure's release callback, if any. The backing
// memory stays owned by the caller.
func releaseArray(ptr unsafe.Pointer) {
	C.vecbridge_array_release_invoke((*C.struct_ArrowArray)(ptr))
}

func releaseSchema(ptr unsafe.Pointer) {
	C.vecbridge_schema_release_invoke((*C.struct_ArrowSchema)(ptr))
}

//export vecbridge_arrow_array_release
func vecbridge_arrow_array_release(array *C.struct_ArrowArray) {
	C.vecbridge_array_release_invoke(array)
}

//export vecbridge_arrow_schema_release
func vecbridge_arrow_schema_release(schema *C.struct_ArrowSchema) {
	C.vecbridge_schema_release_invoke(schema)
}
