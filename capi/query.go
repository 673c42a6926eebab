package capi

/*
#include "abi.h"
*/
import "C"

import (
	"errors"
	"io"
	"unsafe"

	"github.com/hupe1980/vecbridge/distance"
)

func doQueryNew(table uintptr) (uintptr, error) {
	tbl, err := resolveTable(table)
	if err != nil {
		return 0, err
	}
	return newHandle(tbl.Query()), nil
}

func doQueryClose(h uintptr) {
	if h == 0 {
		return
	}
	deleteHandle(h)
}

func doQueryNearestTo(h uintptr, vec []float32) error {
	q, err := resolveQuery(h)
	if err != nil {
		return err
	}
	return q.NearestTo(vec)
}

func doQueryDistanceType(h uintptr, code int) error {
	q, err := resolveQuery(h)
	if err != nil {
		return err
	}
	m, ok := distance.FromCode(code)
	if !ok {
		return invalidArgument("unknown distance metric %d", code)
	}
	return q.DistanceType(m)
}

func doQueryLimit(h uintptr, n int) error {
	q, err := resolveQuery(h)
	if err != nil {
		return err
	}
	return q.Limit(n)
}

func doQueryOffset(h uintptr, n int) error {
	q, err := resolveQuery(h)
	if err != nil {
		return err
	}
	return q.Offset(n)
}

func doQueryFilter(h uintptr, predicate string) error {
	q, err := resolveQuery(h)
	if err != nil {
		return err
	}
	q.Filter(predicate)
	return nil
}

func doQuerySelect(h uintptr, columns []string) error {
	q, err := resolveQuery(h)
	if err != nil {
		return err
	}
	q.Select(columns)
	return nil
}

func doQueryExecute(h uintptr) (unsafe.Pointer, unsafe.Pointer, int, error) {
	q, err := resolveQuery(h)
	if err != nil {
		return nil, nil, 0, err
	}
	recs, err := q.Execute()
	if err != nil {
		return nil, nil, 0, err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	arrays, schemas, err := exportBatchList(recs)
	if err != nil {
		return nil, nil, 0, err
	}
	return arrays, schemas, len(recs), nil
}

func doQueryExecuteStream(h uintptr) (uintptr, error) {
	q, err := resolveQuery(h)
	if err != nil {
		return 0, err
	}
	stream, err := q.ExecuteStream()
	if err != nil {
		return 0, err
	}
	return newHandle(stream), nil
}

// doStreamNext pulls one batch into the output slots. It returns 1 when a
// batch was produced, 0 on end-of-stream, an error otherwise.
func doStreamNext(h uintptr, arrayOut, schemaOut unsafe.Pointer) (int, error) {
	s, err := resolveStream(h)
	if err != nil {
		return -1, err
	}
	if arrayOut == nil || schemaOut == nil {
		return -1, invalidArgument("output slot is null")
	}

	rec, err := s.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return -1, err
	}
	defer rec.Release()

	if err := exportRecord(rec, arrayOut, schemaOut); err != nil {
		return -1, err
	}
	return 1, nil
}

func doStreamClose(h uintptr) {
	if h == 0 {
		return
	}
	if s, err := resolveStream(h); err == nil {
		s.Close()
	}
	deleteHandle(h)
}

//export vecbridge_query_new
func vecbridge_query_new(table C.uintptr_t) C.uintptr_t {
	h, err := doQueryNew(uintptr(table))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(h)
}

//export vecbridge_query_close
func vecbridge_query_close(h C.uintptr_t) {
	doQueryClose(uintptr(h))
}

//export vecbridge_query_nearest_to
func vecbridge_query_nearest_to(h C.uintptr_t, vec *C.float, length C.size_t) C.int {
	if vec == nil || length == 0 {
		setLastError(invalidArgument("query vector is null or empty"))
		return -1
	}
	values := unsafe.Slice((*float32)(unsafe.Pointer(vec)), int(length))
	if err := doQueryNearestTo(uintptr(h), values); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

//export vecbridge_query_distance_type
func vecbridge_query_distance_type(h C.uintptr_t, metric C.int) C.int {
	if err := doQueryDistanceType(uintptr(h), int(metric)); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

//export vecbridge_query_limit
func vecbridge_query_limit(h C.uintptr_t, n C.int64_t) C.int {
	if err := doQueryLimit(uintptr(h), int(n)); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

//export vecbridge_query_offset
func vecbridge_query_offset(h C.uintptr_t, n C.int64_t) C.int {
	if err := doQueryOffset(uintptr(h), int(n)); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

//export vecbridge_query_filter
func vecbridge_query_filter(h C.uintptr_t, predicate *C.char) C.int {
	if predicate == nil {
		setLastError(invalidArgument("predicate is null"))
		return -1
	}
	if err := doQueryFilter(uintptr(h), C.GoString(predicate)); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

//export vecbridge_query_select
func vecbridge_query_select(h C.uintptr_t, columns **C.char, n C.size_t) C.int {
	if columns == nil && n > 0 {
		setLastError(invalidArgument("column list is null"))
		return -1
	}
	var names []string
	if n > 0 {
		for _, col := range unsafe.Slice(columns, int(n)) {
			if col == nil {
				setLastError(invalidArgument("column name is null"))
				return -1
			}
			names = append(names, C.GoString(col))
		}
	}
	if err := doQuerySelect(uintptr(h), names); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

// vecbridge_query_execute materializes the query into a contiguous pair of
// interchange arrays per the batch-list rules. Zero batches is a success
// with null pointers and a zero count.
//
//export vecbridge_query_execute
func vecbridge_query_execute(h C.uintptr_t, arraysOut **C.struct_ArrowArray, schemasOut **C.struct_ArrowSchema, countOut *C.int64_t) C.int {
	if arraysOut == nil || schemasOut == nil || countOut == nil {
		setLastError(invalidArgument("output slot is null"))
		return -1
	}
	arrays, schemas, count, err := doQueryExecute(uintptr(h))
	if err != nil {
		setLastError(err)
		return -1
	}
	*arraysOut = (*C.struct_ArrowArray)(arrays)
	*schemasOut = (*C.struct_ArrowSchema)(schemas)
	*countOut = C.int64_t(count)
	return 0
}

//export vecbridge_query_execute_stream
func vecbridge_query_execute_stream(h C.uintptr_t) C.uintptr_t {
	sh, err := doQueryExecuteStream(uintptr(h))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(sh)
}

//export vecbridge_stream_next
func vecbridge_stream_next(h C.uintptr_t, arrayOut *C.struct_ArrowArray, schemaOut *C.struct_ArrowSchema) C.int {
	rc, err := doStreamNext(uintptr(h), unsafe.Pointer(arrayOut), unsafe.Pointer(schemaOut))
	if err != nil {
		setLastError(err)
		return -1
	}
	return C.int(rc)
}

//export vecbridge_stream_close
func vecbridge_stream_close(h C.uintptr_t) {
	doStreamClose(uintptr(h))
}
