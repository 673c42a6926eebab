package capi

/*
#include "abi.h"
*/
import "C"

import (
	"unsafe"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/goccy/go-json"

	"github.com/hupe1980/vecbridge"
)

func doTableOpen(conn uintptr, name string) (uintptr, error) {
	c, err := resolveConnection(conn)
	if err != nil {
		return 0, err
	}
	tbl, err := c.OpenTable(name)
	if err != nil {
		return 0, err
	}
	return newHandle(tbl), nil
}

func doTableCreate(conn uintptr, name string, schema *arrow.Schema) (uintptr, error) {
	c, err := resolveConnection(conn)
	if err != nil {
		return 0, err
	}
	var tbl *vecbridge.Table
	if schema == nil {
		tbl, err = c.CreateTable(name)
	} else {
		tbl, err = c.CreateTableWithSchema(name, schema)
	}
	if err != nil {
		return 0, err
	}
	return newHandle(tbl), nil
}

func doTableClose(h uintptr) {
	if h == 0 {
		return
	}
	if tbl, err := resolveTable(h); err == nil {
		tbl.Close()
	}
	deleteHandle(h)
}

func doTableCountRows(h uintptr) (int64, error) {
	tbl, err := resolveTable(h)
	if err != nil {
		return 0, err
	}
	return tbl.CountRows()
}

func doTableAdd(h uintptr, arrayIn, schemaIn unsafe.Pointer, mode int) error {
	tbl, err := resolveTable(h)
	if err != nil {
		return err
	}
	addMode, err := vecbridge.AddModeFromCode(mode)
	if err != nil {
		return err
	}
	rec, err := importRecord(arrayIn, schemaIn)
	if err != nil {
		return err
	}
	defer rec.Release()
	return tbl.Add(rec, addMode)
}

func doTableToArrow(h uintptr, limit int) (unsafe.Pointer, unsafe.Pointer, int, error) {
	tbl, err := resolveTable(h)
	if err != nil {
		return nil, nil, 0, err
	}
	recs, err := tbl.ToArrow(limit)
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

func doTableDelete(h uintptr, predicate string) (int64, error) {
	tbl, err := resolveTable(h)
	if err != nil {
		return 0, err
	}
	return tbl.Delete(predicate)
}

func doTableCreateIndex(h uintptr, column, indexType string, metric, parts, subv int, replace bool) error {
	tbl, err := resolveTable(h)
	if err != nil {
		return err
	}
	m, err := vecbridge.MetricFromCode(metric)
	if err != nil {
		return err
	}
	return tbl.CreateIndex(vecbridge.IndexOptions{
		Column:        column,
		Type:          indexType,
		Metric:        m,
		NumPartitions: parts,
		NumSubVectors: subv,
		Replace:       replace,
	})
}

//export vecbridge_table_open
func vecbridge_table_open(conn C.uintptr_t, name *C.char) C.uintptr_t {
	if name == nil {
		setLastError(invalidArgument("table name is null"))
		return 0
	}
	h, err := doTableOpen(uintptr(conn), C.GoString(name))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(h)
}

//export vecbridge_table_create
func vecbridge_table_create(conn C.uintptr_t, name *C.char) C.uintptr_t {
	if name == nil {
		setLastError(invalidArgument("table name is null"))
		return 0
	}
	h, err := doTableCreate(uintptr(conn), C.GoString(name), nil)
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(h)
}

//export vecbridge_table_create_with_schema
func vecbridge_table_create_with_schema(conn C.uintptr_t, name *C.char, schemaIn *C.struct_ArrowSchema) C.uintptr_t {
	if name == nil {
		setLastError(invalidArgument("table name is null"))
		return 0
	}
	schema, err := importSchema(unsafe.Pointer(schemaIn))
	if err != nil {
		setLastError(err)
		return 0
	}
	h, err := doTableCreate(uintptr(conn), C.GoString(name), schema)
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(h)
}

//export vecbridge_table_close
func vecbridge_table_close(h C.uintptr_t) {
	doTableClose(uintptr(h))
}

//export vecbridge_table_count_rows
func vecbridge_table_count_rows(h C.uintptr_t) C.int64_t {
	n, err := doTableCountRows(uintptr(h))
	if err != nil {
		setLastError(err)
		return -1
	}
	return C.int64_t(n)
}

//export vecbridge_table_add
func vecbridge_table_add(h C.uintptr_t, arrayIn *C.struct_ArrowArray, schemaIn *C.struct_ArrowSchema, mode C.int) C.int {
	if err := doTableAdd(uintptr(h), unsafe.Pointer(arrayIn), unsafe.Pointer(schemaIn), int(mode)); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

//export vecbridge_table_schema
func vecbridge_table_schema(h C.uintptr_t, schemaOut *C.struct_ArrowSchema) C.int {
	tbl, err := resolveTable(uintptr(h))
	if err != nil {
		setLastError(err)
		return -1
	}
	schema, err := tbl.Schema()
	if err != nil {
		setLastError(err)
		return -1
	}
	if err := exportSchema(schema, unsafe.Pointer(schemaOut)); err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

// vecbridge_table_to_arrow materializes the table as a contiguous pair of
// interchange arrays. limit < 0 means unlimited. The caller releases each
// structure and frees both backing arrays with free().
//
//export vecbridge_table_to_arrow
func vecbridge_table_to_arrow(h C.uintptr_t, limit C.int64_t, arraysOut **C.struct_ArrowArray, schemasOut **C.struct_ArrowSchema, countOut *C.int64_t) C.int {
	if arraysOut == nil || schemasOut == nil || countOut == nil {
		setLastError(invalidArgument("output slot is null"))
		return -1
	}
	arrays, schemas, count, err := doTableToArrow(uintptr(h), int(limit))
	if err != nil {
		setLastError(err)
		return -1
	}
	*arraysOut = (*C.struct_ArrowArray)(arrays)
	*schemasOut = (*C.struct_ArrowSchema)(schemas)
	*countOut = C.int64_t(count)
	return 0
}

//export vecbridge_table_delete
func vecbridge_table_delete(h C.uintptr_t, predicate *C.char) C.int64_t {
	if predicate == nil {
		setLastError(invalidArgument("predicate is null"))
		return -1
	}
	n, err := doTableDelete(uintptr(h), C.GoString(predicate))
	if err != nil {
		setLastError(err)
		return -1
	}
	return C.int64_t(n)
}

//export vecbridge_table_create_index
func vecbridge_table_create_index(h C.uintptr_t, column *C.char, indexType *C.char, metric C.int, numPartitions C.int, numSubVectors C.int, replace C.int) C.int {
	if column == nil || indexType == nil {
		setLastError(invalidArgument("column and index type must not be null"))
		return -1
	}
	err := doTableCreateIndex(uintptr(h), C.GoString(column), C.GoString(indexType),
		int(metric), int(numPartitions), int(numSubVectors), replace != 0)
	if err != nil {
		setLastError(err)
		return -1
	}
	return 0
}

func doTableListIndices(h uintptr) (string, int, error) {
	tbl, err := resolveTable(h)
	if err != nil {
		return "", 0, err
	}
	infos, err := tbl.Indices()
	if err != nil {
		return "", 0, err
	}
	buf, err := json.Marshal(infos)
	if err != nil {
		return "", 0, vecbridge.NewError(vecbridge.KindOther, "%s", err)
	}
	return string(buf), len(infos), nil
}

// vecbridge_table_list_indices writes a JSON array describing the table's
// indices and returns their count. The caller frees the string via
// vecbridge_free_string.
//
//export vecbridge_table_list_indices
func vecbridge_table_list_indices(h C.uintptr_t, jsonOut **C.char) C.int {
	if jsonOut == nil {
		setLastError(invalidArgument("output slot is null"))
		return -1
	}
	out, count, err := doTableListIndices(uintptr(h))
	if err != nil {
		setLastError(err)
		return -1
	}
	*jsonOut = C.CString(out)
	return C.int(count)
}
