package capi

/*
#include "abi.h"
*/
import "C"

import (
	"unsafe"

	"github.com/hupe1980/vecbridge"
)

func doConnect(uri string) (uintptr, error) {
	conn, err := vecbridge.Connect(uri)
	if err != nil {
		return 0, err
	}
	return newHandle(conn), nil
}

func doConnectionClose(h uintptr) {
	if h == 0 {
		return
	}
	if conn, err := resolveConnection(h); err == nil {
		conn.Close()
	}
	deleteHandle(h)
}

func doTableNames(h uintptr, startAfter string, limit int) ([]string, error) {
	conn, err := resolveConnection(h)
	if err != nil {
		return nil, err
	}
	return conn.TableNames(startAfter, limit)
}

//export vecbridge_connect
func vecbridge_connect(uri *C.char) C.uintptr_t {
	if uri == nil {
		setLastError(invalidArgument("uri is null"))
		return 0
	}
	h, err := doConnect(C.GoString(uri))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(h)
}

//export vecbridge_connection_close
func vecbridge_connection_close(h C.uintptr_t) {
	doConnectionClose(uintptr(h))
}

// vecbridge_connection_table_names writes a null-terminated array of owned
// C strings plus a count. The caller frees the result via
// vecbridge_free_string_array. limit <= 0 means unlimited.
//
//export vecbridge_connection_table_names
func vecbridge_connection_table_names(h C.uintptr_t, startAfter *C.char, limit C.int, namesOut ***C.char, countOut *C.int) C.int {
	if namesOut == nil || countOut == nil {
		setLastError(invalidArgument("output slot is null"))
		return -1
	}

	after := ""
	if startAfter != nil {
		after = C.GoString(startAfter)
	}

	names, err := doTableNames(uintptr(h), after, int(limit))
	if err != nil {
		setLastError(err)
		return -1
	}

	ptrSize := C.size_t(unsafe.Sizeof((*C.char)(nil)))
	arr := (**C.char)(C.malloc(C.size_t(len(names)+1) * ptrSize))
	if arr == nil {
		setLastError(vecbridge.NewError(vecbridge.KindOther, "allocating name array"))
		return -1
	}
	slots := unsafe.Slice(arr, len(names)+1)
	for i, name := range names {
		slots[i] = C.CString(name)
	}
	slots[len(names)] = nil

	*namesOut = arr
	*countOut = C.int(len(names))
	return 0
}
