package capi

/*
#include "abi.h"
#include <string.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"github.com/hupe1980/vecbridge"
	"github.com/hupe1980/vecbridge/internal/task"
)

// setLastError renders err into the calling thread's error slot.
func setLastError(err error) {
	if err == nil {
		return
	}
	C.vecbridge_last_error_store(C.CString(err.Error()))
}

// lastError reads the calling thread's error slot.
func lastError() string {
	p := C.vecbridge_last_error_borrow()
	if p == nil {
		return ""
	}
	return C.GoString(p)
}

func invalidArgument(format string, args ...any) error {
	return vecbridge.NewError(vecbridge.KindInvalidArgument, format, args...)
}

// newHandle wraps v into an opaque non-zero token.
func newHandle(v any) uintptr {
	return uintptr(cgo.NewHandle(v))
}

func handleValue(h uintptr) any {
	if h == 0 {
		return nil
	}
	return cgo.Handle(h).Value()
}

func deleteHandle(h uintptr) {
	if h != 0 {
		cgo.Handle(h).Delete()
	}
}

func resolveConnection(h uintptr) (*vecbridge.Connection, error) {
	conn, ok := handleValue(h).(*vecbridge.Connection)
	if !ok {
		return nil, invalidArgument("invalid connection handle")
	}
	return conn, nil
}

func resolveTable(h uintptr) (*vecbridge.Table, error) {
	tbl, ok := handleValue(h).(*vecbridge.Table)
	if !ok {
		return nil, invalidArgument("invalid table handle")
	}
	return tbl, nil
}

func resolveQuery(h uintptr) (*vecbridge.Query, error) {
	q, ok := handleValue(h).(*vecbridge.Query)
	if !ok {
		return nil, invalidArgument("invalid query handle")
	}
	return q, nil
}

func resolveStream(h uintptr) (*vecbridge.Stream, error) {
	s, ok := handleValue(h).(*vecbridge.Stream)
	if !ok {
		return nil, invalidArgument("invalid stream handle")
	}
	return s, nil
}

//export vecbridge_init
func vecbridge_init() C.int {
	// Initialization is lazy; warming the executor here just front-loads
	// the first call's cost.
	task.Default()
	return 0
}

//export vecbridge_cleanup
func vecbridge_cleanup() {
	// Process exit finalizes the executor; nothing to tear down.
}

//export vecbridge_get_last_error
func vecbridge_get_last_error() *C.char {
	return (*C.char)(unsafe.Pointer(C.vecbridge_last_error_borrow()))
}

//export vecbridge_set_last_error
func vecbridge_set_last_error(msg *C.char) {
	if msg == nil {
		C.vecbridge_last_error_store(nil)
		return
	}
	C.vecbridge_last_error_store(C.strdup(msg))
}

//export vecbridge_free_string
func vecbridge_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

//export vecbridge_free_string_array
func vecbridge_free_string_array(arr **C.char, count C.int) {
	if arr == nil {
		return
	}
	strs := unsafe.Slice(arr, int(count))
	for _, s := range strs {
		if s != nil {
			C.free(unsafe.Pointer(s))
		}
	}
	C.free(unsafe.Pointer(arr))
}
