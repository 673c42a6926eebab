package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPredicate is returned by Delete when no predicate is given.
	ErrEmptyPredicate = errors.New("engine: delete requires a predicate")
)

// TableNotFoundError indicates that a table does not exist.
type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q was not found", e.Name)
}

// TableExistsError indicates a create conflict.
type TableExistsError struct {
	Name string
}

func (e *TableExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

// InvalidNameError indicates a table name that does not satisfy the engine's
// naming rules.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid table name %q: %s", e.Name, e.Reason)
}

// SchemaMismatchError indicates appended data whose schema differs from the
// table schema.
type SchemaMismatchError struct {
	Table  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on table %q: %s", e.Table, e.Reason)
}

// UnknownColumnError indicates a projection or index referencing a column
// absent from the schema.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Column)
}

// NoVectorColumnError indicates a nearest-neighbor scan on a table with no
// vector column of the query's dimension.
type NoVectorColumnError struct {
	Dim int
}

func (e *NoVectorColumnError) Error() string {
	return fmt.Sprintf("no vector column of dimension %d", e.Dim)
}

// IndexError indicates an index build or index metadata failure.
type IndexError struct {
	Table  string
	Column string
	Reason string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index error on %s.%s: %s", e.Table, e.Column, e.Reason)
}

// StorageError wraps an I/O failure from the storage layer.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UnsupportedTypeError indicates a column type the engine cannot scan or
// materialize.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported column type %s", e.Type)
}
