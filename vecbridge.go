// Package vecbridge exposes an embedded columnar vector database through a
// narrow, foreign-caller-friendly surface.
//
// The package is the Go side of a C ABI bridge: the exported C symbols live
// in the capi package, and everything they do is implemented here against
// the engine package. Each entry point runs its engine call on a shared
// background executor and blocks the calling goroutine until the result is
// ready, so callers get synchronous semantics over an asynchronous core.
//
// Batches cross the boundary in Arrow format. Results carry the table
// schema, plus a float32 "_distance" column for nearest-neighbor queries.
//
// # Quick Start
//
//	conn, err := vecbridge.Connect("memory://demo")
//	if err != nil {
//	    panic(err)
//	}
//	defer conn.Close()
//
//	tbl, err := conn.CreateTable("items")
//	if err != nil {
//	    panic(err)
//	}
//	defer tbl.Close()
//
//	q := tbl.Query()
//	if err := q.NearestTo([]float32{1, 0, 0, 0}); err != nil {
//	    panic(err)
//	}
//	recs, err := q.Execute()
package vecbridge

import (
	"context"
	"sync/atomic"
	"unicode/utf8"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/hupe1980/vecbridge/engine"
	"github.com/hupe1980/vecbridge/internal/task"
)

// Connection is a handle to a database. It is safe for concurrent use.
type Connection struct {
	eng    engine.Connection
	uri    string
	logger *Logger
	closed atomic.Bool
}

// Connect opens a connection to the database identified by uri.
//
// Supported schemes are "memory://" for the in-process backend, "file://"
// (or a bare path) for the local directory backend, and "s3://" for
// S3-compatible object storage. Connections to the same memory URI share
// one catalog for the lifetime of the process.
func Connect(uri string, optFns ...Option) (*Connection, error) {
	o := applyOptions(optFns)

	if uri == "" {
		return nil, invalidArgument("connection uri is empty")
	}
	if !utf8.ValidString(uri) {
		return nil, invalidArgument("connection uri is not valid UTF-8")
	}

	eng, err := task.Block(func(ctx context.Context) (engine.Connection, error) {
		return engine.Connect(ctx, uri)
	})
	o.logger.LogConnect(context.Background(), uri, err)
	if err != nil {
		return nil, Classify(err)
	}

	return &Connection{
		eng:    eng,
		uri:    uri,
		logger: o.logger.WithURI(uri),
	}, nil
}

// URI returns the connection string this connection was opened with.
func (c *Connection) URI() string { return c.uri }

// TableNames lists table names in lexicographic order. A non-empty
// startAfter resumes strictly after that name; limit <= 0 means unlimited.
func (c *Connection) TableNames(startAfter string, limit int) ([]string, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	names, err := task.Block(func(ctx context.Context) ([]string, error) {
		return c.eng.TableNames(ctx, engine.ListOptions{
			StartAfter: startAfter,
			Limit:      limit,
		})
	})
	return names, Classify(err)
}

// OpenTable opens an existing table.
func (c *Connection) OpenTable(name string) (*Table, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(name) {
		return nil, invalidArgument("table name is not valid UTF-8")
	}

	tbl, err := task.Block(func(ctx context.Context) (engine.Table, error) {
		return c.eng.OpenTable(ctx, name)
	})
	if err != nil {
		return nil, Classify(err)
	}
	return newTable(tbl, c.logger), nil
}

// CreateTable creates a table with the default schema: a non-nullable int32
// "id" column and a nullable utf8 "text" column.
func (c *Connection) CreateTable(name string) (*Table, error) {
	return c.CreateTableWithSchema(name, DefaultSchema())
}

// CreateTableWithSchema creates a table with the given schema.
func (c *Connection) CreateTableWithSchema(name string, schema *arrow.Schema) (*Table, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(name) {
		return nil, invalidArgument("table name is not valid UTF-8")
	}
	if schema == nil {
		return nil, invalidArgument("schema is nil")
	}

	tbl, err := task.Block(func(ctx context.Context) (engine.Table, error) {
		return c.eng.CreateTable(ctx, name, schema)
	})
	if err != nil {
		return nil, Classify(err)
	}
	c.logger.InfoContext(context.Background(), "table created", "table", name)
	return newTable(tbl, c.logger), nil
}

// Close releases the connection. Further use returns an error. Close is
// idempotent.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return Classify(c.eng.Close())
}

func (c *Connection) guard() error {
	if c.closed.Load() {
		return invalidArgument("connection is closed")
	}
	return nil
}

// DefaultSchema returns the schema used by CreateTable.
func DefaultSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "text", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
}
