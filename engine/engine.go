package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/hupe1980/vecbridge/distance"
)

// AddMode selects how Add applies a batch to a table.
type AddMode int

const (
	// AddModeAppend adds rows to the tail of the table.
	AddModeAppend AddMode = iota
	// AddModeOverwrite atomically replaces all rows.
	AddModeOverwrite
)

// ListOptions control TableNames.
type ListOptions struct {
	// StartAfter resumes listing strictly after the given name.
	StartAfter string
	// Limit caps the number of names returned; <= 0 means unlimited.
	Limit int
}

// ScanSpec describes a table scan. A nil Vector is a plain scan; a non-nil
// Vector is a nearest-neighbor scan ranked by Metric.
type ScanSpec struct {
	Filter  string
	Columns []string // nil selects all columns
	Limit   int      // < 0 means unlimited (plain) or the engine default (vector)
	Offset  int
	Vector  []float32
	Metric  distance.Metric
}

// DefaultVectorLimit is the result cap applied to nearest-neighbor scans
// when the spec does not set one.
const DefaultVectorLimit = 10

// DistanceColumn is the name of the float32 column appended to
// nearest-neighbor scan results.
const DistanceColumn = "_distance"

// IndexSpec describes an index to create.
type IndexSpec struct {
	Column        string
	Type          string // "IVF_PQ" or "AUTO", validated by the caller
	Metric        distance.Metric
	NumPartitions int // 0 means engine default
	NumSubVectors int // 0 means engine default
	Replace       bool
}

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Columns []string `json:"columns"`
}

// RecordStream yields result batches one at a time. Next returns io.EOF
// after the final batch. Returned records are retained; the caller releases
// them.
type RecordStream interface {
	Next(ctx context.Context) (arrow.Record, error)
	Close() error
}

// Connection is a handle to a database.
type Connection interface {
	// TableNames lists table names in lexicographic order.
	TableNames(ctx context.Context, opts ListOptions) ([]string, error)
	OpenTable(ctx context.Context, name string) (Table, error)
	CreateTable(ctx context.Context, name string, schema *arrow.Schema) (Table, error)
	Close() error
}

// Table is a handle to a single table. The handle stays valid across Add
// calls in both modes; the engine versions data internally.
type Table interface {
	Name() string
	Schema(ctx context.Context) (*arrow.Schema, error)
	CountRows(ctx context.Context) (int64, error)
	Add(ctx context.Context, rec arrow.Record, mode AddMode) error
	// Delete removes rows matching the predicate and reports how many.
	Delete(ctx context.Context, predicate string) (int64, error)
	Scan(ctx context.Context, spec ScanSpec) (RecordStream, error)
	CreateIndex(ctx context.Context, spec IndexSpec) error
	ListIndices(ctx context.Context) ([]IndexInfo, error)
	Close() error
}

// Connect opens a connection to the database identified by uri.
//
// Supported schemes: "memory://" for the in-process backend, "file://" or a
// bare filesystem path for the directory backend, and "s3://bucket/prefix"
// for S3-compatible object storage.
func Connect(ctx context.Context, uri string) (Connection, error) {
	if uri == "" {
		return nil, fmt.Errorf("engine: empty connection uri")
	}
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return connectLocal(ctx, uri)
	}
	switch scheme {
	case "memory":
		return connectMemory(uri)
	case "file":
		return connectLocal(ctx, rest)
	case "s3":
		return connectObject(ctx, rest)
	default:
		return nil, fmt.Errorf("engine: unsupported uri scheme %q", scheme)
	}
}

func validateTableName(name string) error {
	if name == "" {
		return &InvalidNameError{Name: name, Reason: "name is empty"}
	}
	if len(name) > 256 {
		return &InvalidNameError{Name: name, Reason: "name exceeds 256 bytes"}
	}
	if strings.HasPrefix(name, ".") {
		return &InvalidNameError{Name: name, Reason: "name starts with a dot"}
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return &InvalidNameError{Name: name, Reason: fmt.Sprintf("illegal character %q", r)}
		}
	}
	return nil
}

// applyListOptions sorts names and applies StartAfter/Limit.
func applyListOptions(names []string, opts ListOptions) []string {
	sort.Strings(names)
	if opts.StartAfter != "" {
		i := sort.SearchStrings(names, opts.StartAfter)
		if i < len(names) && names[i] == opts.StartAfter {
			i++
		}
		names = names[i:]
	}
	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
	}
	return names
}
