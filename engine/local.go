package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
)

// tableFileExt is the extension for stored table data, an Arrow IPC stream
// wrapped in a zstd frame.
const tableFileExt = ".arrows.zst"

func connectLocal(ctx context.Context, dir string) (Connection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &localConnection{
		dir:  dir,
		open: make(map[string]*tableState),
	}, nil
}

// localConnection stores each table as a file under dir. Table state is
// loaded on open and written back after every mutation.
type localConnection struct {
	dir  string
	mu   sync.Mutex
	open map[string]*tableState
}

func (c *localConnection) tablePath(name string) string {
	return filepath.Join(c.dir, name+tableFileExt)
}

func (c *localConnection) TableNames(ctx context.Context, opts ListOptions) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, &StorageError{Op: "readdir", Path: c.dir, Err: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tableFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), tableFileExt))
	}
	return applyListOptions(names, opts), nil
}

func (c *localConnection) OpenTable(ctx context.Context, name string) (Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.open[name]; ok {
		return &stateTable{state: state}, nil
	}

	path := c.tablePath(name)
	schema, records, err := readTableFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &TableNotFoundError{Name: name}
		}
		return nil, err
	}

	state := newTableState(name, schema)
	state.records = records
	state.persist = func(ctx context.Context, schema *arrow.Schema, records []arrow.Record) error {
		return writeTableFile(path, schema, records)
	}
	c.open[name] = state
	return &stateTable{state: state}, nil
}

func (c *localConnection) CreateTable(ctx context.Context, name string, schema *arrow.Schema) (Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.tablePath(name)
	if _, err := os.Stat(path); err == nil {
		return nil, &TableExistsError{Name: name}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, &StorageError{Op: "stat", Path: path, Err: err}
	}

	if err := writeTableFile(path, schema, nil); err != nil {
		return nil, err
	}

	state := newTableState(name, schema)
	state.persist = func(ctx context.Context, schema *arrow.Schema, records []arrow.Record) error {
		return writeTableFile(path, schema, records)
	}
	c.open[name] = state
	return &stateTable{state: state}, nil
}

func (c *localConnection) Close() error { return nil }

func readTableFile(path string) (*arrow.Schema, []arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	schema, records, err := decodeTableData(f)
	if err != nil {
		return nil, nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return schema, records, nil
}

func writeTableFile(path string, schema *arrow.Schema, records []arrow.Record) error {
	data, err := encodeTableData(schema, records)
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}

	// Write-then-rename so readers never observe a torn table file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
