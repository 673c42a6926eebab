package engine

import (
	"context"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
)

// memRegistry holds one catalog per memory:// URI for the lifetime of the
// process, so closing and reopening a connection to the same URI observes
// the same tables.
var memRegistry = struct {
	mu   sync.Mutex
	dbs  map[string]*memCatalog
	once sync.Once
}{}

type memCatalog struct {
	mu     sync.RWMutex
	tables map[string]*tableState
}

func connectMemory(uri string) (Connection, error) {
	memRegistry.mu.Lock()
	defer memRegistry.mu.Unlock()

	memRegistry.once.Do(func() {
		memRegistry.dbs = make(map[string]*memCatalog)
	})
	cat, ok := memRegistry.dbs[uri]
	if !ok {
		cat = &memCatalog{tables: make(map[string]*tableState)}
		memRegistry.dbs[uri] = cat
	}
	return &memConnection{catalog: cat}, nil
}

type memConnection struct {
	catalog *memCatalog
}

func (c *memConnection) TableNames(ctx context.Context, opts ListOptions) ([]string, error) {
	c.catalog.mu.RLock()
	names := make([]string, 0, len(c.catalog.tables))
	for name := range c.catalog.tables {
		names = append(names, name)
	}
	c.catalog.mu.RUnlock()

	return applyListOptions(names, opts), nil
}

func (c *memConnection) OpenTable(ctx context.Context, name string) (Table, error) {
	c.catalog.mu.RLock()
	state, ok := c.catalog.tables[name]
	c.catalog.mu.RUnlock()

	if !ok {
		return nil, &TableNotFoundError{Name: name}
	}
	return &stateTable{state: state}, nil
}

func (c *memConnection) CreateTable(ctx context.Context, name string, schema *arrow.Schema) (Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}

	c.catalog.mu.Lock()
	defer c.catalog.mu.Unlock()

	if _, exists := c.catalog.tables[name]; exists {
		return nil, &TableExistsError{Name: name}
	}
	state := newTableState(name, schema)
	c.catalog.tables[name] = state
	return &stateTable{state: state}, nil
}

func (c *memConnection) Close() error { return nil }
