package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// EndpointEnv overrides the S3-compatible endpoint used by s3:// URIs.
// Without it the backend talks to AWS S3. An "http://" prefix disables TLS,
// which is handy for local MinIO.
const EndpointEnv = "VECBRIDGE_S3_ENDPOINT"

func parseObjectURI(rest string) (bucket, prefix string, err error) {
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("engine: s3 uri is missing a bucket")
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func connectObject(ctx context.Context, rest string) (Connection, error) {
	bucket, prefix, err := parseObjectURI(rest)
	if err != nil {
		return nil, err
	}

	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	secure := true
	if trimmed, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint, secure = trimmed, false
	} else {
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		}),
		Region: os.Getenv("AWS_REGION"),
		Secure: secure,
	})
	if err != nil {
		return nil, &StorageError{Op: "connect", Path: endpoint, Err: err}
	}

	return &objectConnection{
		client: client,
		bucket: bucket,
		prefix: prefix,
		open:   make(map[string]*tableState),
	}, nil
}

// objectConnection stores each table as one object in an S3-compatible
// bucket. Table state is loaded on open and written back after every
// mutation.
type objectConnection struct {
	client *minio.Client
	bucket string
	prefix string
	mu     sync.Mutex
	open   map[string]*tableState
}

func (c *objectConnection) key(name string) string {
	return path.Join(c.prefix, name+tableFileExt)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func (c *objectConnection) TableNames(ctx context.Context, opts ListOptions) ([]string, error) {
	listPrefix := c.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	var names []string
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, &StorageError{Op: "list", Path: c.bucket, Err: obj.Err}
		}
		name := strings.TrimPrefix(obj.Key, listPrefix)
		if !strings.HasSuffix(name, tableFileExt) || strings.Contains(name, "/") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, tableFileExt))
	}
	return applyListOptions(names, opts), nil
}

func (c *objectConnection) OpenTable(ctx context.Context, name string) (Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.open[name]; ok {
		return &stateTable{state: state}, nil
	}

	key := c.key(name)
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &StorageError{Op: "get", Path: key, Err: err}
	}
	defer obj.Close()

	schema, records, err := decodeTableData(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, &TableNotFoundError{Name: name}
		}
		return nil, &StorageError{Op: "read", Path: key, Err: err}
	}

	state := newTableState(name, schema)
	state.records = records
	state.persist = c.persistFunc(key)
	c.open[name] = state
	return &stateTable{state: state}, nil
}

func (c *objectConnection) CreateTable(ctx context.Context, name string, schema *arrow.Schema) (Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.key(name)
	if _, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{}); err == nil {
		return nil, &TableExistsError{Name: name}
	} else if !isNoSuchKey(err) {
		return nil, &StorageError{Op: "stat", Path: key, Err: err}
	}

	state := newTableState(name, schema)
	state.persist = c.persistFunc(key)
	if err := state.persist(ctx, schema, nil); err != nil {
		return nil, err
	}
	c.open[name] = state
	return &stateTable{state: state}, nil
}

// persistFunc uploads the full table image. Object stores replace objects
// atomically, so readers never observe a torn table.
func (c *objectConnection) persistFunc(key string) func(context.Context, *arrow.Schema, []arrow.Record) error {
	return func(ctx context.Context, schema *arrow.Schema, records []arrow.Record) error {
		data, err := encodeTableData(schema, records)
		if err != nil {
			return &StorageError{Op: "encode", Path: key, Err: err}
		}
		_, err = c.client.PutObject(ctx, c.bucket, key,
			bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
		if err != nil {
			return &StorageError{Op: "put", Path: key, Err: err}
		}
		return nil
	}
}

func (c *objectConnection) Close() error { return nil }
