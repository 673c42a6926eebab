package engine

import (
	"bytes"
	"errors"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/klauspost/compress/zstd"
)

// Table data at rest is an Arrow IPC stream wrapped in a zstd frame. Both
// the directory backend and the object-store backend share this encoding.

func encodeTableData(schema *arrow.Schema, records []arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}

	w := ipc.NewWriter(zw, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			zw.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeTableData reads a table back, retaining every record for the
// caller.
func decodeTableData(r io.Reader) (*arrow.Schema, []arrow.Record, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer zr.Close()

	rdr, err := ipc.NewReader(zr, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, nil, err
	}
	defer rdr.Release()

	var records []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		releaseAll(records)
		return nil, nil, err
	}
	return rdr.Schema(), records, nil
}
