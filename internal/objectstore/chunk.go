package objectstore

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"

	"github.com/jordigilh/ocpaggregator/internal/model"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// ChunkIterator implements stream.ChunkIterator over a sequence of
// Parquet files: it yields one model.Table per underlying Arrow record
// batch, in file-traversal order, holding at most one open file reader and
// one in-flight record at a time. It is intentionally a plain pull-based
// iterator rather than a pre-materialized slice of chunks, so the
// stream package's bounded worker-pool channel is the only place chunks
// ever queue up.
type ChunkIterator struct {
	ctx     context.Context
	client  *Client
	keys    []string
	opts    ReadOptions
	keyIdx  int
	current pqarrow.RecordReader
}

// NewChunkIterator returns a streaming reader over keys, applying the
// requested projection at file-open time for every file in turn.
func NewChunkIterator(ctx context.Context, client *Client, keys []string, opts ReadOptions) *ChunkIterator {
	return &ChunkIterator{ctx: ctx, client: client, keys: keys, opts: opts}
}

// Next returns the next chunk, opening the next file's record reader
// transparently when the current one is exhausted. It returns io.EOF once
// every file has been drained, satisfying stream.ChunkIterator.
func (it *ChunkIterator) Next(ctx context.Context) (*model.Table, error) {
	for {
		if it.current == nil {
			if it.keyIdx >= len(it.keys) {
				return nil, io.EOF
			}
			key := it.keys[it.keyIdx]
			it.keyIdx++

			pqReader, indices, err := openFileReader(ctx, it.client, key, it.opts)
			if err != nil {
				return nil, err
			}
			rr, err := pqReader.GetRecordReader(ctx, indices, nil)
			if err != nil {
				return nil, ocperrors.NewSchema("failed to build record reader for "+key, err)
			}
			it.current = rr
		}

		rec, err := it.current.Read()
		if err == io.EOF {
			it.current.Release()
			it.current = nil
			continue
		}
		if err != nil {
			return nil, ocperrors.NewSchema("failed to read parquet record batch", err)
		}

		t, err := arrowRecordToModel(rec, it.opts)
		rec.Release()
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// arrowRecordToModel is arrowTableToModel's counterpart for a single
// Arrow record batch (the unit streaming mode reads), rather than a whole
// in-memory Arrow table.
func arrowRecordToModel(rec arrow.Record, opts ReadOptions) (*model.Table, error) {
	out := model.NewTable()
	numRows := int(rec.NumRows())
	schema := rec.Schema()
	for i := 0; i < int(rec.NumCols()); i++ {
		field := schema.Field(i)
		col := arrow.NewColumn(field, arrow.NewChunked(field.Type, []arrow.Array{rec.Column(i)}))
		err := appendColumn(out, field, col, numRows, opts)
		col.Release()
		if err != nil {
			return nil, err
		}
	}
	out.NumRows = numRows
	return out, nil
}
