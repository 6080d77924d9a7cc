package objectstore

import (
	"context"
	"errors"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	"github.com/minio/minio-go/v7"

	"github.com/jordigilh/ocpaggregator/internal/model"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// labelColumnNames are the columns the rest of the engine expects to
// receive as model.LabelsEncoding rather than a plain string, regardless
// of whether the underlying Parquet column is dictionary-encoded JSON
// text or a plain string column.
var labelColumnNames = map[string]bool{
	"pod_labels":    true,
	"volume_labels": true,
	"labels":        true,
}

// timestampColumnNames are the columns decoded as time.Time. All
// timestamps are treated as UTC-naive.
var timestampColumnNames = map[string]bool{
	"interval_start": true,
	"interval_end":   true,
}

// ReadOptions controls column projection, mapping onto the
// column_filtering configuration flag. UseCategorical carries the
// use_categorical flag but has no effect on decoding: dictionary-encoded
// string columns are always expanded into plain strings and
// model.Column.Dictionary is left nil.
type ReadOptions struct {
	Columns         []string
	ColumnFiltering bool
	UseCategorical  bool
	ChunkSize       int64
}

// openFileReader opens one object as a Parquet file and wraps it with the
// Arrow-aware reader. Column projection is computed here, at file-open
// time, and passed to every subsequent read call so it is pushed down to
// the column-chunk decode step rather than applied after decoding.
func openFileReader(ctx context.Context, client *Client, key string, opts ReadOptions) (*pqarrow.FileReader, []int, error) {
	obj, err := client.Open(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	rdr, err := file.NewParquetReader(obj)
	if err != nil {
		obj.Close()
		return nil, nil, ocperrors.NewSchema("failed to open parquet file "+key, err)
	}

	pqReader, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{BatchSize: chunkSizeOrDefault(opts.ChunkSize)}, memory.DefaultAllocator)
	if err != nil {
		obj.Close()
		return nil, nil, ocperrors.NewSchema("failed to build arrow reader for "+key, err)
	}

	schema, err := pqReader.Schema()
	if err != nil {
		obj.Close()
		return nil, nil, ocperrors.NewSchema("failed to read parquet schema for "+key, err)
	}

	indices := columnIndices(schema, opts)
	return pqReader, indices, nil
}

func chunkSizeOrDefault(n int64) int64 {
	if n <= 0 {
		return 64 * 1024
	}
	return n
}

// columnIndices resolves the requested projection to field indices in the
// file's Arrow schema. When opts.ColumnFiltering is false, or Columns is
// empty, every column is read — the caller asked not to push projection
// down.
func columnIndices(schema *arrow.Schema, opts ReadOptions) []int {
	if !opts.ColumnFiltering || len(opts.Columns) == 0 {
		indices := make([]int, schema.NumFields())
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	var indices []int
	for _, name := range opts.Columns {
		for _, idx := range schema.FieldIndices(name) {
			indices = append(indices, idx)
		}
	}
	return indices
}

// ReadTable is the non-streaming read path: it reads every listed
// file fully, applies the column projection, and concatenates into one
// materialized Table. Missing files were already filtered out by the
// caller's partition listing, so every key here is expected to exist;
// a file that 404s between list and read is still treated as empty input
// rather than an error, matching the "missing files are empty" contract.
func ReadTable(ctx context.Context, client *Client, keys []string, opts ReadOptions) (*model.Table, error) {
	tables := make([]*model.Table, 0, len(keys))
	for _, key := range keys {
		pqReader, indices, err := openFileReader(ctx, client, key, opts)
		if err != nil {
			if minio.ToErrorResponse(errors.Unwrap(err)).Code == "NoSuchKey" {
				continue
			}
			return nil, err
		}
		arrowTable, err := pqReader.ReadTable(ctx)
		if err != nil {
			return nil, ocperrors.NewSchema("failed to read parquet table from "+key, err)
		}
		t, err := arrowTableToModel(arrowTable, opts)
		arrowTable.Release()
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return model.NewTable(), nil
	}
	return model.Concat(tables...), nil
}

// arrowTableToModel converts an Arrow table already restricted to the
// requested columns into this engine's internal columnar representation,
// normalizing dictionary-encoded and plain string chunks to a single
// logical string column regardless of how the source file encoded it.
func arrowTableToModel(t arrow.Table, opts ReadOptions) (*model.Table, error) {
	out := model.NewTable()
	numRows := int(t.NumRows())
	for i := 0; i < int(t.NumCols()); i++ {
		field := t.Schema().Field(i)
		col := t.Column(i)
		if err := appendColumn(out, field, col, numRows, opts); err != nil {
			return nil, err
		}
	}
	out.NumRows = numRows
	return out, nil
}

func appendColumn(out *model.Table, field arrow.Field, col *arrow.Column, numRows int, opts ReadOptions) error {
	name := field.Name

	switch {
	case labelColumnNames[name]:
		vals := make([]model.LabelsEncoding, 0, numRows)
		for _, chunk := range col.Data().Chunks() {
			vals = append(vals, labelsFromChunk(chunk)...)
		}
		out.SetLabelsColumn(name, vals)
		return nil
	case timestampColumnNames[name]:
		ts, err := timestampsFromChunks(col)
		if err != nil {
			return ocperrors.NewSchema("unreadable timestamp column "+name, err)
		}
		out.SetTimeColumn(name, ts)
		return nil
	default:
		switch field.Type.ID() {
		case arrow.FLOAT64, arrow.FLOAT32, arrow.INT64, arrow.INT32:
			vals, err := floatsFromChunks(col)
			if err != nil {
				return ocperrors.NewSchema("unreadable numeric column "+name, err)
			}
			out.SetFloat64Column(name, vals)
		default:
			vals, err := stringsFromChunks(col)
			if err != nil {
				return ocperrors.NewSchema("unreadable string column "+name, err)
			}
			out.SetStringColumn(name, vals)
		}
	}
	return nil
}

// labelsFromChunk wraps each row of a string (or dictionary<string>)
// column as an undecoded JSON-text LabelsEncoding; the label processor
// decodes lazily, only for rows actually reached, and a NaN/null entry
// produces an empty-map decode rather than a parse error.
func labelsFromChunk(chunk arrow.Array) []model.LabelsEncoding {
	strs := stringArrayValues(chunk)
	out := make([]model.LabelsEncoding, len(strs))
	for i, s := range strs {
		if s == nil {
			out[i] = model.Empty()
			continue
		}
		out[i] = model.JSONText([]byte(*s))
	}
	return out
}

// stringArrayValues reads a chunk that is either a plain StringArray or a
// Dictionary<String> array, returning nil for each null/invalid entry so
// callers can distinguish "empty string" from "absent".
func stringArrayValues(chunk arrow.Array) []*string {
	switch arr := chunk.(type) {
	case *array.String:
		out := make([]*string, arr.Len())
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			v := arr.Value(i)
			out[i] = &v
		}
		return out
	case *array.Dictionary:
		dict, ok := arr.Dictionary().(*array.String)
		if !ok {
			return make([]*string, arr.Len())
		}
		out := make([]*string, arr.Len())
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			v := dict.Value(arr.GetValueIndex(i))
			out[i] = &v
		}
		return out
	default:
		return make([]*string, chunk.Len())
	}
}

func stringsFromChunks(col *arrow.Column) ([]string, error) {
	var out []string
	for _, chunk := range col.Data().Chunks() {
		for _, v := range stringArrayValues(chunk) {
			if v == nil {
				out = append(out, "")
			} else {
				out = append(out, *v)
			}
		}
	}
	return out, nil
}

func floatsFromChunks(col *arrow.Column) ([]float64, error) {
	var out []float64
	for _, chunk := range col.Data().Chunks() {
		switch arr := chunk.(type) {
		case *array.Float64:
			for i := 0; i < arr.Len(); i++ {
				if arr.IsNull(i) {
					out = append(out, 0)
					continue
				}
				out = append(out, arr.Value(i))
			}
		case *array.Float32:
			for i := 0; i < arr.Len(); i++ {
				if arr.IsNull(i) {
					out = append(out, 0)
					continue
				}
				out = append(out, float64(arr.Value(i)))
			}
		case *array.Int64:
			for i := 0; i < arr.Len(); i++ {
				if arr.IsNull(i) {
					out = append(out, 0)
					continue
				}
				out = append(out, float64(arr.Value(i)))
			}
		default:
			out = append(out, make([]float64, chunk.Len())...)
		}
	}
	return out, nil
}

func timestampsFromChunks(col *arrow.Column) ([]time.Time, error) {
	var out []time.Time
	for _, chunk := range col.Data().Chunks() {
		arr, ok := chunk.(*array.Timestamp)
		if !ok {
			out = append(out, make([]time.Time, chunk.Len())...)
			continue
		}
		unit := arrow.Nanosecond
		if dt, ok := arr.DataType().(*arrow.TimestampType); ok {
			unit = dt.Unit
		}
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				out = append(out, time.Time{})
				continue
			}
			// All timestamps are treated as UTC-naive; the source column
			// carries no timezone offset.
			out = append(out, arr.Value(i).ToTime(unit).UTC())
		}
	}
	return out, nil
}
