package objectstore

import (
	"testing"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

func TestColumnIndicesReturnsAllWhenFilteringDisabled(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Float64},
		{Name: "b", Type: arrow.BinaryTypes.String},
	}, nil)

	got := columnIndices(schema, ReadOptions{ColumnFiltering: false, Columns: []string{"a"}})
	if len(got) != 2 {
		t.Fatalf("columnIndices() = %v, want all 2 fields when filtering disabled", got)
	}
}

func TestColumnIndicesProjectsRequestedColumns(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Float64},
		{Name: "b", Type: arrow.BinaryTypes.String},
		{Name: "c", Type: arrow.BinaryTypes.String},
	}, nil)

	got := columnIndices(schema, ReadOptions{ColumnFiltering: true, Columns: []string{"c"}})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("columnIndices() = %v, want [2]", got)
	}
}

func buildStringArray(t *testing.T, vals []*string) *array.String {
	t.Helper()
	pool := memory.NewGoAllocator()
	b := array.NewStringBuilder(pool)
	defer b.Release()
	for _, v := range vals {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(*v)
	}
	return b.NewStringArray()
}

func strp(s string) *string { return &s }

func TestStringArrayValuesPlainString(t *testing.T) {
	arr := buildStringArray(t, []*string{strp("a"), nil, strp("c")})
	defer arr.Release()

	got := stringArrayValues(arr)
	if len(got) != 3 || got[0] == nil || *got[0] != "a" || got[1] != nil || got[2] == nil || *got[2] != "c" {
		t.Fatalf("stringArrayValues() = %v", got)
	}
}

func TestLabelsFromChunkWrapsAsJSONTextAndEmptyForNull(t *testing.T) {
	arr := buildStringArray(t, []*string{strp(`{"a":"b"}`), nil})
	defer arr.Release()

	got := labelsFromChunk(arr)
	if len(got) != 2 {
		t.Fatalf("labelsFromChunk() length = %d, want 2", len(got))
	}
	if !got[0].IsJSONText() {
		t.Fatalf("row 0 should be JSONText")
	}
	if got[1].IsJSONText() || got[1].IsNative() {
		t.Fatalf("row 1 (null) should decode to the Empty variant")
	}
}

func buildFloat64Array(t *testing.T, vals []float64, valid []bool) *array.Float64 {
	t.Helper()
	pool := memory.NewGoAllocator()
	b := array.NewFloat64Builder(pool)
	defer b.Release()
	for i, v := range vals {
		if valid != nil && !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
	return b.NewFloat64Array()
}

func TestFloatsFromChunksReadsFloat64AndNullsAsZero(t *testing.T) {
	arr := buildFloat64Array(t, []float64{1.5, 0, 3.5}, []bool{true, false, true})
	defer arr.Release()

	col := arrow.NewColumn(arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64}, arrow.NewChunked(arrow.PrimitiveTypes.Float64, []arrow.Array{arr}))
	defer col.Release()

	got, err := floatsFromChunks(col)
	if err != nil {
		t.Fatalf("floatsFromChunks() error = %v", err)
	}
	want := []float64{1.5, 0, 3.5}
	if len(got) != len(want) {
		t.Fatalf("floatsFromChunks() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("floatsFromChunks()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTimestampsFromChunksAppliesUTC(t *testing.T) {
	pool := memory.NewGoAllocator()
	dt := &arrow.TimestampType{Unit: arrow.Second}
	b := array.NewTimestampBuilder(pool, dt)
	defer b.Release()
	ts := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	val, err := arrow.TimestampFromTime(ts, arrow.Second)
	if err != nil {
		t.Fatalf("TimestampFromTime() error = %v", err)
	}
	b.Append(val)
	b.AppendNull()
	arr := b.NewTimestampArray()
	defer arr.Release()

	col := arrow.NewColumn(arrow.Field{Name: "interval_start", Type: dt}, arrow.NewChunked(dt, []arrow.Array{arr}))
	defer col.Release()

	got, err := timestampsFromChunks(col)
	if err != nil {
		t.Fatalf("timestampsFromChunks() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d timestamps, want 2", len(got))
	}
	if !got[0].Equal(ts) {
		t.Fatalf("got[0] = %v, want %v", got[0], ts)
	}
	if got[0].Location() != time.UTC {
		t.Fatalf("got[0] location = %v, want UTC", got[0].Location())
	}
	if !got[1].IsZero() {
		t.Fatalf("got[1] (null) = %v, want zero time", got[1])
	}
}
