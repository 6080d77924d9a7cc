package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

func TestChunkIteratorEOFWithNoKeys(t *testing.T) {
	it := NewChunkIterator(context.Background(), nil, nil, ReadOptions{})
	_, err := it.Next(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF", err)
	}
}

func TestArrowRecordToModelConvertsOneRecordBatch(t *testing.T) {
	pool := memory.NewGoAllocator()

	nodeB := array.NewStringBuilder(pool)
	defer nodeB.Release()
	nodeB.Append("n1")
	nodeB.Append("n2")
	nodeArr := nodeB.NewStringArray()
	defer nodeArr.Release()

	usageB := array.NewFloat64Builder(pool)
	defer usageB.Release()
	usageB.Append(100)
	usageB.Append(200)
	usageArr := usageB.NewFloat64Array()
	defer usageArr.Release()

	tsType := &arrow.TimestampType{Unit: arrow.Second}
	tsB := array.NewTimestampBuilder(pool, tsType)
	defer tsB.Release()
	ts := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	val, err := arrow.TimestampFromTime(ts, arrow.Second)
	if err != nil {
		t.Fatalf("TimestampFromTime() error = %v", err)
	}
	tsB.Append(val)
	tsB.Append(val)
	tsArr := tsB.NewTimestampArray()
	defer tsArr.Release()

	labelsB := array.NewStringBuilder(pool)
	defer labelsB.Release()
	labelsB.Append(`{"team":"infra"}`)
	labelsB.AppendNull()
	labelsArr := labelsB.NewStringArray()
	defer labelsArr.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "node", Type: arrow.BinaryTypes.String},
		{Name: "pod_usage_cpu_core_seconds", Type: arrow.PrimitiveTypes.Float64},
		{Name: "interval_start", Type: tsType},
		{Name: "pod_labels", Type: arrow.BinaryTypes.String},
	}, nil)

	rec := array.NewRecord(schema, []arrow.Array{nodeArr, usageArr, tsArr, labelsArr}, 2)
	defer rec.Release()

	tbl, err := arrowRecordToModel(rec, ReadOptions{})
	if err != nil {
		t.Fatalf("arrowRecordToModel() error = %v", err)
	}
	if tbl.NumRows != 2 {
		t.Fatalf("NumRows = %d, want 2", tbl.NumRows)
	}
	if got := tbl.StringColumn("node"); len(got) != 2 || got[0] != "n1" || got[1] != "n2" {
		t.Fatalf("node column = %v", got)
	}
	if got := tbl.Float64Column("pod_usage_cpu_core_seconds"); len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Fatalf("usage column = %v", got)
	}
	if got := tbl.TimeColumn("interval_start"); len(got) != 2 || !got[0].Equal(ts) {
		t.Fatalf("interval_start column = %v", got)
	}
	labelsGot := tbl.LabelsColumn("pod_labels")
	if len(labelsGot) != 2 || !labelsGot[0].IsJSONText() || labelsGot[1].IsJSONText() || labelsGot[1].IsNative() {
		t.Fatalf("pod_labels column = %v", labelsGot)
	}
}
