package stream

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jordigilh/ocpaggregator/internal/aggregate"
	"github.com/jordigilh/ocpaggregator/internal/labels"
	"github.com/jordigilh/ocpaggregator/internal/model"
)

// These tests exercise RunPod/RunStorage with the real aggregate package
// (not the synthetic sumAgg/sumMerge above) across all three modes, driven
// by a genuinely multi-chunk iterator for Mode B/C, to verify the
// mode-equivalence law: Modes A, B, and C must produce the same output
// rows as multisets regardless of how the input was chunked or in what
// order chunks completed.

type podRow struct {
	node, namespace, resourceID string
	day                         time.Time
	usageCPU, reqCPU            float64
}

func buildPodTable(rows []podRow) *model.Table {
	n := len(rows)
	node := make([]string, n)
	namespace := make([]string, n)
	resourceID := make([]string, n)
	interval := make([]time.Time, n)
	usage := make([]float64, n)
	req := make([]float64, n)
	zero := make([]float64, n)
	podLabels := make([]model.LabelsEncoding, n)

	for i, r := range rows {
		node[i] = r.node
		namespace[i] = r.namespace
		resourceID[i] = r.resourceID
		interval[i] = r.day
		usage[i] = r.usageCPU
		req[i] = r.reqCPU
		podLabels[i] = model.Empty()
	}

	tbl := model.NewTable()
	tbl.SetStringColumn("node", node)
	tbl.SetStringColumn("namespace", namespace)
	tbl.SetStringColumn("resource_id", resourceID)
	tbl.SetTimeColumn("interval_start", interval)
	tbl.SetFloat64Column("pod_usage_cpu_core_seconds", usage)
	tbl.SetFloat64Column("pod_request_cpu_core_seconds", req)
	tbl.SetFloat64Column("pod_limit_cpu_core_seconds", zero)
	tbl.SetFloat64Column("pod_usage_memory_byte_seconds", zero)
	tbl.SetFloat64Column("pod_request_memory_byte_seconds", zero)
	tbl.SetFloat64Column("pod_limit_memory_byte_seconds", zero)
	tbl.SetLabelsColumn("pod_labels", podLabels)
	return tbl
}

func lessOutputRow(a, b model.OutputRow) bool {
	ka := a.Day + "|" + a.Namespace + "|" + a.Node + "|" + a.ResourceID
	kb := b.Day + "|" + b.Namespace + "|" + b.Node + "|" + b.ResourceID
	return ka < kb
}

func TestPodModesAgreeAsMultisetsAcrossRealChunkBoundaries(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)

	rows := []podRow{
		{node: "n1", namespace: "nsA", resourceID: "pod-1", day: day1, usageCPU: 100, reqCPU: 50},
		{node: "n1", namespace: "nsA", resourceID: "pod-1", day: day1, usageCPU: 200, reqCPU: 60},
		{node: "n1", namespace: "nsB", resourceID: "pod-2", day: day2, usageCPU: 300, reqCPU: 10},
		{node: "n2", namespace: "nsA", resourceID: "pod-3", day: day2, usageCPU: 400, reqCPU: 900},
		{node: "n2", namespace: "nsB", resourceID: "pod-4", day: day3, usageCPU: 500, reqCPU: 20},
		{node: "n2", namespace: "nsB", resourceID: "pod-4", day: day3, usageCPU: 600, reqCPU: 30},
	}
	chunked := func() []*model.Table {
		return []*model.Table{
			buildPodTable(rows[0:2]),
			buildPodTable(rows[2:4]),
			buildPodTable(rows[4:6]),
		}
	}

	allow := labels.NewAllowList(nil)
	identity := aggregate.Identity{SourceUUID: "src", Year: "2026", Month: "03"}
	ctx := context.Background()

	accsA, droppedA, err := RunPod(ctx, ModeInMemory, 1, SingleChunk(buildPodTable(rows)), nil, nil, allow)
	if err != nil {
		t.Fatalf("Mode A: RunPod() error = %v", err)
	}
	accsB, droppedB, err := RunPod(ctx, ModeSerialStreaming, 1, &fixedChunkIterator{tables: chunked()}, nil, nil, allow)
	if err != nil {
		t.Fatalf("Mode B: RunPod() error = %v", err)
	}
	accsC, droppedC, err := RunPod(ctx, ModeParallelStreaming, 2, &fixedChunkIterator{tables: chunked()}, nil, nil, allow)
	if err != nil {
		t.Fatalf("Mode C: RunPod() error = %v", err)
	}
	if droppedA != 0 || droppedB != 0 || droppedC != 0 {
		t.Fatalf("dropped counts = %d/%d/%d, want 0/0/0", droppedA, droppedB, droppedC)
	}

	rowsA := aggregate.FinalizePod(accsA, nil, nil, nil, identity)
	rowsB := aggregate.FinalizePod(accsB, nil, nil, nil, identity)
	rowsC := aggregate.FinalizePod(accsC, nil, nil, nil, identity)

	if len(rowsA) != 4 {
		t.Fatalf("Mode A produced %d rows, want 4 groups", len(rowsA))
	}

	if diff := cmp.Diff(rowsA, rowsB, cmpopts.SortSlices(lessOutputRow)); diff != "" {
		t.Fatalf("Mode A and Mode B disagree as multisets (-A +B):\n%s", diff)
	}
	if diff := cmp.Diff(rowsA, rowsC, cmpopts.SortSlices(lessOutputRow)); diff != "" {
		t.Fatalf("Mode A and Mode C disagree as multisets (-A +C):\n%s", diff)
	}
}

type storageRow struct {
	namespace, pvc, pv, storageClass string
	day                              time.Time
	capacityGB, requestGB, usageGB   float64
}

func buildStorageTable(rows []storageRow) *model.Table {
	n := len(rows)
	namespace := make([]string, n)
	pvc := make([]string, n)
	pv := make([]string, n)
	sc := make([]string, n)
	csi := make([]string, n)
	interval := make([]time.Time, n)
	capCol := make([]float64, n)
	reqCol := make([]float64, n)
	useCol := make([]float64, n)
	volLabels := make([]model.LabelsEncoding, n)

	for i, r := range rows {
		namespace[i] = r.namespace
		pvc[i] = r.pvc
		pv[i] = r.pv
		sc[i] = r.storageClass
		interval[i] = r.day
		capCol[i] = r.capacityGB
		reqCol[i] = r.requestGB
		useCol[i] = r.usageGB
		volLabels[i] = model.Empty()
	}

	tbl := model.NewTable()
	tbl.SetStringColumn("namespace", namespace)
	tbl.SetStringColumn("persistentvolumeclaim", pvc)
	tbl.SetStringColumn("persistentvolume", pv)
	tbl.SetStringColumn("storageclass", sc)
	tbl.SetStringColumn("csi_volume_handle", csi)
	tbl.SetTimeColumn("interval_start", interval)
	tbl.SetFloat64Column("persistentvolumeclaim_capacity_gigabyte", capCol)
	tbl.SetFloat64Column("volume_request_storage_gigabyte", reqCol)
	tbl.SetFloat64Column("persistentvolumeclaim_usage_gigabyte", useCol)
	tbl.SetLabelsColumn("volume_labels", volLabels)
	return tbl
}

func TestStorageModesAgreeAsMultisetsAcrossRealChunkBoundaries(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	rows := []storageRow{
		{namespace: "nsA", pvc: "pvc-1", pv: "pv-1", storageClass: "gp3", day: day1, capacityGB: 10, requestGB: 5, usageGB: 3},
		{namespace: "nsA", pvc: "pvc-1", pv: "pv-1", storageClass: "gp3", day: day1, capacityGB: 10, requestGB: 5, usageGB: 4},
		{namespace: "nsB", pvc: "pvc-2", pv: "pv-2", storageClass: "gp2", day: day2, capacityGB: 20, requestGB: 15, usageGB: 12},
		{namespace: "nsB", pvc: "pvc-2", pv: "pv-2", storageClass: "gp2", day: day2, capacityGB: 20, requestGB: 15, usageGB: 13},
	}
	chunked := func() []*model.Table {
		return []*model.Table{
			buildStorageTable(rows[0:2]),
			buildStorageTable(rows[2:4]),
		}
	}

	allow := labels.NewAllowList(nil)
	identity := aggregate.Identity{SourceUUID: "src", Year: "2026", Month: "03"}
	ctx := context.Background()
	const hoursInMonth = 744.0

	accsA, droppedA, err := RunStorage(ctx, ModeInMemory, 1, SingleChunk(buildStorageTable(rows)), allow)
	if err != nil {
		t.Fatalf("Mode A: RunStorage() error = %v", err)
	}
	accsB, droppedB, err := RunStorage(ctx, ModeSerialStreaming, 1, &fixedChunkIterator{tables: chunked()}, allow)
	if err != nil {
		t.Fatalf("Mode B: RunStorage() error = %v", err)
	}
	accsC, droppedC, err := RunStorage(ctx, ModeParallelStreaming, 2, &fixedChunkIterator{tables: chunked()}, allow)
	if err != nil {
		t.Fatalf("Mode C: RunStorage() error = %v", err)
	}
	if droppedA != 0 || droppedB != 0 || droppedC != 0 {
		t.Fatalf("dropped counts = %d/%d/%d, want 0/0/0", droppedA, droppedB, droppedC)
	}

	rowsA := aggregate.FinalizeStorage(accsA, hoursInMonth, nil, identity)
	rowsB := aggregate.FinalizeStorage(accsB, hoursInMonth, nil, identity)
	rowsC := aggregate.FinalizeStorage(accsC, hoursInMonth, nil, identity)

	if len(rowsA) != 2 {
		t.Fatalf("Mode A produced %d rows, want 2 groups", len(rowsA))
	}

	if diff := cmp.Diff(rowsA, rowsB, cmpopts.SortSlices(lessOutputRow)); diff != "" {
		t.Fatalf("Mode A and Mode B disagree as multisets (-A +B):\n%s", diff)
	}
	if diff := cmp.Diff(rowsA, rowsC, cmpopts.SortSlices(lessOutputRow)); diff != "" {
		t.Fatalf("Mode A and Mode C disagree as multisets (-A +C):\n%s", diff)
	}
}
