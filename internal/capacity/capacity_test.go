package capacity

import (
	"testing"
	"time"

	"github.com/jordigilh/ocpaggregator/internal/model"
)

func newPodUsageTable(t *testing.T, rows []struct {
	node     string
	interval time.Time
	cpuCap   float64
	memCap   float64
}) *model.Table {
	t.Helper()
	tbl := model.NewTable()
	nodes := make([]string, len(rows))
	intervals := make([]time.Time, len(rows))
	cpuCaps := make([]float64, len(rows))
	memCaps := make([]float64, len(rows))
	for i, r := range rows {
		nodes[i] = r.node
		intervals[i] = r.interval
		cpuCaps[i] = r.cpuCap
		memCaps[i] = r.memCap
	}
	tbl.SetStringColumn("node", nodes)
	tbl.SetTimeColumn("interval_start", intervals)
	tbl.SetFloat64Column("node_capacity_cpu_core_seconds", cpuCaps)
	tbl.SetFloat64Column("node_capacity_memory_byte_seconds", memCaps)
	return tbl
}

func TestComputeTakesMaxPerIntervalThenSums(t *testing.T) {
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Two rows in the SAME interval for node n1: the capacity columns should
	// be identical on both (every pod sample on that node/interval reports
	// the same node capacity), but even if they weren't, MAX must be taken,
	// not a sum — duplicated rows must not double-count capacity.
	rows := []struct {
		node     string
		interval time.Time
		cpuCap   float64
		memCap   float64
	}{
		{"n1", day, 4 * secondsPerHour, 16 * bytesPerGiB * secondsPerHour},
		{"n1", day, 4 * secondsPerHour, 16 * bytesPerGiB * secondsPerHour}, // duplicate sample
		{"n1", day.Add(time.Hour), 4 * secondsPerHour, 16 * bytesPerGiB * secondsPerHour},
	}
	tbl := newPodUsageTable(t, rows)

	nodeCaps, clusterCaps := Compute(tbl)

	if len(nodeCaps) != 1 {
		t.Fatalf("got %d node capacities, want 1", len(nodeCaps))
	}
	nc := nodeCaps[0]
	if nc.Node != "n1" || nc.Day != "2026-03-01" {
		t.Fatalf("unexpected node capacity key: %+v", nc)
	}
	// Two distinct intervals, each contributing 4 core-hours -> 8 total.
	if nc.CPUCoreHours != 8 {
		t.Fatalf("CPUCoreHours = %v, want 8", nc.CPUCoreHours)
	}
	if nc.CPUCores != 8/hoursPerDay {
		t.Fatalf("CPUCores = %v, want %v", nc.CPUCores, 8/hoursPerDay)
	}
	if nc.MemoryGigabyteHours != 32 {
		t.Fatalf("MemoryGigabyteHours = %v, want 32", nc.MemoryGigabyteHours)
	}

	if len(clusterCaps) != 1 {
		t.Fatalf("got %d cluster capacities, want 1", len(clusterCaps))
	}
	if clusterCaps[0].CPUCoreHours != 8 {
		t.Fatalf("cluster CPUCoreHours = %v, want 8", clusterCaps[0].CPUCoreHours)
	}
}

func TestComputeExcludesEmptyNodeRows(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		node     string
		interval time.Time
		cpuCap   float64
		memCap   float64
	}{
		{"", day, 999, 999},
	}
	tbl := newPodUsageTable(t, rows)

	nodeCaps, clusterCaps := Compute(tbl)
	if len(nodeCaps) != 0 || len(clusterCaps) != 0 {
		t.Fatalf("rows with empty node should be excluded, got %v / %v", nodeCaps, clusterCaps)
	}
}

func TestComputeSumsAcrossNodesForClusterCapacity(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		node     string
		interval time.Time
		cpuCap   float64
		memCap   float64
	}{
		{"n1", day, 4 * secondsPerHour, 0},
		{"n2", day, 6 * secondsPerHour, 0},
	}
	tbl := newPodUsageTable(t, rows)

	_, clusterCaps := Compute(tbl)
	if len(clusterCaps) != 1 {
		t.Fatalf("got %d cluster capacities, want 1", len(clusterCaps))
	}
	if clusterCaps[0].CPUCoreHours != 10 {
		t.Fatalf("cluster CPUCoreHours = %v, want 10 (sum across nodes)", clusterCaps[0].CPUCoreHours)
	}
}

func TestIndexBuildsLookupMaps(t *testing.T) {
	nodeCaps := []NodeCapacity{{Day: "2026-03-01", Node: "n1", CPUCoreHours: 4}}
	clusterCaps := []ClusterCapacity{{Day: "2026-03-01", CPUCoreHours: 4}}

	byNodeDay, byDay := Index(nodeCaps, clusterCaps)

	if byNodeDay[NodeDay{Day: "2026-03-01", Node: "n1"}].CPUCoreHours != 4 {
		t.Fatalf("byNodeDay lookup failed: %+v", byNodeDay)
	}
	if byDay["2026-03-01"].CPUCoreHours != 4 {
		t.Fatalf("byDay lookup failed: %+v", byDay)
	}
}
