// Package capacity computes per-node and per-cluster daily capacity from
// raw hourly pod-usage rows.
package capacity

import (
	"time"

	"github.com/jordigilh/ocpaggregator/internal/model"
)

const (
	secondsPerHour = 3600.0
	bytesPerGiB    = 1024.0 * 1024.0 * 1024.0
	hoursPerDay    = 24.0
)

// NodeDay is the (day, node) grouping key for per-node capacity.
type NodeDay struct {
	Day  string // YYYY-MM-DD
	Node string
}

// NodeCapacity holds one node's capacity figures for one day.
type NodeCapacity struct {
	Day                       string
	Node                      string
	CPUCoreHours              float64
	CPUCores                  float64
	MemoryGigabyteHours       float64
	MemoryGigabytes           float64
}

// ClusterCapacity holds cluster-wide capacity figures for one day, the sum
// of every node's capacity that day.
type ClusterCapacity struct {
	Day                 string
	CPUCoreHours        float64
	MemoryGigabyteHours float64
}

type intervalKey struct {
	day      string
	node     string
	interval int64 // interval_start unix seconds
}

// Compute groups raw rows by (day, node, interval_start), takes the MAX
// of the two capacity columns within each interval (a node
// reports its own capacity identically on every pod-sample row for that
// interval, so MAX is idempotent against duplicates), then collapse to
// (day, node) by summing those per-interval maxima and converting units.
//
// Rows with an empty node name are excluded, per the capacity calculator's
// edge case. A day with zero qualifying rows contributes nothing: the
// caller never sees a NodeCapacity or ClusterCapacity for it.
func Compute(podUsage *model.Table) ([]NodeCapacity, []ClusterCapacity) {
	intervalStart := podUsage.TimeColumn("interval_start")
	node := podUsage.StringColumn("node")
	cpuCap := podUsage.Float64Column("node_capacity_cpu_core_seconds")
	memCap := podUsage.Float64Column("node_capacity_memory_byte_seconds")

	type maxima struct {
		cpu float64
		mem float64
	}
	perInterval := make(map[intervalKey]maxima)

	for i := 0; i < podUsage.NumRows; i++ {
		n := valAt(node, i)
		if n == "" {
			continue
		}
		ts := valAtTime(intervalStart, i)
		key := intervalKey{
			day:      ts.Format("2006-01-02"),
			node:     n,
			interval: ts.Unix(),
		}
		cur := perInterval[key]
		if v := valAtFloat(cpuCap, i); v > cur.cpu {
			cur.cpu = v
		}
		if v := valAtFloat(memCap, i); v > cur.mem {
			cur.mem = v
		}
		perInterval[key] = cur
	}

	perNodeDay := make(map[NodeDay]maxima)
	for key, m := range perInterval {
		nd := NodeDay{Day: key.day, Node: key.node}
		acc := perNodeDay[nd]
		acc.cpu += m.cpu
		acc.mem += m.mem
		perNodeDay[nd] = acc
	}

	nodeCaps := make([]NodeCapacity, 0, len(perNodeDay))
	perClusterDay := make(map[string]*ClusterCapacity)
	for nd, m := range perNodeDay {
		cpuHours := m.cpu / secondsPerHour
		memHours := m.mem / bytesPerGiB / secondsPerHour
		nc := NodeCapacity{
			Day:                 nd.Day,
			Node:                nd.Node,
			CPUCoreHours:        cpuHours,
			CPUCores:            cpuHours / hoursPerDay,
			MemoryGigabyteHours: memHours,
			MemoryGigabytes:     memHours / hoursPerDay,
		}
		nodeCaps = append(nodeCaps, nc)

		cc, ok := perClusterDay[nd.Day]
		if !ok {
			cc = &ClusterCapacity{Day: nd.Day}
			perClusterDay[nd.Day] = cc
		}
		cc.CPUCoreHours += cpuHours
		cc.MemoryGigabyteHours += memHours
	}

	clusterCaps := make([]ClusterCapacity, 0, len(perClusterDay))
	for _, cc := range perClusterDay {
		clusterCaps = append(clusterCaps, *cc)
	}
	return nodeCaps, clusterCaps
}

// Index builds lookup maps from the slices Compute returns, used by the
// pod aggregator's left-join-by-(day,node) and left-join-by-day steps.
func Index(nodeCaps []NodeCapacity, clusterCaps []ClusterCapacity) (map[NodeDay]NodeCapacity, map[string]ClusterCapacity) {
	byNodeDay := make(map[NodeDay]NodeCapacity, len(nodeCaps))
	for _, nc := range nodeCaps {
		byNodeDay[NodeDay{Day: nc.Day, Node: nc.Node}] = nc
	}
	byDay := make(map[string]ClusterCapacity, len(clusterCaps))
	for _, cc := range clusterCaps {
		byDay[cc.Day] = cc
	}
	return byNodeDay, byDay
}

func valAt(col []string, i int) string {
	if i < len(col) {
		return col[i]
	}
	return ""
}

func valAtFloat(col []float64, i int) float64 {
	if i < len(col) {
		return col[i]
	}
	return 0
}

func valAtTime(col []time.Time, i int) time.Time {
	if i < len(col) {
		return col[i]
	}
	return time.Time{}
}
