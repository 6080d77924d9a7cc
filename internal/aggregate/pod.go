// Package aggregate implements the pod and storage aggregators: the
// per-day grouping, label-join, and metric-folding steps that produce
// OutputRow values from raw usage tables.
package aggregate

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/capacity"
	"github.com/jordigilh/ocpaggregator/internal/labels"
	"github.com/jordigilh/ocpaggregator/internal/model"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// Identity carries the run-wide identity columns attached to every
// OutputRow (source_uuid, cluster_id, cluster_alias, year, month).
type Identity struct {
	SourceUUID   string
	ClusterID    string
	ClusterAlias string
	Year         string
	Month        string
}

// PodGroupKey is the pod aggregator's grouping key: (day, namespace, node,
// resource_id).
type PodGroupKey struct {
	Day        string
	Namespace  string
	Node       string
	ResourceID string
}

// PodAccumulator is a partial aggregate for one PodGroupKey: metrics are
// still in their raw per-second/per-byte units so that merging two
// partials is a plain sum, with unit conversion deferred to FinalizePod.
type PodAccumulator struct {
	UsageCPUSeconds              float64
	RequestCPUSeconds            float64
	LimitCPUSeconds              float64
	EffectiveUsageCPUSeconds     float64
	UsageMemByteSeconds          float64
	RequestMemByteSeconds        float64
	LimitMemByteSeconds          float64
	EffectiveUsageMemByteSeconds float64

	hasLabel   bool
	labelValue string
}

// labelKey is the (day, entity) join key used to index node and namespace
// label tables before the left-outer join in step 3.
type labelKey struct {
	day    string
	entity string
}

// buildLabelIndex dedups a label table on (day, entity) keeping the first
// occurrence, so a join against it never fans a usage row out into more
// than one row.
func buildLabelIndex(t *model.Table, entityColumn string) map[labelKey]model.LabelsEncoding {
	if t == nil {
		return nil
	}
	day := dayColumn(t)
	entity := t.StringColumn(entityColumn)
	lab := t.LabelsColumn("labels")
	idx := make(map[labelKey]model.LabelsEncoding, t.NumRows)
	for i := 0; i < t.NumRows; i++ {
		k := labelKey{day: day[i], entity: valAt(entity, i)}
		if _, ok := idx[k]; ok {
			continue
		}
		if i < len(lab) {
			idx[k] = lab[i]
		} else {
			idx[k] = model.Empty()
		}
	}
	return idx
}

// dayColumn derives the date component of interval_start for every row.
func dayColumn(t *model.Table) []string {
	ts := t.TimeColumn("interval_start")
	out := make([]string, t.NumRows)
	for i := 0; i < t.NumRows && i < len(ts); i++ {
		out[i] = ts[i].Format("2006-01-02")
	}
	return out
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

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// invalidMetric reports whether v can never appear in an output row: every
// metric column must end up null or a finite, non-negative float, so a
// negative or infinite raw reading is dropped rather than summed.
func invalidMetric(v float64) bool {
	return v < 0 || math.IsInf(v, 0)
}

// AggregatePod folds a single chunk (the whole table, for Mode A): project,
// derive day, reject empty-node rows, join
// node/namespace labels, merge+filter+canonicalize, group and fold. The
// result is a partial aggregate keyed by PodGroupKey; FinalizePod converts
// units and attaches capacity/cost-category/identity. The second return
// value is the number of rows dropped for failing the non-negativity/finite
// invariant on a metric column.
func AggregatePod(chunk *model.Table, nodeLabels, nsLabels *model.Table, allow labels.AllowList) (map[PodGroupKey]*PodAccumulator, int) {
	nodeIdx := buildLabelIndex(nodeLabels, "node")
	nsIdx := buildLabelIndex(nsLabels, "namespace")

	day := dayColumn(chunk)
	namespace := chunk.StringColumn("namespace")
	node := chunk.StringColumn("node")
	resourceID := chunk.StringColumn("resource_id")
	podLabels := chunk.LabelsColumn("pod_labels")

	usageCPU := chunk.Float64Column("pod_usage_cpu_core_seconds")
	reqCPU := chunk.Float64Column("pod_request_cpu_core_seconds")
	limCPU := chunk.Float64Column("pod_limit_cpu_core_seconds")
	usageMem := chunk.Float64Column("pod_usage_memory_byte_seconds")
	reqMem := chunk.Float64Column("pod_request_memory_byte_seconds")
	limMem := chunk.Float64Column("pod_limit_memory_byte_seconds")

	out := make(map[PodGroupKey]*PodAccumulator)
	dropped := 0

	for i := 0; i < chunk.NumRows; i++ {
		n := valAt(node, i)
		if n == "" {
			continue
		}
		d := day[i]
		key := PodGroupKey{Day: d, Namespace: valAt(namespace, i), Node: n, ResourceID: valAt(resourceID, i)}

		uCPU, rCPU, lCPU := valAtFloat(usageCPU, i), valAtFloat(reqCPU, i), valAtFloat(limCPU, i)
		uMem, rMem, lMem := valAtFloat(usageMem, i), valAtFloat(reqMem, i), valAtFloat(limMem, i)

		if invalidMetric(uCPU) || invalidMetric(rCPU) || invalidMetric(lCPU) ||
			invalidMetric(uMem) || invalidMetric(rMem) || invalidMetric(lMem) {
			dropped++
			log.Warn().Err(ocperrors.NewData("pod usage row has a negative or non-finite metric value", nil)).
				Str("day", d).Str("node", n).Str("namespace", key.Namespace).Str("resource_id", key.ResourceID).
				Msg("dropping pod usage row")
			continue
		}

		acc, ok := out[key]
		if !ok {
			acc = &PodAccumulator{}
			out[key] = acc
		}

		acc.UsageCPUSeconds += uCPU
		acc.RequestCPUSeconds += rCPU
		acc.LimitCPUSeconds += lCPU
		acc.EffectiveUsageCPUSeconds += max(uCPU, rCPU)
		acc.UsageMemByteSeconds += uMem
		acc.RequestMemByteSeconds += rMem
		acc.LimitMemByteSeconds += lMem
		acc.EffectiveUsageMemByteSeconds += max(uMem, rMem)

		var nodeVal, nsVal model.LabelsEncoding
		if v, ok := nodeIdx[labelKey{day: d, entity: n}]; ok {
			nodeVal = v
		}
		if v, ok := nsIdx[labelKey{day: d, entity: valAt(namespace, i)}]; ok {
			nsVal = v
		}
		var podVal model.LabelsEncoding
		if i < len(podLabels) {
			podVal = podLabels[i]
		}
		merged := labels.MergeFilterCanonicalize(nodeVal, nsVal, podVal, allow)
		if !acc.hasLabel && merged != "{}" {
			acc.hasLabel = true
			acc.labelValue = merged
		}
	}
	return out, dropped
}

// MergePodPartials combines partial aggregates from multiple chunks (or
// workers). Metric sums are associative and commutative; the label value
// is resolved by taking the lexicographically smallest non-empty candidate
// across partials, a deterministic tie-break that keeps the merge
// order-invariant regardless of chunk or worker scheduling order.
func MergePodPartials(partials ...map[PodGroupKey]*PodAccumulator) map[PodGroupKey]*PodAccumulator {
	out := make(map[PodGroupKey]*PodAccumulator)
	for _, p := range partials {
		for key, acc := range p {
			cur, ok := out[key]
			if !ok {
				merged := *acc
				out[key] = &merged
				continue
			}
			cur.UsageCPUSeconds += acc.UsageCPUSeconds
			cur.RequestCPUSeconds += acc.RequestCPUSeconds
			cur.LimitCPUSeconds += acc.LimitCPUSeconds
			cur.EffectiveUsageCPUSeconds += acc.EffectiveUsageCPUSeconds
			cur.UsageMemByteSeconds += acc.UsageMemByteSeconds
			cur.RequestMemByteSeconds += acc.RequestMemByteSeconds
			cur.LimitMemByteSeconds += acc.LimitMemByteSeconds
			cur.EffectiveUsageMemByteSeconds += acc.EffectiveUsageMemByteSeconds
			if acc.hasLabel && (!cur.hasLabel || acc.labelValue < cur.labelValue) {
				cur.hasLabel = true
				cur.labelValue = acc.labelValue
			}
		}
	}
	return out
}

const (
	secondsPerHour = 3600.0
	bytesPerGiB    = 1024.0 * 1024.0 * 1024.0
)

// FinalizePod converts summed raw metrics to core-hours/GB-hours,
// left-joins node and cluster capacity
// by (day, node) and day, applies the cost-category wildcard match, and
// attaches identity columns and data_source = "Pod".
func FinalizePod(
	accs map[PodGroupKey]*PodAccumulator,
	nodeCapByNodeDay map[capacity.NodeDay]capacity.NodeCapacity,
	clusterCapByDay map[string]capacity.ClusterCapacity,
	costRules []CostCategoryRule,
	id Identity,
) []model.OutputRow {
	rows := make([]model.OutputRow, 0, len(accs))
	keys := make([]PodGroupKey, 0, len(accs))
	for k := range accs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Day != keys[j].Day {
			return keys[i].Day < keys[j].Day
		}
		if keys[i].Namespace != keys[j].Namespace {
			return keys[i].Namespace < keys[j].Namespace
		}
		if keys[i].Node != keys[j].Node {
			return keys[i].Node < keys[j].Node
		}
		return keys[i].ResourceID < keys[j].ResourceID
	})

	for _, key := range keys {
		acc := accs[key]
		usageStart, usageEnd, year, month, day, ok := parseDay(key.Day)
		if !ok {
			continue
		}

		labelStr := "{}"
		if acc.hasLabel {
			labelStr = acc.labelValue
		}

		row := model.OutputRow{
			SourceUUID:   id.SourceUUID,
			ClusterID:    id.ClusterID,
			ClusterAlias: id.ClusterAlias,
			Year:         year,
			Month:        month,
			Day:          day,
			UsageStart:   usageStart,
			UsageEnd:     usageEnd,
			DataSource:   model.DataSourcePod,
			Namespace:    key.Namespace,
			Node:         key.Node,
			ResourceID:   key.ResourceID,

			PodUsageCPUCoreHours:                 model.Float64Ptr(acc.UsageCPUSeconds / secondsPerHour),
			PodRequestCPUCoreHours:                model.Float64Ptr(acc.RequestCPUSeconds / secondsPerHour),
			PodLimitCPUCoreHours:                  model.Float64Ptr(acc.LimitCPUSeconds / secondsPerHour),
			PodEffectiveUsageCPUCoreHours:          model.Float64Ptr(acc.EffectiveUsageCPUSeconds / secondsPerHour),
			PodUsageMemoryGigabyteHours:            model.Float64Ptr(acc.UsageMemByteSeconds / bytesPerGiB / secondsPerHour),
			PodRequestMemoryGigabyteHours:          model.Float64Ptr(acc.RequestMemByteSeconds / bytesPerGiB / secondsPerHour),
			PodLimitMemoryGigabyteHours:            model.Float64Ptr(acc.LimitMemByteSeconds / bytesPerGiB / secondsPerHour),
			PodEffectiveUsageMemoryGigabyteHours:   model.Float64Ptr(acc.EffectiveUsageMemByteSeconds / bytesPerGiB / secondsPerHour),
			PodLabels:                              model.StringPtr(labelStr),
		}

		if nc, ok := nodeCapByNodeDay[capacity.NodeDay{Day: key.Day, Node: key.Node}]; ok {
			row.NodeCapacityCPUCores = model.Float64Ptr(nc.CPUCores)
			row.NodeCapacityCPUCoreHours = model.Float64Ptr(nc.CPUCoreHours)
			row.NodeCapacityMemoryGigabytes = model.Float64Ptr(nc.MemoryGigabytes)
			row.NodeCapacityMemoryGigabyteHours = model.Float64Ptr(nc.MemoryGigabyteHours)
		}
		if cc, ok := clusterCapByDay[key.Day]; ok {
			row.ClusterCapacityCPUCoreHours = model.Float64Ptr(cc.CPUCoreHours)
			row.ClusterCapacityMemoryGigabyteHours = model.Float64Ptr(cc.MemoryGigabyteHours)
		}
		row.CostCategoryID = MatchCostCategory(key.Namespace, costRules)

		rows = append(rows, row)
	}
	return rows
}
