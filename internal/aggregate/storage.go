package aggregate

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/labels"
	"github.com/jordigilh/ocpaggregator/internal/model"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// StorageGroupKey is the storage aggregator's grouping key: (day,
// namespace, persistentvolumeclaim, persistentvolume, storageclass).
type StorageGroupKey struct {
	Day                   string
	Namespace             string
	PersistentVolumeClaim string
	PersistentVolume      string
	StorageClass          string
}

// StorageAccumulator is a partial aggregate for one StorageGroupKey. The
// three gigabyte sums are still "gigabyte × sample-count" raw sums;
// FinalizeStorage divides by hours-in-month to produce gigabyte-months.
type StorageAccumulator struct {
	CapacityGigabyteSum float64
	RequestGigabyteSum  float64
	UsageGigabyteSum    float64
	CSIVolumeHandle     string // MAX over the group

	hasLabel   bool
	labelValue string
}

// AggregateStorage folds a single chunk: derive day, filter volume_labels
// through the label processor (single level, no merge), group and fold. The
// second return value is the number of rows dropped for failing the
// non-negativity/finite invariant on a metric column.
func AggregateStorage(chunk *model.Table, allow labels.AllowList) (map[StorageGroupKey]*StorageAccumulator, int) {
	day := dayColumn(chunk)
	namespace := chunk.StringColumn("namespace")
	pvc := chunk.StringColumn("persistentvolumeclaim")
	pv := chunk.StringColumn("persistentvolume")
	sc := chunk.StringColumn("storageclass")
	csi := chunk.StringColumn("csi_volume_handle")
	volLabels := chunk.LabelsColumn("volume_labels")

	capCol := chunk.Float64Column("persistentvolumeclaim_capacity_gigabyte")
	reqCol := chunk.Float64Column("volume_request_storage_gigabyte")
	useCol := chunk.Float64Column("persistentvolumeclaim_usage_gigabyte")

	out := make(map[StorageGroupKey]*StorageAccumulator)
	dropped := 0

	for i := 0; i < chunk.NumRows; i++ {
		key := StorageGroupKey{
			Day:                   day[i],
			Namespace:             valAt(namespace, i),
			PersistentVolumeClaim: valAt(pvc, i),
			PersistentVolume:      valAt(pv, i),
			StorageClass:          valAt(sc, i),
		}

		capVal, reqVal, useVal := valAtFloat(capCol, i), valAtFloat(reqCol, i), valAtFloat(useCol, i)
		if invalidMetric(capVal) || invalidMetric(reqVal) || invalidMetric(useVal) {
			dropped++
			log.Warn().Err(ocperrors.NewData("storage usage row has a negative or non-finite metric value", nil)).
				Str("day", key.Day).Str("namespace", key.Namespace).Str("persistentvolumeclaim", key.PersistentVolumeClaim).
				Msg("dropping storage usage row")
			continue
		}

		acc, ok := out[key]
		if !ok {
			acc = &StorageAccumulator{}
			out[key] = acc
		}
		acc.CapacityGigabyteSum += capVal
		acc.RequestGigabyteSum += reqVal
		acc.UsageGigabyteSum += useVal

		if h := valAt(csi, i); h > acc.CSIVolumeHandle {
			acc.CSIVolumeHandle = h
		}

		var lv model.LabelsEncoding
		if i < len(volLabels) {
			lv = volLabels[i]
		}
		filtered := labels.FilterSingleLevel(lv, allow)
		if !acc.hasLabel && filtered != "{}" {
			acc.hasLabel = true
			acc.labelValue = filtered
		}
	}
	return out, dropped
}

// MergeStoragePartials combines partial storage aggregates; see
// MergePodPartials for the merge-order-invariance rationale.
func MergeStoragePartials(partials ...map[StorageGroupKey]*StorageAccumulator) map[StorageGroupKey]*StorageAccumulator {
	out := make(map[StorageGroupKey]*StorageAccumulator)
	for _, p := range partials {
		for key, acc := range p {
			cur, ok := out[key]
			if !ok {
				merged := *acc
				out[key] = &merged
				continue
			}
			cur.CapacityGigabyteSum += acc.CapacityGigabyteSum
			cur.RequestGigabyteSum += acc.RequestGigabyteSum
			cur.UsageGigabyteSum += acc.UsageGigabyteSum
			if acc.CSIVolumeHandle > cur.CSIVolumeHandle {
				cur.CSIVolumeHandle = acc.CSIVolumeHandle
			}
			if acc.hasLabel && (!cur.hasLabel || acc.labelValue < cur.labelValue) {
				cur.hasLabel = true
				cur.labelValue = acc.labelValue
			}
		}
	}
	return out
}

// FinalizeStorage divides the raw gigabyte sums by hours-in-month to
// produce gigabyte-months, applies the cost-category wildcard match, and
// attaches identity columns and data_source = "Storage". hoursInMonth is
// the run's (year, month) hours-in-month, computed once by the
// orchestrator.
func FinalizeStorage(
	accs map[StorageGroupKey]*StorageAccumulator,
	hoursInMonth float64,
	costRules []CostCategoryRule,
	id Identity,
) []model.OutputRow {
	rows := make([]model.OutputRow, 0, len(accs))
	keys := make([]StorageGroupKey, 0, len(accs))
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
		if keys[i].PersistentVolumeClaim != keys[j].PersistentVolumeClaim {
			return keys[i].PersistentVolumeClaim < keys[j].PersistentVolumeClaim
		}
		return keys[i].PersistentVolume < keys[j].PersistentVolume
	})

	for _, key := range keys {
		acc := accs[key]
		usageStart, usageEnd, year, month, day, ok := parseDay(key.Day)
		if !ok || hoursInMonth <= 0 {
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
			DataSource:   model.DataSourceStorage,
			Namespace:    key.Namespace,

			PersistentVolumeClaim:                      model.StringPtr(key.PersistentVolumeClaim),
			PersistentVolume:                            model.StringPtr(key.PersistentVolume),
			StorageClass:                                model.StringPtr(key.StorageClass),
			CSIVolumeHandle:                              model.StringPtr(acc.CSIVolumeHandle),
			PersistentVolumeClaimCapacityGigabyteMonths: model.Float64Ptr(acc.CapacityGigabyteSum / hoursInMonth),
			VolumeRequestStorageGigabyteMonths:           model.Float64Ptr(acc.RequestGigabyteSum / hoursInMonth),
			PersistentVolumeClaimUsageGigabyteMonths:     model.Float64Ptr(acc.UsageGigabyteSum / hoursInMonth),
			VolumeLabels:                                 model.StringPtr(labelStr),
		}
		row.CostCategoryID = MatchCostCategory(key.Namespace, costRules)

		rows = append(rows, row)
	}
	return rows
}
