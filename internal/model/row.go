package model

import "time"

// DataSource enumerates which aggregator produced an OutputRow.
type DataSource string

const (
	DataSourcePod     DataSource = "Pod"
	DataSourceStorage DataSource = "Storage"
)

// OutputRow is the fixed output schema described in the data model: one row
// per (usage day, data source, grouping keys). Pointer fields are nullable
// columns; a nil pointer is written as SQL NULL by the database writer.
type OutputRow struct {
	// Identity, present on every row.
	SourceUUID   string
	ClusterID    string
	ClusterAlias string
	Year         string
	Month        string // zero-padded to two digits
	Day          string // zero-padded to two digits
	UsageStart   time.Time
	UsageEnd     time.Time
	DataSource   DataSource
	Namespace    string
	Node         string // empty for storage rows
	ResourceID   string // empty for storage rows

	// Pod-only metrics; nil for storage rows.
	PodUsageCPUCoreHours              *float64
	PodRequestCPUCoreHours             *float64
	PodEffectiveUsageCPUCoreHours      *float64
	PodLimitCPUCoreHours               *float64
	PodUsageMemoryGigabyteHours        *float64
	PodRequestMemoryGigabyteHours      *float64
	PodEffectiveUsageMemoryGigabyteHours *float64
	PodLimitMemoryGigabyteHours        *float64
	NodeCapacityCPUCores               *float64
	NodeCapacityCPUCoreHours           *float64
	NodeCapacityMemoryGigabytes        *float64
	NodeCapacityMemoryGigabyteHours    *float64
	ClusterCapacityCPUCoreHours        *float64
	ClusterCapacityMemoryGigabyteHours *float64
	PodLabels                          *string // canonical JSON; nil only for storage rows

	// Storage-only columns; nil for pod rows.
	PersistentVolumeClaim                           *string
	PersistentVolume                                *string
	StorageClass                                     *string
	CSIVolumeHandle                                  *string
	PersistentVolumeClaimCapacityGigabyteMonths      *float64
	VolumeRequestStorageGigabyteMonths               *float64
	PersistentVolumeClaimUsageGigabyteMonths         *float64
	VolumeLabels                                     *string // canonical JSON; nil only for pod rows

	CostCategoryID *int64
}

// Float64Ptr is a small convenience constructor used throughout the
// aggregators so a computed metric can be attached to an OutputRow pointer
// field without a throwaway local variable at each call site.
func Float64Ptr(v float64) *float64 { return &v }

// StringPtr mirrors Float64Ptr for nullable string columns.
func StringPtr(v string) *string { return &v }

// Int64Ptr mirrors Float64Ptr for the nullable cost category column.
func Int64Ptr(v int64) *int64 { return &v }

// IdentityKey returns the tuple that uniquely identifies a row per the data
// model's uniqueness invariant: (source_uuid, usage_start, data_source,
// namespace, node, persistentvolumeclaim, resource_id).
func (r OutputRow) IdentityKey() [7]string {
	pvc := ""
	if r.PersistentVolumeClaim != nil {
		pvc = *r.PersistentVolumeClaim
	}
	return [7]string{
		r.SourceUUID,
		r.UsageStart.Format("2006-01-02"),
		string(r.DataSource),
		r.Namespace,
		r.Node,
		pvc,
		r.ResourceID,
	}
}
