package objectstore

import "fmt"

// TableName enumerates the four partitioned usage tables this engine reads.
type TableName string

const (
	TablePodUsage       TableName = "openshift_pod_usage_line_items"
	TableStorageUsage    TableName = "openshift_storage_usage_line_items_daily"
	TableNodeLabels      TableName = "openshift_node_labels_line_items"
	TableNamespaceLabels TableName = "openshift_namespace_labels_line_items"
)

// PartitionScope identifies one run's slice of the partition tree.
type PartitionScope struct {
	OrgID        string
	ProviderKind string
	SourceUUID   string
	Year         string // four digits
	Month        string // two digits, zero-padded
}

// Prefix builds the object-store key prefix for one table within this
// scope, following the layout:
// data/<org-id>/<provider-kind>/source=<source-uuid>/year=<yyyy>/month=<mm>/day=<dd>/<table-name>/...
// Day is deliberately omitted from the prefix: a single month's worth of
// daily partitions is listed in one call and split out per day by the
// reader/aggregators instead, since capacity and pod aggregation both
// operate over an entire month's sample set.
func (s PartitionScope) Prefix(table TableName) string {
	return fmt.Sprintf("data/%s/%s/source=%s/year=%s/month=%s/", s.OrgID, s.ProviderKind, s.SourceUUID, s.Year, s.Month)
}

// TableSuffix is appended when filtering a listed key set down to one
// table-name, since Prefix stops above the day= level and a single
// month's listing interleaves all four tables across every day.
func TableSuffix(table TableName) string {
	return "/" + string(table) + "/"
}
