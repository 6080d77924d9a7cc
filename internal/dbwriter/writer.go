// Package dbwriter writes aggregated OutputRows to the target database's
// reporting_ocpusagelineitem_daily_summary table, via either a batched
// parametric-insert path or a bulk-copy path built on lib/pq's COPY
// protocol support.
package dbwriter

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/model"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// Config holds the target connection parameters plus the schema name the
// rest of this module's tables live under.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Schema   string
}

// ConnectionString builds the libpq DSN for this configuration,
// defaulting SSLMode to "require" when unset.
func (c Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

const tableName = "reporting_ocpusagelineitem_daily_summary"

var columnNames = []string{
	"source_uuid", "cluster_id", "cluster_alias", "year", "month",
	"usage_start", "usage_end", "data_source", "namespace", "node", "resource_id",
	"pod_usage_cpu_core_hours", "pod_request_cpu_core_hours", "pod_effective_usage_cpu_core_hours", "pod_limit_cpu_core_hours",
	"pod_usage_memory_gigabyte_hours", "pod_request_memory_gigabyte_hours", "pod_effective_usage_memory_gigabyte_hours", "pod_limit_memory_gigabyte_hours",
	"node_capacity_cpu_cores", "node_capacity_cpu_core_hours", "node_capacity_memory_gigabytes", "node_capacity_memory_gigabyte_hours",
	"cluster_capacity_cpu_core_hours", "cluster_capacity_memory_gigabyte_hours", "pod_labels",
	"persistentvolumeclaim", "persistentvolume", "storageclass", "csi_volume_handle",
	"persistentvolumeclaim_capacity_gigabyte_months", "volume_request_storage_gigabyte_months", "persistentvolumeclaim_usage_gigabyte_months", "volume_labels",
	"cost_category_id",
}

// Writer writes OutputRows to the configured database.
type Writer struct {
	db     *sql.DB
	schema string
}

// Open opens the database connection via sql.Open("postgres", ...).
func Open(cfg Config) (*Writer, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, ocperrors.NewConnectivity("failed to open database connection", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ocperrors.NewConnectivity("database unreachable", err)
	}
	return &Writer{db: db, schema: cfg.Schema}, nil
}

// Close closes the underlying connection.
func (w *Writer) Close() error {
	return w.db.Close()
}

// RawDB exposes the underlying connection for sidetables.Store, which
// reads tables this package never writes to.
func (w *Writer) RawDB() *sql.DB {
	return w.db
}

// CheckConnectivity pings the database, satisfying orchestrator phase 1.
func (w *Writer) CheckConnectivity(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return ocperrors.NewConnectivity("database connectivity check failed", err)
	}
	return nil
}

// WriteOptions selects the write path and optional pre-write truncation.
type WriteOptions struct {
	UseBulkCopy bool
	BatchSize   int
	Truncate    bool
	SourceUUID  string
	Year        string
	Month       string
}

// Write normalizes every row, optionally truncates the
// identity-scoped rows, then inserts via the batched-parametric or
// bulk-copy path, all inside one transaction per data source so a failure
// leaves no partial rows visible.
func (w *Writer) Write(ctx context.Context, rows []model.OutputRow, opts WriteOptions) error {
	pod := make([]model.OutputRow, 0, len(rows))
	storage := make([]model.OutputRow, 0, len(rows))
	for _, r := range rows {
		if r.DataSource == model.DataSourcePod {
			pod = append(pod, r)
		} else {
			storage = append(storage, r)
		}
	}

	if err := w.writeDataSource(ctx, pod, opts); err != nil {
		return err
	}
	if err := w.writeDataSource(ctx, storage, opts); err != nil {
		return err
	}
	return nil
}

func (w *Writer) writeDataSource(ctx context.Context, rows []model.OutputRow, opts WriteOptions) error {
	if len(rows) == 0 && !opts.Truncate {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return ocperrors.NewWrite("failed to begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if opts.Truncate {
		if err := w.truncateIdentityScope(ctx, tx, opts); err != nil {
			return err
		}
	}
	if len(rows) == 0 {
		if err := tx.Commit(); err != nil {
			return ocperrors.NewWrite("failed to commit truncate-only transaction", err)
		}
		committed = true
		return nil
	}

	normalize(rows)

	var writeErr error
	if opts.UseBulkCopy {
		writeErr = bulkCopy(ctx, tx, w.schema, rows)
	} else {
		writeErr = batchedInsert(ctx, tx, w.schema, rows, batchSizeOrDefault(opts.BatchSize))
	}
	if writeErr != nil {
		return writeErr
	}

	if err := tx.Commit(); err != nil {
		return ocperrors.NewWrite("failed to commit write transaction", err)
	}
	committed = true
	log.Info().Int("rows", len(rows)).Bool("bulk_copy", opts.UseBulkCopy).Msg("wrote output rows")
	return nil
}

func batchSizeOrDefault(n int) int {
	if n <= 0 {
		return 1000
	}
	return n
}

func (w *Writer) truncateIdentityScope(ctx context.Context, tx *sql.Tx, opts WriteOptions) error {
	query := fmt.Sprintf(
		`DELETE FROM %s.%s WHERE source_uuid = $1 AND year = $2 AND month = $3`,
		pqIdent(w.schema), tableName,
	)
	if _, err := tx.ExecContext(ctx, query, opts.SourceUUID, opts.Year, opts.Month); err != nil {
		return ocperrors.NewWrite("failed to truncate identity-scoped rows", err)
	}
	return nil
}

// bulkCopy streams every row through the server-side COPY protocol via
// pq.CopyInSchema, the idiomatic lib/pq bulk-load mechanism. A typed
// parse error surfaces as a DataError — which normalize() above should
// already have prevented by replacing NaN with null before this point.
func bulkCopy(ctx context.Context, tx *sql.Tx, schema string, rows []model.OutputRow) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, tableName, columnNames...))
	if err != nil {
		return ocperrors.NewWrite("failed to prepare bulk copy", err)
	}
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, rowValues(r)...); err != nil {
			stmt.Close()
			return ocperrors.NewData("bulk copy rejected row", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return ocperrors.NewWrite("failed to flush bulk copy", err)
	}
	return stmt.Close()
}

// batchedInsert issues parametric INSERTs batchSize rows at a time.
func batchedInsert(ctx context.Context, tx *sql.Tx, schema string, rows []model.OutputRow, batchSize int) error {
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := insertBatch(ctx, tx, schema, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, schema string, rows []model.OutputRow) error {
	placeholders := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(columnNames))
	for i, r := range rows {
		vals := rowValues(r)
		ph := make([]string, len(vals))
		for j := range vals {
			ph[j] = fmt.Sprintf("$%d", i*len(vals)+j+1)
		}
		placeholders = append(placeholders, "("+joinStrings(ph, ",")+")")
		args = append(args, vals...)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s.%s (%s) VALUES %s`,
		pqIdent(schema), tableName, joinStrings(columnNames, ","), joinStrings(placeholders, ","),
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return ocperrors.NewData("parametric insert batch rejected", err)
	}
	return nil
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func pqIdent(name string) string {
	return `"` + name + `"`
}

// rowValues maps an OutputRow onto columnNames' positional order. Nil
// pointer fields become untyped nil, which both the parametric and
// bulk-copy paths translate to SQL NULL.
func rowValues(r model.OutputRow) []interface{} {
	return []interface{}{
		r.SourceUUID, r.ClusterID, r.ClusterAlias, r.Year, r.Month,
		r.UsageStart, r.UsageEnd, string(r.DataSource), r.Namespace, nullIfEmpty(r.Node), nullIfEmpty(r.ResourceID),
		r.PodUsageCPUCoreHours, r.PodRequestCPUCoreHours, r.PodEffectiveUsageCPUCoreHours, r.PodLimitCPUCoreHours,
		r.PodUsageMemoryGigabyteHours, r.PodRequestMemoryGigabyteHours, r.PodEffectiveUsageMemoryGigabyteHours, r.PodLimitMemoryGigabyteHours,
		r.NodeCapacityCPUCores, r.NodeCapacityCPUCoreHours, r.NodeCapacityMemoryGigabytes, r.NodeCapacityMemoryGigabyteHours,
		r.ClusterCapacityCPUCoreHours, r.ClusterCapacityMemoryGigabyteHours, r.PodLabels,
		r.PersistentVolumeClaim, r.PersistentVolume, r.StorageClass, r.CSIVolumeHandle,
		r.PersistentVolumeClaimCapacityGigabyteMonths, r.VolumeRequestStorageGigabyteMonths, r.PersistentVolumeClaimUsageGigabyteMonths, r.VolumeLabels,
		r.CostCategoryID,
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// normalize applies shared pre-write normalization: replace any
// floating-point NaN in numeric columns with null (the writer never lets
// a NaN reach the wire); a row whose label column is the literal NaN
// produces {} in output, never the string 'NaN', and the same rule
// extends to every numeric metric column.
func normalize(rows []model.OutputRow) {
	for i := range rows {
		nanToNil(&rows[i].PodUsageCPUCoreHours)
		nanToNil(&rows[i].PodRequestCPUCoreHours)
		nanToNil(&rows[i].PodEffectiveUsageCPUCoreHours)
		nanToNil(&rows[i].PodLimitCPUCoreHours)
		nanToNil(&rows[i].PodUsageMemoryGigabyteHours)
		nanToNil(&rows[i].PodRequestMemoryGigabyteHours)
		nanToNil(&rows[i].PodEffectiveUsageMemoryGigabyteHours)
		nanToNil(&rows[i].PodLimitMemoryGigabyteHours)
		nanToNil(&rows[i].NodeCapacityCPUCores)
		nanToNil(&rows[i].NodeCapacityCPUCoreHours)
		nanToNil(&rows[i].NodeCapacityMemoryGigabytes)
		nanToNil(&rows[i].NodeCapacityMemoryGigabyteHours)
		nanToNil(&rows[i].ClusterCapacityCPUCoreHours)
		nanToNil(&rows[i].ClusterCapacityMemoryGigabyteHours)
		nanToNil(&rows[i].PersistentVolumeClaimCapacityGigabyteMonths)
		nanToNil(&rows[i].VolumeRequestStorageGigabyteMonths)
		nanToNil(&rows[i].PersistentVolumeClaimUsageGigabyteMonths)

		if rows[i].PodLabels == nil && rows[i].DataSource == model.DataSourcePod {
			empty := "{}"
			rows[i].PodLabels = &empty
		}
		if rows[i].VolumeLabels == nil && rows[i].DataSource == model.DataSourceStorage {
			empty := "{}"
			rows[i].VolumeLabels = &empty
		}
	}
}

func nanToNil(f **float64) {
	if *f != nil && math.IsNaN(**f) {
		*f = nil
	}
}
