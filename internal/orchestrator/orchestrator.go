// Package orchestrator runs one full aggregation pass end to end, in a
// fixed phase order: connectivity check, side-table fetch, capacity
// computation, pod aggregation, storage aggregation, database write,
// checkpoint record, run summary.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/aggregate"
	"github.com/jordigilh/ocpaggregator/internal/capacity"
	"github.com/jordigilh/ocpaggregator/internal/checkpoint"
	"github.com/jordigilh/ocpaggregator/internal/config"
	"github.com/jordigilh/ocpaggregator/internal/dbwriter"
	"github.com/jordigilh/ocpaggregator/internal/labels"
	"github.com/jordigilh/ocpaggregator/internal/metrics"
	"github.com/jordigilh/ocpaggregator/internal/model"
	"github.com/jordigilh/ocpaggregator/internal/objectstore"
	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
	"github.com/jordigilh/ocpaggregator/internal/sidetables"
	"github.com/jordigilh/ocpaggregator/internal/stream"
)

// Summary is the human-readable record of one run, emitted at the end of
// Run and also persisted via the checkpoint store.
type Summary struct {
	SourceUUID   string
	Year         string
	Month        string
	StartedAt    time.Time
	EndedAt      time.Time
	PodRows      int
	StorageRows  int
	Success      bool
	Error        string
}

// Orchestrator wires together every component a run needs.
type Orchestrator struct {
	Config      config.Config
	ObjectStore *objectstore.Client
	DB          *dbwriter.Writer
	SideTables  *sidetables.Store
	Checkpoint  *checkpoint.Store
	Metrics     *metrics.Registry
}

// Run executes one full pass for the identity described by id, in the
// fixed nine-phase order. Any phase failure stops the run; partial
// output is never written (each writeDataSource call in dbwriter runs in
// its own transaction, so an earlier-phase failure simply never reaches
// the write step at all).
func (o *Orchestrator) Run(ctx context.Context, id config.RunIdentity) (Summary, error) {
	summary := Summary{
		SourceUUID: id.SourceUUID,
		Year:       id.Year,
		Month:      id.Month,
		StartedAt:  time.Now(),
	}
	timer := o.Metrics.StartPhase("total")

	if err := o.runPhases(ctx, id, &summary); err != nil {
		summary.EndedAt = time.Now()
		summary.Success = false
		summary.Error = err.Error()
		o.recordCheckpoint(summary)
		timer.ObserveError()
		return summary, err
	}

	summary.EndedAt = time.Now()
	summary.Success = true
	o.recordCheckpoint(summary)
	timer.Observe()
	log.Info().
		Str("source_uuid", id.SourceUUID).
		Int("pod_rows", summary.PodRows).
		Int("storage_rows", summary.StorageRows).
		Dur("duration", summary.EndedAt.Sub(summary.StartedAt)).
		Msg("aggregation run completed")
	return summary, nil
}

func (o *Orchestrator) runPhases(ctx context.Context, id config.RunIdentity, summary *Summary) error {
	// Phase 1: connectivity.
	if err := o.checkConnectivity(ctx); err != nil {
		return err
	}

	// Phase 2: side tables, fetched once per run.
	allowList, costRules, err := o.fetchSideTables(ctx, id.OrgID)
	if err != nil {
		return err
	}

	// The execution mode decides, per table, whether phase 3 materializes
	// the whole month or only lists the keys a chunk iterator will read
	// lazily in phase 5/6.
	mode := stream.SelectMode(o.Config.UseStreaming, o.Config.ParallelChunks)

	// Phase 3: read the month's partitions for every table this run needs.
	podUsage, nodeLabels, nsLabels, storageUsage, podUsageKeys, storageUsageKeys, err := o.readPartitions(ctx, id, mode)
	if err != nil {
		return err
	}

	// Phase 4: capacity. This always needs the full pod-usage table — its
	// two-level group-by spans the whole month regardless of the selected
	// mode, so it is never driven off a chunk iterator.
	nodeCaps, clusterCaps := capacity.Compute(podUsage)
	nodeCapIndex, clusterCapIndex := capacity.Index(nodeCaps, clusterCaps)

	identity := aggregate.Identity{
		SourceUUID:   id.SourceUUID,
		ClusterID:    id.ClusterID,
		ClusterAlias: id.ClusterAlias,
		Year:         id.Year,
		Month:        id.Month,
	}

	// Phase 5: pod aggregation. In ModeInMemory this reuses the table phase
	// 4 already materialized; in the streaming modes it reopens the same
	// keys as a genuine second pass, since phase 4's read can't be reused
	// without forcing the aggregator back to a single fully-buffered chunk.
	podRows, err := o.aggregatePod(ctx, mode, podUsage, podUsageKeys, nodeLabels, nsLabels, allowList, nodeCapIndex, clusterCapIndex, costRules, identity)
	if err != nil {
		return err
	}
	summary.PodRows = len(podRows)

	// Phase 6: storage aggregation.
	storageRows, err := o.aggregateStorage(ctx, mode, storageUsage, storageUsageKeys, allowList, costRules, identity)
	if err != nil {
		return err
	}
	summary.StorageRows = len(storageRows)

	// Phase 7: concatenate.
	allRows := make([]model.OutputRow, 0, len(podRows)+len(storageRows))
	allRows = append(allRows, podRows...)
	allRows = append(allRows, storageRows...)
	o.Metrics.ObserveRows(len(allRows))

	// Phase 8: write.
	writeOpts := dbwriter.WriteOptions{
		UseBulkCopy: o.Config.UseBulkCopy,
		BatchSize:   o.Config.BatchSize,
		Truncate:    o.Config.Truncate,
		SourceUUID:  id.SourceUUID,
		Year:        id.Year,
		Month:       id.Month,
	}
	if err := o.DB.Write(ctx, allRows, writeOpts); err != nil {
		return err
	}

	return nil
}

func (o *Orchestrator) checkConnectivity(ctx context.Context) error {
	if err := o.ObjectStore.CheckConnectivity(ctx); err != nil {
		return err
	}
	if err := o.DB.CheckConnectivity(ctx); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) fetchSideTables(ctx context.Context, orgID string) (labels.AllowList, []aggregate.CostCategoryRule, error) {
	keys, err := o.SideTables.EnabledTagKeys(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	rules, err := o.SideTables.CostCategoryRules(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	return labels.NewAllowList(keys), rules, nil
}

// readOptions builds the projection/categorical/chunk-size options shared
// by every read against this run's partitions.
func (o *Orchestrator) readOptions() objectstore.ReadOptions {
	return objectstore.ReadOptions{
		ColumnFiltering: o.Config.ColumnFiltering,
		UseCategorical:  o.Config.UseCategorical,
		ChunkSize:       o.Config.ChunkSize,
	}
}

// readPartitions resolves this run's object keys for every table it needs.
// Node and namespace labels are always small enough to read in full.
// Pod usage is always read in full too, since phase 4's capacity
// computation needs the whole month regardless of mode; its keys are also
// kept so phase 5 can reopen them as a genuine chunk iterator when
// streaming is enabled. Storage usage is only read in full for
// ModeInMemory — in the streaming modes phase 6 drives it entirely off the
// returned keys, so no second copy of it is ever resident alongside the
// chunked read.
func (o *Orchestrator) readPartitions(ctx context.Context, id config.RunIdentity, mode stream.Mode) (podUsage, nodeLabels, nsLabels, storageUsage *model.Table, podUsageKeys, storageUsageKeys []string, err error) {
	scope := objectstore.PartitionScope{
		OrgID:        id.OrgID,
		ProviderKind: id.ProviderKind,
		SourceUUID:   id.SourceUUID,
		Year:         id.Year,
		Month:        id.Month,
	}
	readOpts := o.readOptions()

	podUsageKeys, err = o.tableKeys(ctx, scope, objectstore.TablePodUsage)
	if err != nil {
		return
	}
	podUsage, err = o.materialize(ctx, podUsageKeys, readOpts)
	if err != nil {
		return
	}

	nodeLabels, err = o.readTable(ctx, scope, objectstore.TableNodeLabels, readOpts)
	if err != nil {
		return
	}
	nsLabels, err = o.readTable(ctx, scope, objectstore.TableNamespaceLabels, readOpts)
	if err != nil {
		return
	}

	storageUsageKeys, err = o.tableKeys(ctx, scope, objectstore.TableStorageUsage)
	if err != nil {
		return
	}
	if mode == stream.ModeInMemory {
		storageUsage, err = o.materialize(ctx, storageUsageKeys, readOpts)
	}
	return
}

// tableKeys lists and filters the object keys backing table within scope,
// without reading any of their contents.
func (o *Orchestrator) tableKeys(ctx context.Context, scope objectstore.PartitionScope, table objectstore.TableName) ([]string, error) {
	prefix := scope.Prefix(table)
	allKeys, err := o.ObjectStore.ListPartitionFiles(ctx, prefix)
	if err != nil {
		return nil, err
	}

	suffix := objectstore.TableSuffix(table)
	keys := make([]string, 0, len(allKeys))
	for _, k := range allKeys {
		if strings.Contains(k, suffix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// materialize fully reads keys into one Table, or an empty Table if there
// are none — a partition with no matching files is valid input, not an
// error.
func (o *Orchestrator) materialize(ctx context.Context, keys []string, opts objectstore.ReadOptions) (*model.Table, error) {
	if len(keys) == 0 {
		return model.NewTable(), nil
	}
	return objectstore.ReadTable(ctx, o.ObjectStore, keys, opts)
}

func (o *Orchestrator) readTable(ctx context.Context, scope objectstore.PartitionScope, table objectstore.TableName, opts objectstore.ReadOptions) (*model.Table, error) {
	keys, err := o.tableKeys(ctx, scope, table)
	if err != nil {
		return nil, err
	}
	return o.materialize(ctx, keys, opts)
}

// chunkIteratorFor picks the iterator phase 5/6 feed to stream.Run: the
// already-materialized table for ModeInMemory, or a fresh streaming reader
// over keys for the two streaming modes — never both at once, so a
// streaming run never holds the materialized table and the chunk reader's
// buffers in memory at the same time.
func (o *Orchestrator) chunkIteratorFor(ctx context.Context, mode stream.Mode, materialized *model.Table, keys []string) stream.ChunkIterator {
	if mode == stream.ModeInMemory {
		return stream.SingleChunk(materialized)
	}
	return objectstore.NewChunkIterator(ctx, o.ObjectStore, keys, o.readOptions())
}

func (o *Orchestrator) aggregatePod(
	ctx context.Context,
	mode stream.Mode,
	podUsage *model.Table,
	podUsageKeys []string,
	nodeLabels, nsLabels *model.Table,
	allowList labels.AllowList,
	nodeCapIndex map[capacity.NodeDay]capacity.NodeCapacity,
	clusterCapIndex map[string]capacity.ClusterCapacity,
	costRules []aggregate.CostCategoryRule,
	identity aggregate.Identity,
) ([]model.OutputRow, error) {
	it := o.chunkIteratorFor(ctx, mode, podUsage, podUsageKeys)
	accs, dropped, err := stream.RunPod(ctx, mode, o.Config.MaxWorkers, it, nodeLabels, nsLabels, allowList)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		o.Metrics.ObserveDropped("invalid_metric", dropped)
		log.Warn().Int("dropped_rows", dropped).Msg("pod usage rows dropped for invalid metric values")
	}
	return aggregate.FinalizePod(accs, nodeCapIndex, clusterCapIndex, costRules, identity), nil
}

func (o *Orchestrator) aggregateStorage(
	ctx context.Context,
	mode stream.Mode,
	storageUsage *model.Table,
	storageUsageKeys []string,
	allowList labels.AllowList,
	costRules []aggregate.CostCategoryRule,
	identity aggregate.Identity,
) ([]model.OutputRow, error) {
	it := o.chunkIteratorFor(ctx, mode, storageUsage, storageUsageKeys)
	accs, dropped, err := stream.RunStorage(ctx, mode, o.Config.MaxWorkers, it, allowList)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		o.Metrics.ObserveDropped("invalid_metric", dropped)
		log.Warn().Int("dropped_rows", dropped).Msg("storage usage rows dropped for invalid metric values")
	}
	hoursInMonth, err := hoursInMonth(identity.Year, identity.Month)
	if err != nil {
		return nil, err
	}
	return aggregate.FinalizeStorage(accs, hoursInMonth, costRules, identity), nil
}

func hoursInMonth(year, month string) (float64, error) {
	var y, m int
	if _, err := fmt.Sscanf(year, "%d", &y); err != nil {
		return 0, ocperrors.NewData("invalid year in run identity", err)
	}
	if _, err := fmt.Sscanf(month, "%d", &m); err != nil {
		return 0, ocperrors.NewData("invalid month in run identity", err)
	}
	start := time.Date(y, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return end.Sub(start).Hours(), nil
}

func (o *Orchestrator) recordCheckpoint(summary Summary) {
	if o.Checkpoint == nil {
		return
	}
	rec := checkpoint.Record{
		SourceUUID: summary.SourceUUID,
		Year:       summary.Year,
		Month:      summary.Month,
		StartedAt:  summary.StartedAt,
		EndedAt:    summary.EndedAt,
		OutputRows: summary.PodRows + summary.StorageRows,
		Success:    summary.Success,
		Error:      summary.Error,
	}
	if err := o.Checkpoint.Save(rec); err != nil {
		log.Warn().Err(err).Msg("failed to save checkpoint record")
	}
}
