package stream

import (
	"context"

	"github.com/jordigilh/ocpaggregator/internal/aggregate"
	"github.com/jordigilh/ocpaggregator/internal/labels"
	"github.com/jordigilh/ocpaggregator/internal/model"
)

// storagePartial is podPartial's counterpart for the storage aggregator.
type storagePartial struct {
	accs    map[aggregate.StorageGroupKey]*aggregate.StorageAccumulator
	dropped int
}

// RunStorage is RunPod's counterpart for the storage aggregator. The second
// return value is the total number of rows dropped across every chunk for
// failing the metric validity invariant.
func RunStorage(ctx context.Context, mode Mode, maxWorkers int, it ChunkIterator, allow labels.AllowList) (map[aggregate.StorageGroupKey]*aggregate.StorageAccumulator, int, error) {
	aggFn := func(chunk *model.Table) interface{} {
		accs, dropped := aggregate.AggregateStorage(chunk, allow)
		return storagePartial{accs: accs, dropped: dropped}
	}
	mergeFn := func(partials ...interface{}) interface{} {
		typed := make([]map[aggregate.StorageGroupKey]*aggregate.StorageAccumulator, len(partials))
		dropped := 0
		for i, p := range partials {
			sp := p.(storagePartial)
			typed[i] = sp.accs
			dropped += sp.dropped
		}
		return storagePartial{accs: aggregate.MergeStoragePartials(typed...), dropped: dropped}
	}
	result, err := Run(ctx, mode, maxWorkers, it, aggFn, mergeFn)
	if err != nil {
		return nil, 0, err
	}
	if result == nil {
		return map[aggregate.StorageGroupKey]*aggregate.StorageAccumulator{}, 0, nil
	}
	final := result.(storagePartial)
	return final.accs, final.dropped, nil
}
