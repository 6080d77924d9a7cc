package stream

import (
	"context"

	"github.com/jordigilh/ocpaggregator/internal/aggregate"
	"github.com/jordigilh/ocpaggregator/internal/labels"
	"github.com/jordigilh/ocpaggregator/internal/model"
)

// podPartial carries a chunk's (or a merge's) accumulator map alongside the
// count of rows it dropped, so Run's generic interface{} partials still
// let dropped-row counts fold the same associative/commutative way the
// accumulators do.
type podPartial struct {
	accs    map[aggregate.PodGroupKey]*aggregate.PodAccumulator
	dropped int
}

// RunPod executes the pod aggregator's chunk-and-merge pass under the
// given mode, wrapping aggregate.AggregatePod/MergePodPartials behind the
// generic Run driver. The second return value is the total number of rows
// dropped across every chunk for failing the metric validity invariant.
func RunPod(ctx context.Context, mode Mode, maxWorkers int, it ChunkIterator, nodeLabels, nsLabels *model.Table, allow labels.AllowList) (map[aggregate.PodGroupKey]*aggregate.PodAccumulator, int, error) {
	aggFn := func(chunk *model.Table) interface{} {
		accs, dropped := aggregate.AggregatePod(chunk, nodeLabels, nsLabels, allow)
		return podPartial{accs: accs, dropped: dropped}
	}
	mergeFn := func(partials ...interface{}) interface{} {
		typed := make([]map[aggregate.PodGroupKey]*aggregate.PodAccumulator, len(partials))
		dropped := 0
		for i, p := range partials {
			pp := p.(podPartial)
			typed[i] = pp.accs
			dropped += pp.dropped
		}
		return podPartial{accs: aggregate.MergePodPartials(typed...), dropped: dropped}
	}
	result, err := Run(ctx, mode, maxWorkers, it, aggFn, mergeFn)
	if err != nil {
		return nil, 0, err
	}
	if result == nil {
		return map[aggregate.PodGroupKey]*aggregate.PodAccumulator{}, 0, nil
	}
	final := result.(podPartial)
	return final.accs, final.dropped, nil
}
