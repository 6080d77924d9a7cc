// Package stream implements three execution modes: in-memory (Mode A),
// serial streaming (Mode B), and parallel streaming (Mode C). All three
// reduce to the same core/merge contract; only how chunks are produced
// and dispatched differs.
package stream

import (
	"context"
	"errors"
	"io"

	"github.com/jordigilh/ocpaggregator/internal/model"
	"github.com/rs/zerolog/log"
)

// Mode selects the execution strategy, driven by the use_streaming /
// parallel_chunks configuration flags.
type Mode int

const (
	ModeInMemory Mode = iota
	ModeSerialStreaming
	ModeParallelStreaming
)

// SelectMode maps the two boolean configuration flags onto a Mode.
func SelectMode(useStreaming, parallelChunks bool) Mode {
	if !useStreaming {
		return ModeInMemory
	}
	if parallelChunks {
		return ModeParallelStreaming
	}
	return ModeSerialStreaming
}

// ChunkIterator yields a finite, non-restartable sequence of row-sets.
// Next returns io.EOF (wrapped or not, checked with errors.Is) once
// exhausted. Implementations backed by the object-store reader stream
// rows off disk/network; SingleChunk below wraps an already-materialized
// Table for Mode A so the same consumer loop serves every mode.
type ChunkIterator interface {
	Next(ctx context.Context) (*model.Table, error)
}

// singleChunkIterator yields one Table then io.EOF, used for Mode A where
// the table is read fully upfront rather than chunked.
type singleChunkIterator struct {
	table *model.Table
	done  bool
}

// SingleChunk adapts an already fully-read Table into a one-element
// ChunkIterator.
func SingleChunk(t *model.Table) ChunkIterator {
	return &singleChunkIterator{table: t}
}

func (s *singleChunkIterator) Next(ctx context.Context) (*model.Table, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.table, nil
}

// AggregateFunc reduces one chunk to a partial aggregate. MergeFunc
// combines any number of partials into one, associatively and
// commutatively (the partial aggregate's own merge function, e.g.
// aggregate.MergePodPartials).
type AggregateFunc func(chunk *model.Table) interface{}
type MergeFunc func(partials ...interface{}) interface{}

// Run drives chunk production and partial-result folding for the selected
// mode. For ModeInMemory and ModeSerialStreaming, chunks are consumed one
// at a time from the calling goroutine. For ModeParallelStreaming, a
// bounded pool of maxWorkers goroutines consumes chunks from a
// channel-backed queue fed directly by the iterator — never a
// fully-materialized slice — so the iterator's own backpressure (the
// producer blocks until a worker takes its chunk) keeps at most maxWorkers+1
// chunks resident at once.
func Run(ctx context.Context, mode Mode, maxWorkers int, it ChunkIterator, agg AggregateFunc, merge MergeFunc) (interface{}, error) {
	switch mode {
	case ModeInMemory, ModeSerialStreaming:
		return runSerial(ctx, it, agg, merge)
	case ModeParallelStreaming:
		return runParallel(ctx, maxWorkers, it, agg, merge)
	default:
		return nil, errors.New("stream: unknown mode")
	}
}

func runSerial(ctx context.Context, it ChunkIterator, agg AggregateFunc, merge MergeFunc) (interface{}, error) {
	var partials []interface{}
	for {
		chunk, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		partials = append(partials, agg(chunk))
	}
	if len(partials) == 0 {
		return merge(), nil
	}
	return merge(partials...), nil
}

// runParallel implements Mode C. chunkCh is unbuffered, so the iterator
// producer blocks holding its one pending chunk until a worker is free;
// combined with the one chunk each worker holds while processing, at most
// maxWorkers+1 chunks are resident at any instant.
func runParallel(ctx context.Context, maxWorkers int, it ChunkIterator, agg AggregateFunc, merge MergeFunc) (interface{}, error) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	chunkCh := make(chan *model.Table)
	resultCh := make(chan interface{}, maxWorkers)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		for {
			chunk, err := it.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	workerCount := maxWorkers
	done := make(chan struct{}, workerCount)
	for w := 0; w < workerCount; w++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			for chunk := range chunkCh {
				resultCh <- agg(chunk)
			}
		}(w)
	}

	go func() {
		for i := 0; i < workerCount; i++ {
			<-done
		}
		close(resultCh)
	}()

	var partials []interface{}
	for r := range resultCh {
		partials = append(partials, r)
	}

	select {
	case err := <-errCh:
		return nil, err
	default:
	}

	log.Debug().Int("chunks_merged", len(partials)).Int("max_workers", maxWorkers).Msg("parallel streaming chunk fan-in complete")

	if len(partials) == 0 {
		return merge(), nil
	}
	return merge(partials...), nil
}
