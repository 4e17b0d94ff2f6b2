package utils

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelRange splits [0, totalSize) into at most ParallelFactor contiguous bands and runs work
// on each band concurrently. It returns once every band is done, or with ctx's error if ctx was
// cancelled before all bands started.
func ParallelRange(ctx context.Context, totalSize int, work func(from, to int)) error {
	if totalSize <= 0 {
		return ctx.Err()
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := (totalSize + numGroups - 1) / numGroups

	group, groupCtx := errgroup.WithContext(ctx)
	for from := 0; from < totalSize; from += groupSize {
		from := from // per-iteration copy; go.mod targets go 1.21 loop semantics
		to := from + groupSize
		if to > totalSize {
			to = totalSize
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			work(from, to)
			return nil
		})
	}
	return group.Wait()
}
