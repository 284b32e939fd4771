// Package imagesim provides the two reference Executors (spec.md §4.6) that
// the bundled branchflowd binary dispatches to: cell_segmentation and
// tissue_mask. Neither does real image processing — the spec explicitly
// leaves the executor's internals opaque to the scheduler — but both behave
// like a real tiled pipeline would: a deterministic tile count derived from
// the image path, incremental progress reported per tile via the sink, and
// a simulated per-tile processing cost.
//
// Grounded on the teacher's act-invocation executor
// (apps/cli/internal/runner/check.go), which likewise wraps an external,
// opaque unit of work behind a uniform interface and reports incremental
// status back through a callback rather than a return value.
package imagesim

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/handleui/branchflow/internal/model"
	"github.com/handleui/branchflow/internal/workerpool"
)

// TileDuration is the simulated per-tile processing cost.
const TileDuration = 10 * time.Millisecond

const (
	minTiles = 4
	maxTiles = 64
)

// tileCount derives a deterministic, image-path-dependent tile count so
// repeated runs of the same job are reproducible in tests and demos.
func tileCount(imagePath string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(imagePath))
	n := int(h.Sum32()%uint32(maxTiles-minTiles+1)) + minTiles
	return n
}

// CellSegmentation simulates a per-tile cell segmentation pass.
type CellSegmentation struct{}

func (CellSegmentation) Execute(ctx context.Context, job *model.Job, progress workerpool.ProgressSink) workerpool.Result {
	return runTiled(ctx, job, progress, "cell_segmentation")
}

// TissueMask simulates a per-tile tissue mask pass.
type TissueMask struct{}

func (TissueMask) Execute(ctx context.Context, job *model.Job, progress workerpool.ProgressSink) workerpool.Result {
	return runTiled(ctx, job, progress, "tissue_mask")
}

// runTiled drives the shared tile loop both simulated executors use,
// differing only in the output path suffix.
func runTiled(ctx context.Context, job *model.Job, progress workerpool.ProgressSink, kind string) workerpool.Result {
	total := tileCount(job.ImagePath)
	processed := 0

	for processed < total {
		select {
		case <-ctx.Done():
			return workerpool.Result{Status: model.JobFailed, ErrorMessage: ctx.Err().Error()}
		case <-time.After(TileDuration):
		}

		processed++
		frac := float64(processed) / float64(total)
		p := processed
		t := total
		progress(frac, &p, &t)
	}

	return workerpool.Result{
		Status:     model.JobSucceeded,
		ResultPath: fmt.Sprintf("%s.%s.out", job.ImagePath, kind),
	}
}
