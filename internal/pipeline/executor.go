package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/docpipe/internal/engine"
	"github.com/seantiz/docpipe/internal/model"
)

// executor performs one job attempt: resolve the engine for the job's
// kind, invoke it under the attempt context, and fold the outcome into
// a Result.
type executor struct {
	registry *engine.Registry
}

// run executes one attempt. The returned Result always carries the
// job's identity, attempt number, wall-clock duration, and a resource
// snapshot; err is non-nil on failure and classifies it for the retry
// decision.
func (e *executor) run(ctx context.Context, job model.Job) (*model.Result, error) {
	start := time.Now()

	eng, err := e.registry.ForKind(job.Kind)
	if err != nil {
		return failedResult(job, start, err), err
	}

	output, err := eng.Process(ctx, job.Payload)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("attempt deadline exceeded after %v: %w", job.Timeout(), err)
		}
		return failedResult(job, start, err), err
	}

	return &model.Result{
		JobID:    job.ID,
		Success:  true,
		Output:   output,
		Attempts: job.Attempts,
		Duration: time.Since(start),
		Metrics:  captureSnapshot(),
	}, nil
}

func failedResult(job model.Job, start time.Time, err error) *model.Result {
	return &model.Result{
		JobID:    job.ID,
		Success:  false,
		Error:    err.Error(),
		Attempts: job.Attempts,
		Duration: time.Since(start),
		Metrics:  captureSnapshot(),
	}
}
