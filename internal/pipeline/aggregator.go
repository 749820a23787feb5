package pipeline

import (
	"time"

	"github.com/seantiz/docpipe/internal/model"
)

// aggregator keeps the rolling job statistics. It lives inside the
// control loop, so it takes no locks. The average uses the incremental
// form avg += (x - avg) / n, which needs no per-job samples and stays
// numerically stable over long runs.
type aggregator struct {
	total     int64
	succeeded int64
	failed    int64
	avgMS     float64
}

// observe folds one terminal result into the counters. Counters only
// move on terminal results, never on retried attempts.
func (a *aggregator) observe(res *model.Result) {
	a.total++
	if res.Success {
		a.succeeded++
	} else {
		a.failed++
	}
	ms := float64(res.Duration) / float64(time.Millisecond)
	a.avgMS += (ms - a.avgMS) / float64(a.total)
}

// snapshot merges the rolling counters with the control loop's live
// structural state.
func (a *aggregator) snapshot(queueLen, active, slots int, workers []model.WorkerState) model.StatsSnapshot {
	return model.StatsSnapshot{
		TotalJobs:               a.total,
		SuccessfulJobs:          a.succeeded,
		FailedJobs:              a.failed,
		AverageProcessingTimeMS: a.avgMS,
		QueueLength:             queueLen,
		ActiveJobs:              active,
		AvailableSlots:          slots,
		Workers:                 workers,
		Resources:               captureSnapshot(),
	}
}
