package pipeline

import (
	"context"

	"github.com/seantiz/docpipe/internal/model"
)

// Channel capacities. The worker inbox holds at most one process
// envelope plus tick probes; results and outbound are sized so workers
// and the control loop rarely block on each other.
const (
	workerInboxSize    = 4
	resultsBufferSize  = 64
	outboundBufferSize = 64
)

// requestKind enumerates the envelope types the control loop sends to
// an execution context.
type requestKind int

const (
	reqProcess requestKind = iota
	reqStatus
	reqMetrics
	reqCancel
)

// request is the envelope the control loop sends to a worker. Process
// envelopes carry a copy of the job plus the attempt context; the
// token ties any late response back to the attempt that produced it.
type request struct {
	kind   requestKind
	token  uint64
	jobID  string
	job    model.Job
	ctx    context.Context
	cancel context.CancelFunc
}

// responseKind enumerates the envelope types a worker sends back.
// respStopped is the lifecycle signal raised when a worker goroutine
// exits, reported by its watcher rather than the worker itself.
type responseKind int

const (
	respResult responseKind = iota
	respStatus
	respMetrics
	respCancelled
	respCrashed
	respStopped
)

// response is the envelope a worker sends to the control loop.
type response struct {
	kind     responseKind
	workerID int
	token    uint64
	jobID    string
	result   *model.Result
	execErr  error
	busy     bool
	snapshot model.ResourceSnapshot
	crash    string
}
