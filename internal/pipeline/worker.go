package pipeline

import (
	"fmt"
	"log/slog"
)

// worker is one execution context: a goroutine that processes at most
// one job at a time and talks to the control loop only through request
// and response envelopes. It never touches control-loop state.
type worker struct {
	id      int
	exec    *executor
	inbox   chan request
	control chan request
	results chan<- response
	stopped chan struct{}
	logger  *slog.Logger
}

func newWorker(id int, exec *executor, results chan<- response, logger *slog.Logger) *worker {
	return &worker{
		id:      id,
		exec:    exec,
		inbox:   make(chan request, workerInboxSize),
		control: make(chan request, 1),
		results: results,
		stopped: make(chan struct{}),
		logger:  logger.With("worker_id", id),
	}
}

// run is the worker loop. It exits when its inbox closes, when the
// control loop detaches it mid-job, or after it reports a crash; the
// control loop replaces it in the latter two cases. A control envelope
// received while idle means the loop has already written this worker
// off, so it acknowledges and retires.
func (w *worker) run() {
	defer close(w.stopped)
	for {
		select {
		case req, ok := <-w.inbox:
			if !ok {
				return
			}
			switch req.kind {
			case reqProcess:
				if detached := w.process(req); detached {
					return
				}
			case reqStatus:
				w.results <- response{kind: respStatus, workerID: w.id}
			case reqMetrics:
				w.results <- response{kind: respMetrics, workerID: w.id, snapshot: captureSnapshot()}
			default:
				w.logger.Warn("dropped unexpected envelope while idle", "kind", int(req.kind))
			}
		case req := <-w.control:
			w.results <- response{kind: respCancelled, workerID: w.id, token: req.token, jobID: req.jobID}
			return
		}
	}
}

// process runs one attempt in an inner goroutine so a hard cancel can
// detach immediately instead of waiting the engine out. It reports
// whether the worker must exit. Status and metrics probes arriving
// mid-job are answered inline.
func (w *worker) process(req request) bool {
	defer req.cancel()

	done := make(chan response, 1)
	go func() {
		done <- w.attempt(req)
	}()

	inbox := w.inbox
	for {
		select {
		case resp := <-done:
			w.results <- resp
			return resp.kind == respCrashed
		case probe, ok := <-inbox:
			if !ok {
				// Shutting down; let the cancelled attempt finish.
				inbox = nil
				continue
			}
			w.answer(probe, req)
		case creq := <-w.control:
			w.results <- response{kind: respCancelled, workerID: w.id, token: creq.token, jobID: req.job.ID}
			return true
		}
	}
}

// answer replies to a probe received while a job is in flight.
func (w *worker) answer(probe request, current request) {
	switch probe.kind {
	case reqStatus:
		w.results <- response{kind: respStatus, workerID: w.id, jobID: current.job.ID, busy: true}
	case reqMetrics:
		w.results <- response{kind: respMetrics, workerID: w.id, snapshot: captureSnapshot()}
	default:
		w.logger.Warn("dropped unexpected envelope while busy", "kind", int(probe.kind))
	}
}

// attempt executes one job and converts the outcome, including a
// recovered panic, into a response envelope. A panic is reported as a
// crash so the control loop fails the job and replaces this context.
func (w *worker) attempt(req request) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			resp = response{
				kind:     respCrashed,
				workerID: w.id,
				token:    req.token,
				jobID:    req.job.ID,
				crash:    fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	res, execErr := w.exec.run(req.ctx, req.job)
	return response{
		kind:     respResult,
		workerID: w.id,
		token:    req.token,
		jobID:    req.job.ID,
		result:   res,
		execErr:  execErr,
	}
}
