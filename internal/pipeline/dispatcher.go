package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/seantiz/docpipe/internal/engine"
	"github.com/seantiz/docpipe/internal/model"
	"github.com/seantiz/docpipe/internal/queue"
)

// commandKind enumerates the boundary requests the control loop accepts.
type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
	cmdStatus
	cmdStats
)

// command crosses from the caller-facing boundary into the control
// loop. Every command carries a reply channel with capacity one, so
// answering never blocks the loop.
type command struct {
	kind  commandKind
	job   *model.Job
	jobID string
	reply chan cmdReply
}

type cmdReply struct {
	err       error
	status    model.Status
	cancelled bool
	stats     model.StatsSnapshot
}

// outcome leaves the control loop for the boundary: a terminal result
// or a cancellation notice for a job callers may be waiting on.
type outcome struct {
	job       model.Job
	result    *model.Result
	cancelled bool
}

// activeJob tracks one dispatched attempt. The token distinguishes it
// from earlier attempts of the same job so a detached attempt's late
// result is discarded instead of double-resolving.
type activeJob struct {
	job       *model.Job
	workerID  int
	token     uint64
	cancel    context.CancelFunc
	startedAt time.Time
}

// dispatcher is the control loop. It owns the queue, the active set,
// the worker pool, and the counters; no other goroutine touches them,
// so none of them are locked.
type dispatcher struct {
	cfg    Config
	exec   *executor
	broker *Broker
	logger *slog.Logger

	commands <-chan command
	results  chan response
	outbound chan<- outcome

	ctx context.Context

	pending      *queue.Queue
	active       map[string]*activeJob
	workers      map[int]*worker
	idle         []int
	stats        aggregator
	nextToken    uint64
	nextWorkerID int

	done chan struct{}
}

// run drives the pipeline until the parent context is cancelled:
// boundary commands, worker responses, and the advisory metrics tick
// all funnel through this single goroutine, and free execution
// contexts are refilled from the queue after every step.
func (d *dispatcher) run() {
	defer close(d.done)

	for i := 0; i < d.cfg.Concurrency; i++ {
		d.spawnWorker()
	}

	ticker := time.NewTicker(d.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-d.commands:
			d.handleCommand(cmd)
		case resp := <-d.results:
			d.handleResponse(resp)
		case <-ticker.C:
			d.tick()
		case <-d.ctx.Done():
			d.shutdown()
			return
		}
		d.fill()
	}
}

func (d *dispatcher) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		cmd.reply <- cmdReply{err: d.enqueue(cmd.job)}
	case cmdCancel:
		cmd.reply <- cmdReply{cancelled: d.cancelJob(cmd.jobID)}
	case cmdStatus:
		cmd.reply <- cmdReply{status: d.statusOf(cmd.jobID)}
	case cmdStats:
		cmd.reply <- cmdReply{stats: d.snapshot()}
	}
}

func (d *dispatcher) handleResponse(resp response) {
	switch resp.kind {
	case respResult:
		d.finishAttempt(resp)
	case respCrashed:
		d.handleCrash(resp)
	case respCancelled:
		d.logger.Debug("execution context acknowledged cancel",
			"worker_id", resp.workerID, "job_id", resp.jobID)
	case respStopped:
		d.handleStopped(resp)
	case respStatus:
		d.logger.Debug("execution context status",
			"worker_id", resp.workerID, "busy", resp.busy, "job_id", resp.jobID)
	case respMetrics:
		d.logger.Debug("execution context metrics",
			"worker_id", resp.workerID,
			"heap_bytes", resp.snapshot.HeapBytes,
			"goroutines", resp.snapshot.Goroutines)
	}
}

// enqueue admits a job into the queue. Admission is never throttled;
// the only rejection is an ID collision with queued or active work.
func (d *dispatcher) enqueue(job *model.Job) error {
	if _, dup := d.active[job.ID]; dup {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateJob, job.ID)
	}
	if err := d.pending.Push(job); err != nil {
		return err
	}
	queueDepth.Set(float64(d.pending.Len()))
	d.logger.Debug("job queued",
		"job_id", job.ID, "type", job.Kind, "priority", job.Priority.String())
	return nil
}

// fill dispatches queued jobs while idle execution contexts remain.
func (d *dispatcher) fill() {
	for len(d.idle) > 0 {
		job := d.pending.Pop()
		if job == nil {
			return
		}
		d.dispatch(job)
	}
}

// dispatch hands one job to an idle execution context under a fresh
// attempt token and context. The worker receives a copy of the job;
// the control loop keeps the original in the active set.
func (d *dispatcher) dispatch(job *model.Job) {
	wid := d.idle[0]
	d.idle = d.idle[1:]
	w := d.workers[wid]

	job.Attempts++
	d.nextToken++
	ctx, cancel := context.WithTimeout(d.ctx, job.Timeout())
	d.active[job.ID] = &activeJob{
		job:       job,
		workerID:  wid,
		token:     d.nextToken,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	w.inbox <- request{kind: reqProcess, token: d.nextToken, job: *job, ctx: ctx, cancel: cancel}

	queueDepth.Set(float64(d.pending.Len()))
	activeJobsGauge.Set(float64(len(d.active)))
	d.emit(Event{Type: EventJobStarted, JobID: job.ID, Data: startData(job)})
	d.logger.Info("job started",
		"job_id", job.ID,
		"type", job.Kind,
		"priority", job.Priority.String(),
		"attempt", job.Attempts,
		"worker_id", wid)
}

// finishAttempt routes a completed attempt: discard if stale, resolve
// terminally, or reschedule through the retry policy.
func (d *dispatcher) finishAttempt(resp response) {
	entry, ok := d.active[resp.jobID]
	if !ok || entry.token != resp.token {
		d.logger.Debug("discarded stale attempt result", "job_id", resp.jobID)
		return
	}
	delete(d.active, resp.jobID)
	activeJobsGauge.Set(float64(len(d.active)))
	d.markIdle(resp.workerID)

	job, res := entry.job, resp.result
	if res.Success {
		d.finishJob(job, res)
		return
	}
	if d.retryable(resp.execErr) && job.Retries > 0 {
		d.rescheduleJob(job, res)
		return
	}
	d.finishJob(job, res)
}

// retryable reports whether a failure class may be rescheduled. A job
// type outside the closed set or without a bound engine fails
// terminally no matter the remaining budget.
func (d *dispatcher) retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, engine.ErrUnknownKind) && !errors.Is(err, engine.ErrNotRegistered)
}

// rescheduleJob consumes one retry: the priority is raised to high
// (never lowered) so retried work is not starved by fresh low-priority
// submissions, and the job is reinserted at the front of its band so
// it runs before work queued behind it.
func (d *dispatcher) rescheduleJob(job *model.Job, res *model.Result) {
	job.Retries--
	if job.Priority < model.PriorityHigh {
		job.Priority = model.PriorityHigh
	}
	if err := d.pending.PushFront(job); err != nil {
		d.logger.Error("requeue failed, failing job", "job_id", job.ID, "error", err)
		d.finishJob(job, res)
		return
	}

	queueDepth.Set(float64(d.pending.Len()))
	jobRetriesTotal.WithLabelValues(string(job.Kind)).Inc()
	d.emit(Event{Type: EventJobRetry, JobID: job.ID, Data: retryData(job, res)})
	d.logger.Info("job rescheduled",
		"job_id", job.ID,
		"type", job.Kind,
		"attempt", job.Attempts,
		"retries_left", job.Retries,
		"error", res.Error)
}

// finishJob resolves a job terminally: the counters fold in the
// result, observers hear about it, and the boundary resolves waiters.
func (d *dispatcher) finishJob(job *model.Job, res *model.Result) {
	d.stats.observe(res)

	outcomeLabel, evtType := outcomeFailure, EventJobFailed
	if res.Success {
		outcomeLabel, evtType = outcomeSuccess, EventJobCompleted
	}
	jobsCompletedTotal.WithLabelValues(string(job.Kind), outcomeLabel).Inc()
	jobDurationSeconds.WithLabelValues(string(job.Kind)).Observe(res.Duration.Seconds())

	d.emit(Event{Type: evtType, JobID: job.ID, Data: resultData(res)})
	d.outbound <- outcome{job: *job, result: res}

	if res.Success {
		d.logger.Info("job completed",
			"job_id", job.ID,
			"type", job.Kind,
			"attempts", res.Attempts,
			"duration_ms", res.Duration.Milliseconds())
	} else {
		d.logger.Warn("job failed",
			"job_id", job.ID,
			"type", job.Kind,
			"attempts", res.Attempts,
			"error", res.Error)
	}
}

// cancelJob implements both cancellation paths. A queued job is
// removed outright. An active job is hard-cancelled: the attempt
// context is cancelled, the execution context running it is detached
// and replaced, and the attempt's eventual result is discarded by
// token. Terminal and unknown jobs report false with no side effect.
func (d *dispatcher) cancelJob(id string) bool {
	if d.pending.Remove(id) {
		queueDepth.Set(float64(d.pending.Len()))
		jobsCancelledTotal.WithLabelValues("queued").Inc()
		d.logger.Info("cancelled queued job", "job_id", id)
		d.outbound <- outcome{job: model.Job{ID: id}, cancelled: true}
		return true
	}

	entry, ok := d.active[id]
	if !ok {
		return false
	}

	entry.cancel()
	if w, live := d.workers[entry.workerID]; live {
		w.control <- request{kind: reqCancel, token: entry.token, jobID: id}
		d.retire(entry.workerID)
		d.spawnWorker()
	}
	delete(d.active, id)
	activeJobsGauge.Set(float64(len(d.active)))
	jobsCancelledTotal.WithLabelValues("active").Inc()
	d.logger.Info("cancelled active job", "job_id", id, "worker_id", entry.workerID)
	d.outbound <- outcome{job: *entry.job, cancelled: true}
	return true
}

// handleCrash converts a crashed attempt into a terminal failure and
// replaces the dead execution context so pool capacity is restored.
// The lost attempt is not retried. A crash from a context a cancel
// already retired must not spawn a second replacement.
func (d *dispatcher) handleCrash(resp response) {
	workerCrashesTotal.Inc()
	if _, live := d.workers[resp.workerID]; live {
		d.retire(resp.workerID)
		d.spawnWorker()
	}
	d.logger.Error("execution context crashed",
		"worker_id", resp.workerID, "job_id", resp.jobID, "crash", resp.crash)

	entry, ok := d.active[resp.jobID]
	if !ok || entry.token != resp.token {
		return
	}
	delete(d.active, resp.jobID)
	activeJobsGauge.Set(float64(len(d.active)))

	res := &model.Result{
		JobID:    entry.job.ID,
		Success:  false,
		Error:    "execution context crashed: " + resp.crash,
		Attempts: entry.job.Attempts,
		Duration: time.Since(entry.startedAt),
		Metrics:  captureSnapshot(),
	}
	d.finishJob(entry.job, res)
}

// handleStopped reaps a worker that exited without the control loop
// retiring it first. Its in-flight job, if any, fails terminally.
func (d *dispatcher) handleStopped(resp response) {
	if _, live := d.workers[resp.workerID]; !live {
		return
	}
	d.logger.Error("execution context stopped unexpectedly", "worker_id", resp.workerID)
	d.retire(resp.workerID)
	d.spawnWorker()

	for id, entry := range d.active {
		if entry.workerID != resp.workerID {
			continue
		}
		delete(d.active, id)
		activeJobsGauge.Set(float64(len(d.active)))
		res := &model.Result{
			JobID:    id,
			Success:  false,
			Error:    "execution context stopped unexpectedly",
			Attempts: entry.job.Attempts,
			Duration: time.Since(entry.startedAt),
			Metrics:  captureSnapshot(),
		}
		d.finishJob(entry.job, res)
		break
	}
}

// statusOf reports a job's position in the live structures. Terminal
// jobs are not retained here; the boundary layers history on top.
func (d *dispatcher) statusOf(id string) model.Status {
	if d.pending.Contains(id) {
		return model.StatusQueued
	}
	if _, ok := d.active[id]; ok {
		return model.StatusProcessing
	}
	return model.StatusNotFound
}

// spawnWorker adds a fresh execution context to the pool and watches
// its lifecycle so a silent exit cannot strand a slot.
func (d *dispatcher) spawnWorker() {
	d.nextWorkerID++
	w := newWorker(d.nextWorkerID, d.exec, d.results, d.logger)
	d.workers[w.id] = w
	d.idle = append(d.idle, w.id)
	go w.run()
	go d.watch(w)
}

// watch turns a worker's exit into a lifecycle envelope.
func (d *dispatcher) watch(w *worker) {
	<-w.stopped
	d.results <- response{kind: respStopped, workerID: w.id}
}

// retire removes a worker from the pool without waiting for it.
func (d *dispatcher) retire(id int) {
	delete(d.workers, id)
	for i, wid := range d.idle {
		if wid == id {
			d.idle = append(d.idle[:i], d.idle[i+1:]...)
			break
		}
	}
}

// markIdle returns a still-live worker to the idle list.
func (d *dispatcher) markIdle(id int) {
	if _, live := d.workers[id]; live {
		d.idle = append(d.idle, id)
	}
}

func (d *dispatcher) snapshot() model.StatsSnapshot {
	return d.stats.snapshot(
		d.pending.Len(),
		len(d.active),
		d.cfg.Concurrency-len(d.active),
		d.workerStates(),
	)
}

// workerStates lists the pool in worker-ID order from the control
// loop's own bookkeeping.
func (d *dispatcher) workerStates() []model.WorkerState {
	busyBy := make(map[int]string, len(d.active))
	for id, entry := range d.active {
		busyBy[entry.workerID] = id
	}

	ids := make([]int, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	states := make([]model.WorkerState, 0, len(ids))
	for _, id := range ids {
		jobID, busy := busyBy[id]
		states = append(states, model.WorkerState{ID: id, Busy: busy, JobID: jobID})
	}
	return states
}

// tick publishes the periodic metrics snapshot, probes the execution
// contexts, and raises advisory warnings. It only observes: admission
// is never throttled from here.
func (d *dispatcher) tick() {
	snap := d.snapshot()
	if data, err := json.Marshal(snap); err == nil {
		d.emit(Event{Type: EventMetricsUpdated, Data: data})
	}

	for _, w := range d.workers {
		select {
		case w.inbox <- request{kind: reqStatus}:
		default:
		}
		select {
		case w.inbox <- request{kind: reqMetrics}:
		default:
		}
	}

	if d.cfg.QueueWarnDepth > 0 && snap.QueueLength > d.cfg.QueueWarnDepth {
		d.logger.Warn("queue depth above threshold",
			"queue_length", snap.QueueLength, "threshold", d.cfg.QueueWarnDepth)
	}
	if d.cfg.HeapWarnBytes > 0 && snap.Resources.HeapBytes > d.cfg.HeapWarnBytes {
		d.logger.Warn("heap usage above threshold",
			"heap_bytes", snap.Resources.HeapBytes, "threshold", d.cfg.HeapWarnBytes)
	}
	d.logger.Debug("metrics snapshot",
		"total_jobs", snap.TotalJobs,
		"queue_length", snap.QueueLength,
		"active_jobs", snap.ActiveJobs,
		"available_slots", snap.AvailableSlots)
}

// shutdown drains the pool. In-flight attempt contexts are already
// cancelled through the shared parent; inboxes close so idle workers
// exit; the loop then waits for every execution context's lifecycle
// signal before closing the outbound channel.
func (d *dispatcher) shutdown() {
	for _, w := range d.workers {
		close(w.inbox)
	}

	remaining := len(d.workers)
	grace := time.NewTimer(d.cfg.ShutdownGrace)
	defer grace.Stop()

	for remaining > 0 {
		select {
		case resp := <-d.results:
			if resp.kind == respStopped {
				remaining--
			}
		case <-grace.C:
			d.logger.Warn("shutdown grace elapsed with execution contexts still running",
				"remaining", remaining)
			remaining = 0
		}
	}

	d.broker.Close()
	close(d.outbound)
	d.logger.Info("pipeline stopped",
		"jobs_total", d.stats.total,
		"jobs_succeeded", d.stats.succeeded,
		"jobs_failed", d.stats.failed)
}

// emit publishes an event without blocking the control loop.
func (d *dispatcher) emit(evt Event) {
	evt.Time = time.Now().UTC()
	d.broker.Publish(evt)
}

func startData(job *model.Job) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"type":     job.Kind,
		"priority": job.Priority.String(),
		"attempt":  job.Attempts,
	})
	return data
}

func retryData(job *model.Job, res *model.Result) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"retries_left": job.Retries,
		"priority":     job.Priority.String(),
		"error":        res.Error,
	})
	return data
}

func resultData(res *model.Result) json.RawMessage {
	fields := map[string]any{
		"success":     res.Success,
		"attempts":    res.Attempts,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Error != "" {
		fields["error"] = res.Error
	}
	data, _ := json.Marshal(fields)
	return data
}
