package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/docpipe/internal/engine"
	"github.com/seantiz/docpipe/internal/model"
	"github.com/seantiz/docpipe/internal/queue"
	"github.com/seantiz/docpipe/internal/store"
)

// Sentinel errors returned by the caller-facing surface.
var (
	ErrStopped   = errors.New("pipeline stopped")
	ErrNotFound  = errors.New("job not found")
	ErrCancelled = errors.New("job cancelled")
	ErrTimeout   = errors.New("timed out waiting for job")
	ErrJobFailed = errors.New("job failed")
)

// Configuration defaults.
const (
	DefaultConcurrency     = 4
	DefaultTimeout         = 30 * time.Second
	DefaultMetricsInterval = 30 * time.Second
	DefaultShutdownGrace   = 5 * time.Second
)

// Config tunes the pipeline. The zero value is usable; empty fields
// fall back to the defaults above.
type Config struct {
	// Concurrency caps the number of jobs processed at once.
	Concurrency int
	// DefaultTimeout bounds a single attempt for jobs that do not set
	// their own timeout.
	DefaultTimeout time.Duration
	// MetricsInterval spaces the periodic metrics snapshots.
	MetricsInterval time.Duration
	// QueueWarnDepth logs a warning when the queue grows past it.
	// Zero disables the check.
	QueueWarnDepth int
	// HeapWarnBytes logs a warning when heap usage grows past it.
	// Zero disables the check.
	HeapWarnBytes uint64
	// ShutdownGrace bounds the wait for execution contexts on Stop.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

type waitOutcome struct {
	result *model.Result
	err    error
}

// waiter receives exactly one terminal outcome. Capacity one, so
// resolving never blocks the forwarder.
type waiter chan waitOutcome

// Pipeline is the caller-facing boundary. It translates method calls
// into commands for the control loop, fans terminal outcomes out to
// waiting callers, and layers persistent history over live state.
type Pipeline struct {
	cfg      Config
	registry *engine.Registry
	history  store.Store
	broker   *Broker
	logger   *slog.Logger

	commands chan command
	outbound chan outcome

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	waiters map[string][]waiter
	started bool

	dispatcherDone chan struct{}
	forwardDone    chan struct{}
}

// New builds a pipeline. Call Start before submitting jobs.
func New(cfg Config, registry *engine.Registry, history store.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:            cfg.withDefaults(),
		registry:       registry,
		history:        history,
		broker:         NewBroker(),
		logger:         logger,
		commands:       make(chan command),
		outbound:       make(chan outcome, outboundBufferSize),
		ctx:            ctx,
		cancel:         cancel,
		waiters:        make(map[string][]waiter),
		dispatcherDone: make(chan struct{}),
		forwardDone:    make(chan struct{}),
	}
}

// Start launches the control loop and the outcome forwarder. Calling
// it more than once is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	d := &dispatcher{
		cfg:      p.cfg,
		exec:     &executor{registry: p.registry},
		broker:   p.broker,
		logger:   p.logger,
		commands: p.commands,
		results:  make(chan response, resultsBufferSize),
		outbound: p.outbound,
		ctx:      p.ctx,
		pending:  queue.New(),
		active:   make(map[string]*activeJob),
		workers:  make(map[int]*worker),
		done:     p.dispatcherDone,
	}
	go d.run()
	go p.forwardOutcomes()

	p.logger.Info("pipeline started",
		"concurrency", p.cfg.Concurrency,
		"default_timeout_ms", p.cfg.DefaultTimeout.Milliseconds(),
		"metrics_interval", p.cfg.MetricsInterval.String())
}

// Stop shuts the pipeline down: in-flight attempts are cancelled, the
// pool drains within the configured grace, and outstanding waiters are
// rejected with ErrStopped. The context bounds how long Stop itself
// waits.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	p.cancel()
	select {
	case <-p.dispatcherDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-p.forwardDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// forwardOutcomes moves terminal outcomes from the control loop to
// history and to waiting callers. History is written before waiters
// resolve so a caller who saw the result can immediately read it back.
func (p *Pipeline) forwardOutcomes() {
	defer close(p.forwardDone)

	for out := range p.outbound {
		if out.cancelled {
			p.reject(out.job.ID, fmt.Errorf("%w: %s", ErrCancelled, out.job.ID))
			continue
		}
		p.record(out)
		p.resolve(out.job.ID, out.result)
	}
	p.rejectAll(ErrStopped)
}

// record persists one terminal outcome. Cancelled jobs never reach
// here, so history holds completed and failed jobs only.
func (p *Pipeline) record(out outcome) {
	status := model.StatusFailed
	if out.result.Success {
		status = model.StatusCompleted
	}
	rec := &model.JobRecord{
		ID:          out.job.ID,
		Kind:        out.job.Kind,
		Priority:    out.job.Priority,
		Status:      status,
		Output:      out.result.Output,
		Error:       out.result.Error,
		Attempts:    out.result.Attempts,
		DurationMS:  out.result.Duration.Milliseconds(),
		HeapBytes:   out.result.Metrics.HeapBytes,
		CPUSeconds:  out.result.Metrics.CPUSeconds,
		SubmittedAt: out.job.CreatedAt,
		FinishedAt:  time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.history.RecordTerminal(ctx, rec); err != nil {
		p.logger.Error("failed to record job history", "job_id", rec.ID, "error", err)
	}
}

// Submit queues a job for asynchronous processing. The job is
// normalized in place: missing ID, creation time, and timeout are
// filled in. The control loop works on its own copy, so the caller may
// keep reading the struct after submission. Admission never blocks on
// queue depth; the only rejection is an ID collision with queued or
// active work.
func (p *Pipeline) Submit(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	if err := p.normalize(job); err != nil {
		return err
	}
	owned := *job
	reply, err := p.send(ctx, command{kind: cmdSubmit, job: &owned})
	if err != nil {
		return err
	}
	return reply.err
}

// Run submits a job and waits for its terminal result, up to the
// job's own timeout. A failed job returns both its result and
// ErrJobFailed; a wait that outlives the timeout returns ErrTimeout
// while the job keeps processing in the background.
func (p *Pipeline) Run(ctx context.Context, job *model.Job) (*model.Result, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if err := p.normalize(job); err != nil {
		return nil, err
	}

	id, timeout := job.ID, job.Timeout()

	ch := p.addWaiter(id)
	if err := p.Submit(ctx, job); err != nil {
		p.removeWaiter(id, ch)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return unwrapOutcome(out)
	case <-timer.C:
		p.removeWaiter(id, ch)
		return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, id, timeout)
	case <-ctx.Done():
		p.removeWaiter(id, ch)
		return nil, ctx.Err()
	}
}

// Await blocks until the identified job reaches a terminal state, or
// returns its recorded result immediately if it already has. Unknown
// jobs return ErrNotFound.
func (p *Pipeline) Await(ctx context.Context, id string) (*model.Result, error) {
	// Register before checking history so a job finishing between the
	// two steps cannot slip past both.
	ch := p.addWaiter(id)

	if rec, err := p.history.GetJob(ctx, id); err == nil {
		p.removeWaiter(id, ch)
		return recordResult(rec)
	}

	status, err := p.liveStatus(ctx, id)
	if err != nil {
		p.removeWaiter(id, ch)
		return nil, err
	}
	if status == model.StatusQueued || status == model.StatusProcessing {
		select {
		case out := <-ch:
			return unwrapOutcome(out)
		case <-ctx.Done():
			p.removeWaiter(id, ch)
			return nil, ctx.Err()
		}
	}

	// Neither live nor in history. The job may still have resolved
	// while we were checking, or its history write may be in flight.
	p.removeWaiter(id, ch)
	select {
	case out := <-ch:
		return unwrapOutcome(out)
	default:
	}
	if rec, err := p.history.GetJob(ctx, id); err == nil {
		return recordResult(rec)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Status reports where a job currently is: live state first, then
// recorded history. Unknown and cancelled jobs report StatusNotFound.
func (p *Pipeline) Status(ctx context.Context, id string) (model.Status, error) {
	status, err := p.liveStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if status != model.StatusNotFound {
		return status, nil
	}

	rec, err := p.history.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.StatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func (p *Pipeline) liveStatus(ctx context.Context, id string) (model.Status, error) {
	reply, err := p.send(ctx, command{kind: cmdStatus, jobID: id})
	if err != nil {
		return "", err
	}
	return reply.status, nil
}

// Cancel stops a job if it is still queued or processing and reports
// whether anything was cancelled. Cancelling a terminal or unknown job
// returns false with no side effect; repeated cancels are no-ops.
func (p *Pipeline) Cancel(ctx context.Context, id string) (bool, error) {
	reply, err := p.send(ctx, command{kind: cmdCancel, jobID: id})
	if err != nil {
		return false, err
	}
	return reply.cancelled, nil
}

// Stats returns a consistent snapshot of counters, queue and pool
// state, and process resource usage.
func (p *Pipeline) Stats(ctx context.Context) (model.StatsSnapshot, error) {
	reply, err := p.send(ctx, command{kind: cmdStats})
	if err != nil {
		return model.StatsSnapshot{}, err
	}
	return reply.stats, nil
}

// Subscribe registers a live event observer. The returned function
// unsubscribes; the channel closes when the pipeline stops.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	return p.broker.Subscribe()
}

// send delivers one command to the control loop and waits for its
// reply. Both legs give up when the caller's context or the pipeline
// itself is done.
func (p *Pipeline) send(ctx context.Context, cmd command) (cmdReply, error) {
	cmd.reply = make(chan cmdReply, 1)
	select {
	case p.commands <- cmd:
	case <-ctx.Done():
		return cmdReply{}, ctx.Err()
	case <-p.ctx.Done():
		return cmdReply{}, ErrStopped
	}
	select {
	case rep := <-cmd.reply:
		return rep, nil
	case <-ctx.Done():
		return cmdReply{}, ctx.Err()
	case <-p.ctx.Done():
		return cmdReply{}, ErrStopped
	}
}

// normalize fills a submitted job's blanks in place. The kind is
// deliberately not checked here: unknown kinds are admitted and fail
// terminally at dispatch, keeping admission and execution errors on
// separate paths.
func (p *Pipeline) normalize(job *model.Job) error {
	if job.ID == "" {
		job.ID = model.NewID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.TimeoutMS <= 0 {
		job.TimeoutMS = p.cfg.DefaultTimeout.Milliseconds()
	}
	if job.Retries < 0 {
		job.Retries = 0
	}
	if job.Priority < model.PriorityLow || job.Priority > model.PriorityCritical {
		return fmt.Errorf("invalid priority %d", int(job.Priority))
	}
	return nil
}

func (p *Pipeline) addWaiter(id string) waiter {
	ch := make(waiter, 1)
	p.mu.Lock()
	p.waiters[id] = append(p.waiters[id], ch)
	p.mu.Unlock()
	return ch
}

func (p *Pipeline) removeWaiter(id string, ch waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[id]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.waiters, id)
		return
	}
	p.waiters[id] = list
}

func (p *Pipeline) takeWaiters(id string) []waiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[id]
	delete(p.waiters, id)
	return list
}

func (p *Pipeline) resolve(id string, res *model.Result) {
	for _, ch := range p.takeWaiters(id) {
		ch <- waitOutcome{result: res}
	}
}

func (p *Pipeline) reject(id string, err error) {
	for _, ch := range p.takeWaiters(id) {
		ch <- waitOutcome{err: err}
	}
}

func (p *Pipeline) rejectAll(err error) {
	p.mu.Lock()
	all := p.waiters
	p.waiters = make(map[string][]waiter)
	p.mu.Unlock()

	for _, list := range all {
		for _, ch := range list {
			ch <- waitOutcome{err: err}
		}
	}
}

// unwrapOutcome converts a waiter outcome into the (result, error)
// shape the blocking calls return: failed jobs carry both.
func unwrapOutcome(out waitOutcome) (*model.Result, error) {
	if out.err != nil {
		return nil, out.err
	}
	if !out.result.Success {
		return out.result, fmt.Errorf("%w: %s", ErrJobFailed, out.result.Error)
	}
	return out.result, nil
}

// recordResult rebuilds the blocking-call return shape from a history
// record.
func recordResult(rec *model.JobRecord) (*model.Result, error) {
	res := &model.Result{
		JobID:    rec.ID,
		Success:  rec.Status == model.StatusCompleted,
		Output:   rec.Output,
		Error:    rec.Error,
		Attempts: rec.Attempts,
		Duration: time.Duration(rec.DurationMS) * time.Millisecond,
		Metrics: model.ResourceSnapshot{
			HeapBytes:  rec.HeapBytes,
			CPUSeconds: rec.CPUSeconds,
		},
	}
	if !res.Success {
		return res, fmt.Errorf("%w: %s", ErrJobFailed, rec.Error)
	}
	return res, nil
}
