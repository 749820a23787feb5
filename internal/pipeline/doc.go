// Package pipeline implements the in-process document job pipeline: a
// priority queue drained by a fixed pool of execution contexts, a
// control loop that owns all mutable pipeline state, automatic retries
// with priority escalation, rolling throughput metrics, and an event
// stream for observers.
//
// Concurrency model: the control loop goroutine owns the queue, the
// active-job set, the worker pool, and the counters, so none of them
// take locks. Execution contexts are worker goroutines that exchange
// typed request and response envelopes with the control loop over
// channels and share no state with it. Pipeline is the caller-facing
// boundary; it correlates asynchronous terminal results back to
// waiting callers by job ID and enforces per-job timeouts on the
// caller's side of the channel.
package pipeline
