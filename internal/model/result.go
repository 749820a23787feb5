package model

import (
	"encoding/json"
	"time"
)

// Result is the outcome of a finished job attempt.
type Result struct {
	JobID    string           `json:"job_id"`
	Success  bool             `json:"success"`
	Output   json.RawMessage  `json:"output,omitempty"`
	Error    string           `json:"error,omitempty"`
	Attempts int              `json:"attempts"`
	Duration time.Duration    `json:"-"`
	Metrics  ResourceSnapshot `json:"metrics"`
}

// ResourceSnapshot is a point-in-time view of process resource usage,
// captured when an attempt finishes and on the periodic metrics tick.
type ResourceSnapshot struct {
	HeapBytes  uint64  `json:"heap_bytes"`
	CPUSeconds float64 `json:"cpu_seconds"`
	Goroutines int     `json:"goroutines"`
}

// WorkerState describes one execution context as seen by the control loop.
type WorkerState struct {
	ID    int    `json:"id"`
	Busy  bool   `json:"busy"`
	JobID string `json:"job_id,omitempty"`
}

// StatsSnapshot is the aggregate pipeline view returned by the stats
// endpoint and published on the metrics tick.
type StatsSnapshot struct {
	TotalJobs               int64            `json:"total_jobs"`
	SuccessfulJobs          int64            `json:"successful_jobs"`
	FailedJobs              int64            `json:"failed_jobs"`
	AverageProcessingTimeMS float64          `json:"average_processing_time_ms"`
	QueueLength             int              `json:"queue_length"`
	ActiveJobs              int              `json:"active_jobs"`
	AvailableSlots          int              `json:"available_slots"`
	Workers                 []WorkerState    `json:"workers,omitempty"`
	Resources               ResourceSnapshot `json:"resources"`
}
