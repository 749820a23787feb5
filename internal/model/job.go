package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the processing engine a job is dispatched to.
// The set is closed: dispatch switches over exactly these values and
// anything else fails terminally at execution time.
type Kind string

// Job kind constants.
const (
	KindParse    Kind = "parse"
	KindRender   Kind = "render"
	KindIndex    Kind = "index"
	KindGenerate Kind = "generate"
	KindConvert  Kind = "convert"
	KindValidate Kind = "validate"
)

// Kinds lists every recognized job kind in dispatch order.
func Kinds() []Kind {
	return []Kind{KindParse, KindRender, KindIndex, KindGenerate, KindConvert, KindValidate}
}

// ParseKind converts a wire string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindParse, KindRender, KindIndex, KindGenerate, KindConvert, KindValidate:
		return k, nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Priority orders jobs in the queue. Higher values are more urgent.
// The zero value is PriorityLow so an unset priority never jumps the line.
type Priority int

// Job priority levels, least to most urgent.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Rank returns the heap ordering key: 0 for critical up to 3 for low.
func (p Priority) Rank() int {
	return int(PriorityCritical - p)
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a wire string into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON encodes the priority as its wire string.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority from its wire string.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status describes where a job currently is in its lifecycle.
type Status string

// Job status constants.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNotFound   Status = "not-found"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a unit of document-processing work. While queued it is owned by
// the queue; while processing it is owned by exactly one execution
// context. Retries and Priority are rewritten by the retry path, so a
// Job must never be shared across contexts by pointer.
type Job struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  Priority        `json:"priority"`
	TimeoutMS int64           `json:"timeout_ms"`
	Retries   int             `json:"retries"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// Timeout returns the per-job deadline as a duration.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMS) * time.Millisecond
}

// NewJob builds a job with a fresh ID and creation timestamp.
func NewJob(kind Kind, payload json.RawMessage, priority Priority) *Job {
	return &Job{
		ID:        NewID(),
		Kind:      kind,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// JobRecord is the persisted form of a job that reached a terminal
// status, merged with its final result.
type JobRecord struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"type"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	DurationMS  int64           `json:"duration_ms"`
	HeapBytes   uint64          `json:"heap_bytes"`
	CPUSeconds  float64         `json:"cpu_seconds"`
	SubmittedAt time.Time       `json:"submitted_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}
