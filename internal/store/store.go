package store

import (
	"context"
	"errors"

	"github.com/seantiz/docpipe/internal/model"
)

// ErrNotFound is returned when a job record is not found.
var ErrNotFound = errors.New("job record not found")

// Store defines the persistence operations for terminal job records.
// Only completed and failed jobs are recorded; queued, processing, and
// cancelled jobs never reach the store.
type Store interface {
	RecordTerminal(ctx context.Context, rec *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	Close() error
}
