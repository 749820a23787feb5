package model

import "github.com/oklog/ulid/v2"

// NewID returns a fresh ULID string for use as a job identifier.
// ULIDs sort by creation time, which keeps history listings and log
// output chronological.
func NewID() string {
	return ulid.Make().String()
}
