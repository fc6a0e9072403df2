package coordlock

import (
	"errors"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AcquireResult tells the caller what to do next. Acquired and Reclaimed
// mean "go ahead"; the other two mean "skip all side effects".
type AcquireResult string

const (
	Acquired          AcquireResult = "acquired"
	AlreadyProcessing AcquireResult = "already_processing"
	AlreadyCompleted  AcquireResult = "already_completed"
	Reclaimed         AcquireResult = "reclaimed"
)

var (
	ErrorNotFound      = errors.New("coordination record not found")
	ErrorNotProcessing = errors.New("coordination record is not in processing state")
	ErrorBadOutcome    = errors.New("outcome must be completed or failed")
)

// Record is one row of the shared mutual-exclusion table. Rows are never
// deleted; a terminal row doubles as the dedup history for its tx id.
type Record struct {
	TxID        string
	TxType      string
	Worker      string
	Status      Status
	StartedAt   time.Time
	CompletedAt time.Time // zero until terminal
}

type Config struct {
	// StaleAfter is how long a processing row may sit before another
	// worker may reclaim it. Must exceed the worst-case duration of a
	// legitimate attempt, external-collaborator latency included.
	StaleAfter time.Duration
}
