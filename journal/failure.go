package journal

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FailureType classifies a failure journal entry.
type FailureType string

// Failure types.
const (
	DistributionFailure FailureType = "distribution_failure"
	RuleEvaluationError FailureType = "rule_evaluation_error"
	TransactionError    FailureType = "transaction_error"
	GeneralError        FailureType = "general_error"
)

const failureSource = "distributor"

// Failure is one line of the distributor failure journal.
type Failure struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      FailureType `json:"type"`
	Event     any         `json:"event"`
	Rule      string      `json:"rule,omitempty"`
	Error     string      `json:"error"`
	Attempts  *int        `json:"attempts,omitempty"`
}

// FailureJournal appends to {date}.distributor.error.jsonl.
type FailureJournal struct {
	dir  string
	opts options
	mu   sync.Mutex
}

// NewFailureJournal creates the directory if needed.
func NewFailureJournal(dir string, opts ...Option) (*FailureJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &FailureJournal{dir: dir, opts: buildOptions(opts)}, nil
}

// Attempts is a helper for the optional attempts field.
func Attempts(n int) *int {
	return &n
}

// Record assigns an id and timestamp to f and appends it.
func (j *FailureJournal) Record(f Failure) (Failure, error) {
	if f.ID == "" {
		f.ID = j.opts.newID()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = j.opts.now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := appendLine(j.dir, ErrorFile(f.Timestamp, failureSource), f); err != nil {
		return f, err
	}
	return f, nil
}
