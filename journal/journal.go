// Package journal implements the append-only, line-delimited JSON files
// shared by the indexer and the distributor.
//
// Layout inside the journal directory:
//
//	{date}.{contract}.jsonl              decoded records
//	{date}.{contract}.error.jsonl        decode and RPC errors
//	{date}.distributor.error.jsonl       distribution failures
//
// date is the UTC day in 2006-01-02 form. Files are only ever appended to.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout   = "2006-01-02"
	recordSuffix = ".jsonl"
	errorSuffix  = ".error.jsonl"
)

// Option configures a Writer or a FailureJournal.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIDGenerator replaces the failure id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RecordFile returns the record file name for contract on the day of t.
func RecordFile(t time.Time, contract string) string {
	return t.UTC().Format(dateLayout) + "." + contract + recordSuffix
}

// ErrorFile returns the error file name for contract on the day of t.
func ErrorFile(t time.Time, contract string) string {
	return t.UTC().Format(dateLayout) + "." + contract + errorSuffix
}

// IsRecordFile reports whether name holds decoded records.
func IsRecordFile(name string) bool {
	return strings.HasSuffix(name, recordSuffix) && !strings.HasSuffix(name, errorSuffix)
}

// appendLine writes v as one JSON line with a single write call on an
// O_APPEND descriptor, so concurrent readers never see a torn line.
func appendLine(dir, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", name, err)
	}
	b = append(b, '\n')

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", name, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("journal: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close %s: %w", name, err)
	}
	return nil
}
