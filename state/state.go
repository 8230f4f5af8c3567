// Package state holds the distributor's processed-key set and retry queue.
// Only a Store touches disk; State itself is a plain in-memory value.
package state

import (
	"sort"
	"time"

	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/retry"
	"github.com/hedeqiang/relay/rules"
)

// RetryItem is a distribution attempt waiting to be retried.
type RetryItem struct {
	Record      event.Record
	Rule        rules.Rule
	Err         string
	Attempts    int
	NextRetryAt time.Time

	seq uint64
}

// Option configures a State.
type Option func(*State)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithFlushEvery sets how many MarkProcessed calls make a flush due.
func WithFlushEvery(n int) Option {
	return func(s *State) { s.flushEvery = n }
}

// WithRetryDelay sets the delay before the first retry. Later retries
// double it.
func WithRetryDelay(initial time.Duration) Option {
	return func(s *State) { s.backoff = retry.Exponential(0, initial) }
}

// State is the processed set plus the retry queue. It is not safe for
// concurrent use; the worker owns it.
type State struct {
	processed map[string]struct{}
	unsaved   []string
	queue     []*RetryItem

	backoff    *retry.Backoff
	flushEvery int
	sinceFlush int
	seq        uint64
	now        func() time.Time
}

// New creates an empty State.
func New(opts ...Option) *State {
	s := &State{
		processed:  make(map[string]struct{}),
		backoff:    retry.Exponential(0, 2*time.Second),
		flushEvery: 10,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsProcessed reports whether rec was already handled.
func (s *State) IsProcessed(rec event.Record) bool {
	return s.IsProcessedKey(rec.Key())
}

// MarkProcessed records rec as handled and reports whether a flush is due.
func (s *State) MarkProcessed(rec event.Record) bool {
	return s.MarkProcessedKey(rec.Key())
}

// IsProcessedKey is IsProcessed for a raw key, such as the position of a
// journal line that holds no record.
func (s *State) IsProcessedKey(key string) bool {
	_, ok := s.processed[key]
	return ok
}

// MarkProcessedKey is MarkProcessed for a raw key.
func (s *State) MarkProcessedKey(key string) bool {
	if _, ok := s.processed[key]; !ok {
		s.processed[key] = struct{}{}
		s.unsaved = append(s.unsaved, key)
	}
	s.sinceFlush++
	return s.flushEvery > 0 && s.sinceFlush >= s.flushEvery
}

// ProcessedCount returns the size of the processed set.
func (s *State) ProcessedCount() int {
	return len(s.processed)
}

// AddToRetryQueue schedules rec for another attempt under rule. attempts
// is the number of retries already made; the item waits
// initial * 2^attempts.
func (s *State) AddToRetryQueue(rec event.Record, rule rules.Rule, err error, attempts int) *RetryItem {
	s.seq++
	item := &RetryItem{
		Record:      rec,
		Rule:        rule,
		Attempts:    attempts,
		NextRetryAt: s.now().Add(s.backoff.Delay(attempts)),
		seq:         s.seq,
	}
	if err != nil {
		item.Err = err.Error()
	}
	s.queue = append(s.queue, item)
	return item
}

// RetryableItems returns the items that are due, earliest first.
func (s *State) RetryableItems() []*RetryItem {
	now := s.now()
	var due []*RetryItem
	for _, item := range s.queue {
		if !item.NextRetryAt.After(now) {
			due = append(due, item)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	return due
}

// RemoveFromRetryQueue drops item from the queue.
func (s *State) RemoveFromRetryQueue(item *RetryItem) {
	for i, it := range s.queue {
		if it.seq == item.seq {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// QueueLen returns the number of queued retries.
func (s *State) QueueLen() int {
	return len(s.queue)
}

// keys returns the processed set in a stable order.
func (s *State) keys() []string {
	out := make([]string, 0, len(s.processed))
	for k := range s.processed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *State) restore(keys []string) {
	for _, k := range keys {
		s.processed[k] = struct{}{}
	}
}

func (s *State) saved() {
	s.unsaved = nil
	s.sinceFlush = 0
}
