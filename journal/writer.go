package journal

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/internal/hex"
)

// ErrorType classifies a raw error entry.
type ErrorType string

// Raw error types.
const (
	DecodeError ErrorType = "decode_error"
	RPCError    ErrorType = "rpc_error"
)

// RawError is one line of a contract's error journal.
type RawError struct {
	Timestamp time.Time `json:"timestamp"`
	Type      ErrorType `json:"type"`
	Contract  string    `json:"contract"`
	Error     string    `json:"error"`
	FromBlock *uint64   `json:"fromBlock,omitempty"`
	ToBlock   *uint64   `json:"toBlock,omitempty"`
	Log       *RawLog   `json:"log,omitempty"`
}

// RawLog is the full, undecoded form of a log kept for inspection.
type RawLog struct {
	Address     event.Address `json:"address"`
	Topics      []event.Hash  `json:"topics"`
	Data        string        `json:"data"`
	BlockNumber uint64        `json:"blockNumber"`
	BlockHash   event.Hash    `json:"blockHash"`
	TxHash      event.Hash    `json:"transactionHash"`
	TxIndex     uint          `json:"transactionIndex"`
	LogIndex    uint          `json:"logIndex"`
	Removed     bool          `json:"removed"`
}

// NewRawLog captures l.
func NewRawLog(l event.Log) *RawLog {
	topics := l.Topics
	if topics == nil {
		topics = []event.Hash{}
	}
	return &RawLog{
		Address:     l.Address,
		Topics:      topics,
		Data:        hex.Encode(l.Data),
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		TxIndex:     l.TxIndex,
		LogIndex:    l.LogIndex,
		Removed:     l.Removed,
	}
}

// Writer appends records and raw errors to the journal directory.
type Writer struct {
	dir  string
	opts options
	mu   sync.Mutex
}

// NewWriter creates the directory if needed and returns a Writer for it.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Writer{dir: dir, opts: buildOptions(opts)}, nil
}

// Now returns the writer's clock reading. Records are stamped with it.
func (w *Writer) Now() time.Time {
	return w.opts.now().UTC()
}

// Append writes rec to the record file of its contract. A zero timestamp is
// replaced with the current time; the timestamp chooses the day file.
func (w *Writer) Append(rec event.Record) error {
	if rec.Args == nil || rec.Event == event.KindUnparsed {
		return fmt.Errorf("journal: refusing to append %s record %s", rec.Event, rec.Key())
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return appendLine(w.dir, RecordFile(rec.Timestamp, rec.Contract), rec)
}

// AppendError writes entry to the error file of its contract.
func (w *Writer) AppendError(entry RawError) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return appendLine(w.dir, ErrorFile(entry.Timestamp, entry.Contract), entry)
}
