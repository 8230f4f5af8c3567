package journal

import (
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/relay/event"
)

var day = time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

func donation(tx string, index uint, ts time.Time) event.Record {
	return event.Record{
		Timestamp:   ts,
		ChainID:     1,
		BlockNumber: 10,
		TxHash:      event.MustHexToHash(tx),
		LogIndex:    index,
		Contract:    "DonationRouter",
		Event:       event.KindDonated,
		Args:        event.DonationArgs{Amount: big.NewInt(150)},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(b), "\n"))
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestWriterAppend(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, WithClock(func() time.Time { return day }))
	require.NoError(t, err)

	require.NoError(t, w.Append(donation("0x01", 0, time.Time{})))
	require.NoError(t, w.Append(donation("0x01", 1, day.Add(2*time.Minute))))

	lines := readLines(t, filepath.Join(dir, "2026-03-01.DonationRouter.jsonl"))
	require.Len(t, lines, 1)
	var rec event.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.True(t, rec.Timestamp.Equal(day))

	next := readLines(t, filepath.Join(dir, "2026-03-02.DonationRouter.jsonl"))
	assert.Len(t, next, 1, "the timestamp picks the day file")
}

func TestWriterRejectsUnparsed(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	rec := donation("0x01", 0, day)
	rec.Event = event.KindUnparsed
	rec.Args = event.UnparsedArgs{}
	assert.Error(t, w.Append(rec))
}

func TestWriterAppendError(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, WithClock(func() time.Time { return day }))
	require.NoError(t, err)

	from, to := uint64(5), uint64(9)
	require.NoError(t, w.AppendError(RawError{Type: RPCError, Contract: "FlagRegistry", Error: "timeout", FromBlock: &from, ToBlock: &to}))
	require.NoError(t, w.AppendError(RawError{
		Type:     DecodeError,
		Contract: "FlagRegistry",
		Error:    "unknown event",
		Log:      NewRawLog(event.Log{BlockNumber: 7, Data: []byte{0xab}}),
	}))

	lines := readLines(t, filepath.Join(dir, "2026-03-01.FlagRegistry.error.jsonl"))
	require.Len(t, lines, 2)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "rpc_error", m["type"])
	assert.EqualValues(t, 5, m["fromBlock"])
	assert.NotContains(t, m, "log")

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &m))
	assert.Equal(t, "decode_error", m["type"])
	log := m["log"].(map[string]any)
	assert.Equal(t, "0xab", log["data"])
	assert.Equal(t, []any{}, log["topics"])
}

func TestTailer(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	older := day.Add(-24 * time.Hour)

	require.NoError(t, w.Append(donation("0x01", 0, older)))
	require.NoError(t, w.Append(donation("0x02", 0, day)))
	require.NoError(t, w.AppendError(RawError{Timestamp: day, Type: RPCError, Contract: "DonationRouter", Error: "x"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ErrorFile(day, "distributor")), []byte("{}\n"), 0o644))

	tl := NewTailer(dir)
	files, err := tl.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-01.DonationRouter.jsonl", "2026-02-28.DonationRouter.jsonl"}, files)

	var got []string
	collect := func(l Line) error {
		var rec event.Record
		require.NoError(t, json.Unmarshal(l.Data, &rec))
		got = append(got, rec.TxHash.Hex()[64:])
		return nil
	}
	require.NoError(t, tl.Poll(collect))
	assert.Equal(t, []string{"02", "01"}, got, "newest file first")

	got = nil
	require.NoError(t, tl.Poll(collect))
	assert.Empty(t, got, "offsets advance")

	require.NoError(t, w.Append(donation("0x03", 0, day)))
	require.NoError(t, tl.Poll(collect))
	assert.Equal(t, []string{"03"}, got)

	got = nil
	require.NoError(t, NewTailer(dir).Poll(collect))
	assert.Len(t, got, 3, "a fresh tailer re-reads everything")
}

func TestTailerPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-03-01.DonationRouter.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n{\"b\":"), 0o644))

	tl := NewTailer(dir)
	var got []string
	collect := func(l Line) error { got = append(got, string(l.Data)); return nil }

	require.NoError(t, tl.Poll(collect))
	assert.Equal(t, []string{`{"a":1}`}, got)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tl.Poll(collect))
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestTailerRedeliversOnError(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(donation("0x01", 0, day)))

	tl := NewTailer(dir)
	boom := errors.New("stop")
	require.ErrorIs(t, tl.Poll(func(Line) error { return boom }), boom)

	calls := 0
	require.NoError(t, tl.Poll(func(Line) error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestLinePosition(t *testing.T) {
	l := Line{File: "2026-03-01.DonationRouter.jsonl", Offset: 512}
	assert.Equal(t, "2026-03-01.DonationRouter.jsonl#512", l.Position())
	assert.NotEqual(t, l.Position(), Line{File: l.File, Offset: 0}.Position())
}

func TestTailerMissingDir(t *testing.T) {
	tl := NewTailer(filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, tl.Poll(func(Line) error { return nil }))
}

func TestFailureJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := NewFailureJournal(dir,
		WithClock(func() time.Time { return day }),
		WithIDGenerator(func() string { return "fixed-id" }),
	)
	require.NoError(t, err)

	f, err := j.Record(Failure{
		Type:     DistributionFailure,
		Event:    donation("0x01", 0, day),
		Rule:     "big-donors",
		Error:    "timeout",
		Attempts: Attempts(0),
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", f.ID)

	lines := readLines(t, filepath.Join(dir, "2026-03-01.distributor.error.jsonl"))
	require.Len(t, lines, 1)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "distribution_failure", m["type"])
	assert.EqualValues(t, 0, m["attempts"], "zero attempts is still recorded")
	assert.Equal(t, "Donated", m["event"].(map[string]any)["event"])
}

func TestFailureJournalDefaultID(t *testing.T) {
	j, err := NewFailureJournal(t.TempDir())
	require.NoError(t, err)
	a, err := j.Record(Failure{Type: GeneralError, Event: "not json", Error: "parse"})
	require.NoError(t, err)
	b, err := j.Record(Failure{Type: GeneralError, Event: "not json", Error: "parse"})
	require.NoError(t, err)
	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
}
