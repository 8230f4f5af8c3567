package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/relay/decoder"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/filter"
	abiutil "github.com/hedeqiang/relay/internal/abi"
	"github.com/hedeqiang/relay/journal"
	"github.com/hedeqiang/relay/watcher"
)

var (
	routerAddr = event.MustHexToAddress("0x00000000000000000000000000000000000000aa")
	flagsAddr  = event.MustHexToAddress("0x00000000000000000000000000000000000000bb")
	payer      = event.MustHexToAddress("0x742d35cc6634c0532925a3b844bc9e7595f0beb7")
	now        = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeChain struct {
	logs    map[event.Address][]event.Log
	failFor map[event.Address]error
	queries []filter.Query
}

func (f *fakeChain) ID() string { return "test" }
func (f *fakeChain) ChainID(context.Context) (uint64, error) { return 8453, nil }
func (f *fakeChain) LatestBlock(context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) FetchLogs(_ context.Context, q filter.Query) ([]event.Log, error) {
	f.queries = append(f.queries, q)
	addr := q.Addresses[0]
	if err := f.failFor[addr]; err != nil {
		return nil, err
	}
	var out []event.Log
	for _, l := range f.logs[addr] {
		if l.BlockNumber >= *q.FromBlock && l.BlockNumber <= *q.ToBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func word(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func donated(block uint64, tx string, index uint, amount int64) event.Log {
	var payerTopic, tokenTopic event.Hash
	copy(payerTopic[12:], payer[:])
	sku := event.MustHexToHash("0x07")
	data := append(word(big.NewInt(amount).Bytes()), sku[:]...)
	data = append(data, make([]byte, 32)...)
	return event.Log{
		Address:     routerAddr,
		Topics:      []event.Hash{abiutil.EventSignatureHash("Donated(address,address,uint256,bytes32,bytes32)"), payerTopic, tokenTopic},
		Data:        data,
		BlockNumber: block,
		TxHash:      event.MustHexToHash(tx),
		LogIndex:    index,
	}
}

func contracts(t *testing.T) []Contract {
	t.Helper()
	router, err := decoder.TableFor(decoder.DonationRouter)
	require.NoError(t, err)
	flags, err := decoder.TableFor(decoder.FlagRegistry)
	require.NoError(t, err)
	return []Contract{{Address: routerAddr, Table: router}, {Address: flagsAddr, Table: flags}}
}

func newIndexer(t *testing.T, c *fakeChain) (*Indexer, string, *prometheus.Registry) {
	t.Helper()
	dir := t.TempDir()
	w, err := journal.NewWriter(dir, journal.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	ix, err := New(context.Background(), c, w, contracts(t), WithRegisterer(reg), WithConfirmations(5))
	require.NoError(t, err)
	return ix, dir, reg
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestHandleRangeJournalsRecords(t *testing.T) {
	c := &fakeChain{logs: map[event.Address][]event.Log{
		routerAddr: {donated(100, "0x01", 0, 150), donated(101, "0x02", 4, 99)},
	}}
	ix, dir, reg := newIndexer(t, c)
	assert.Equal(t, uint64(8453), ix.ChainID())

	require.NoError(t, ix.HandleRange(context.Background(), watcher.Range{From: 100, To: 110}, 120))

	got := lines(t, filepath.Join(dir, "2026-03-01.DonationRouter.jsonl"))
	require.Len(t, got, 2)

	var rec event.Record
	require.NoError(t, json.Unmarshal([]byte(got[0]), &rec))
	assert.Equal(t, uint64(8453), rec.ChainID)
	assert.Equal(t, "DonationRouter", rec.Contract)
	assert.Equal(t, event.KindDonated, rec.Event)
	args := rec.Args.(event.DonationArgs)
	assert.Equal(t, payer, args.Payer)
	assert.Equal(t, int64(150), args.Amount.Int64())
	assert.True(t, rec.Timestamp.Equal(now))

	assert.Len(t, c.queries, 2, "one eth_getLogs per contract")
	assert.Equal(t, 110.0, testutil.ToFloat64(ix.metrics.watermark))
	n, err := testutil.GatherAndCount(reg, "relay_indexer_logs_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestHandleRangeDeduplicates(t *testing.T) {
	c := &fakeChain{logs: map[event.Address][]event.Log{routerAddr: {donated(100, "0x01", 0, 150)}}}
	ix, dir, _ := newIndexer(t, c)

	r := watcher.Range{From: 100, To: 100}
	require.NoError(t, ix.HandleRange(context.Background(), r, 120))
	require.NoError(t, ix.HandleRange(context.Background(), r, 121))

	assert.Len(t, lines(t, filepath.Join(dir, "2026-03-01.DonationRouter.jsonl")), 1)
}

func TestHandleRangeWithholdsUnconfirmed(t *testing.T) {
	removed := donated(100, "0x03", 0, 1)
	removed.Removed = true
	c := &fakeChain{logs: map[event.Address][]event.Log{
		routerAddr: {donated(100, "0x01", 0, 1), donated(116, "0x02", 0, 1), removed},
	}}
	ix, dir, _ := newIndexer(t, c)

	require.NoError(t, ix.HandleRange(context.Background(), watcher.Range{From: 100, To: 120}, 120))
	assert.Len(t, lines(t, filepath.Join(dir, "2026-03-01.DonationRouter.jsonl")), 1)
}

func TestHandleRangeDecodeError(t *testing.T) {
	bad := donated(100, "0x01", 0, 1)
	bad.Topics[0] = event.MustHexToHash("0xdead")
	c := &fakeChain{logs: map[event.Address][]event.Log{routerAddr: {bad, donated(100, "0x01", 1, 5)}}}
	ix, dir, _ := newIndexer(t, c)

	require.NoError(t, ix.HandleRange(context.Background(), watcher.Range{From: 100, To: 100}, 120))

	assert.Len(t, lines(t, filepath.Join(dir, "2026-03-01.DonationRouter.jsonl")), 1, "decoding continues after a bad log")
	errs := lines(t, filepath.Join(dir, "2026-03-01.DonationRouter.error.jsonl"))
	require.Len(t, errs, 1)

	var entry journal.RawError
	require.NoError(t, json.Unmarshal([]byte(errs[0]), &entry))
	assert.Equal(t, journal.DecodeError, entry.Type)
	require.NotNil(t, entry.Log)
	assert.Equal(t, bad.Topics, entry.Log.Topics)
}

func TestHandleRangeRPCError(t *testing.T) {
	c := &fakeChain{
		logs:    map[event.Address][]event.Log{routerAddr: {donated(100, "0x01", 0, 1)}},
		failFor: map[event.Address]error{flagsAddr: errors.New("429 too many requests")},
	}
	ix, dir, _ := newIndexer(t, c)

	err := ix.HandleRange(context.Background(), watcher.Range{From: 100, To: 105}, 120)
	require.Error(t, err)

	errs := lines(t, filepath.Join(dir, "2026-03-01.FlagRegistry.error.jsonl"))
	require.Len(t, errs, 1)
	var entry journal.RawError
	require.NoError(t, json.Unmarshal([]byte(errs[0]), &entry))
	assert.Equal(t, journal.RPCError, entry.Type)
	assert.Equal(t, uint64(100), *entry.FromBlock)
	assert.Equal(t, uint64(105), *entry.ToBlock)
	assert.Equal(t, 1.0, testutil.ToFloat64(ix.metrics.rpcErrors.WithLabelValues("FlagRegistry")))
	assert.Zero(t, testutil.ToFloat64(ix.metrics.watermark), "watermark does not move")

	delete(c.failFor, flagsAddr)
	require.NoError(t, ix.HandleRange(context.Background(), watcher.Range{From: 100, To: 105}, 120))
	assert.Len(t, lines(t, filepath.Join(dir, "2026-03-01.DonationRouter.jsonl")), 1, "retry does not duplicate")
}

func TestHandleRangeDropsOutOfScopeLogs(t *testing.T) {
	stray := donated(100, "0x09", 0, 1)
	stray.Address = flagsAddr
	c := &fakeChain{logs: map[event.Address][]event.Log{routerAddr: {stray}}}
	ix, dir, _ := newIndexer(t, c)

	require.NoError(t, ix.HandleRange(context.Background(), watcher.Range{From: 100, To: 100}, 120))
	assert.Empty(t, lines(t, filepath.Join(dir, "2026-03-01.DonationRouter.jsonl")))
}

func TestNewRequiresContracts(t *testing.T) {
	w, err := journal.NewWriter(t.TempDir())
	require.NoError(t, err)
	_, err = New(context.Background(), &fakeChain{}, w, nil)
	assert.Error(t, err)
}
