package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

	"github.com/hedeqiang/relay/chain"
	"github.com/hedeqiang/relay/chain/ethereum"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/journal"
	"github.com/hedeqiang/relay/rules"
	"github.com/hedeqiang/relay/state"
)

var (
	payer = event.MustHexToAddress("0x742d35cc6634c0532925a3b844bc9e7595f0beb7")
	owner = event.MustHexToAddress("0x2222222222222222222222222222222222222222")
	sku   = event.MustHexToHash("0x05")
)

// fakeChain is a reward contract that refuses a trigger id it has
// already minted, at simulation time.
type fakeChain struct {
	minted    map[event.Hash]chain.MintRequest
	pending   map[event.Hash]chain.MintRequest
	simulated int
	submitted int

	simErr    error
	submitErr error
	waitErr   error
	status    uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		minted:  make(map[event.Hash]chain.MintRequest),
		pending: make(map[event.Hash]chain.MintRequest),
		status:  1,
	}
}

func (f *fakeChain) SimulateMint(_ context.Context, req chain.MintRequest) error {
	f.simulated++
	if f.simErr != nil {
		return f.simErr
	}
	if _, ok := f.minted[req.TriggerID]; ok {
		return fmt.Errorf("%w: trigger already used", ethereum.ErrReverted)
	}
	return nil
}

func (f *fakeChain) SubmitMint(_ context.Context, req chain.MintRequest) (event.Hash, error) {
	f.submitted++
	if f.submitErr != nil {
		return event.Hash{}, f.submitErr
	}
	var hash event.Hash
	copy(hash[:], req.TriggerID[:])
	hash[0] ^= 0xff
	f.pending[hash] = req
	return hash, nil
}

func (f *fakeChain) WaitMined(_ context.Context, txHash event.Hash) (*chain.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	req := f.pending[txHash]
	if f.status == 1 {
		f.minted[req.TriggerID] = req
	}
	return &chain.Receipt{TxHash: txHash, BlockNumber: 500, Status: f.status}, nil
}

type fakeOwners struct {
	owner event.Address
	asked []*big.Int
}

func (f *fakeOwners) OwnerOf(_ context.Context, tokenID *big.Int) (event.Address, error) {
	f.asked = append(f.asked, tokenID)
	return f.owner, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	t        *testing.T
	logDir   string
	stateDir string
	clock    *clock
	chain    *fakeChain
	owners   rules.OwnerLookup
	writer   *journal.Writer
	cfg      Config
	flush    int
	reg      *prometheus.Registry
}

func newEnv(t *testing.T) *env {
	dir := t.TempDir()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	w, err := journal.NewWriter(filepath.Join(dir, "logs"), journal.WithClock(c.now))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.BreakerThreshold = 0
	return &env{
		t:        t,
		logDir:   filepath.Join(dir, "logs"),
		stateDir: filepath.Join(dir, "state"),
		clock:    c,
		chain:    newFakeChain(),
		writer:   w,
		cfg:      cfg,
		flush:    10,
	}
}

// worker builds a fresh worker, as a restarted process would.
func (e *env) worker(doc string) *Worker {
	t := e.t
	set, err := rules.Parse([]byte(doc))
	require.NoError(t, err)
	require.Empty(t, set.Skipped)
	engine, err := rules.NewEngine(set.Rules)
	require.NoError(t, err)

	failures, err := journal.NewFailureJournal(e.logDir, journal.WithClock(e.clock.now))
	require.NoError(t, err)

	st := state.New(
		state.WithClock(e.clock.now),
		state.WithFlushEvery(e.flush),
		state.WithRetryDelay(time.Second),
	)

	e.reg = prometheus.NewRegistry()
	w, err := New(e.cfg, Deps{
		Tailer:   journal.NewTailer(e.logDir),
		Engine:   engine,
		Resolver: rules.NewResolver(e.owners),
		Minter:   e.chain,
		State:    st,
		Store:    state.NewFileStore(e.stateDir),
		Failures: failures,
	}, WithRegisterer(e.reg), WithClock(e.clock.now))
	require.NoError(t, err)
	require.NoError(t, w.Load(context.Background()))
	return w
}

func (e *env) append(rec event.Record) {
	require.NoError(e.t, e.writer.Append(rec))
}

type failureLine struct {
	Type     journal.FailureType `json:"type"`
	Rule     string              `json:"rule"`
	Error    string              `json:"error"`
	Attempts *int                `json:"attempts"`
}

func (e *env) failures() []failureLine {
	b, err := os.ReadFile(filepath.Join(e.logDir, journal.ErrorFile(e.clock.now(), "distributor")))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(e.t, err)

	var out []failureLine
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		var f failureLine
		require.NoError(e.t, json.Unmarshal([]byte(line), &f))
		out = append(out, f)
	}
	return out
}

func donation(tx string, amount int64) event.Record {
	return event.Record{
		ChainID:     8453,
		BlockNumber: 100,
		TxHash:      event.MustHexToHash(tx),
		LogIndex:    3,
		Contract:    "DonationRouter",
		Event:       event.KindDonated,
		Args: event.DonationArgs{
			Payer:  payer,
			Amount: big.NewInt(amount),
			SKU:    sku,
		},
	}
}

func flagChanged(tokenID int64) event.Record {
	return event.Record{
		ChainID:     8453,
		BlockNumber: 101,
		TxHash:      event.MustHexToHash("0xf1a9"),
		LogIndex:    uint(tokenID),
		Contract:    "FlagRegistry",
		Event:       event.KindFlagChanged,
		Args: event.FlagChangedArgs{
			TokenID: big.NewInt(tokenID),
			Bit:     0,
			Value:   true,
		},
	}
}

const donorRules = `[{"name":"donor","trigger":"Donated","match":{"minAmount":"100"},"action":{"type":"rewardMint","metadata":"ipfs://donor"}}]`

const flagRules = `[{"name":"flag","trigger":"FlagChanged","match":{"tokenId":"42","bit":0,"value":true},"action":{"type":"rewardMint"}}]`

func TestDirectRecipient(t *testing.T) {
	e := newEnv(t)
	rec := donation("0xd1", 150)
	e.append(rec)
	e.append(donation("0xd2", 99))

	w := e.worker(donorRules)
	require.NoError(t, w.Tick(context.Background()))

	require.Len(t, e.chain.minted, 1)
	trigger := event.TriggerID(event.TriggerHash, rec.TxHash, rec.LogIndex)
	req, ok := e.chain.minted[trigger]
	require.True(t, ok)
	assert.Equal(t, payer, req.To)
	assert.Equal(t, sku, req.SKU)
	assert.Equal(t, "ipfs://donor", req.Metadata)

	assert.True(t, w.State.IsProcessed(rec))
	assert.True(t, w.State.IsProcessed(donation("0xd2", 99)), "unmatched lines are marked too")
	assert.Empty(t, e.failures())
	assert.Equal(t, 1.0, testutil.ToFloat64(w.metrics.mints.WithLabelValues("confirmed")))
}

func TestIndirectRecipient(t *testing.T) {
	e := newEnv(t)
	owners := &fakeOwners{owner: owner}
	e.owners = owners
	e.append(flagChanged(42))
	e.append(flagChanged(7))

	w := e.worker(flagRules)
	require.NoError(t, w.Tick(context.Background()))

	require.Len(t, e.chain.minted, 1)
	for _, req := range e.chain.minted {
		assert.Equal(t, owner, req.To)
		assert.True(t, req.SKU.IsZero())
	}
	require.Len(t, owners.asked, 1)
	assert.Equal(t, int64(42), owners.asked[0].Int64())
}

func TestUnresolvableRecipient(t *testing.T) {
	e := newEnv(t)
	e.append(flagChanged(42))

	w := e.worker(flagRules)
	require.NoError(t, w.Tick(context.Background()))

	assert.Zero(t, e.chain.simulated)
	fails := e.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, journal.DistributionFailure, fails[0].Type)
	assert.Equal(t, 0, *fails[0].Attempts)
	assert.Zero(t, w.State.QueueLen())
}

func TestPermanentSimulateRevert(t *testing.T) {
	e := newEnv(t)
	e.chain.simErr = fmt.Errorf("%w: sku disabled", ethereum.ErrReverted)
	e.append(donation("0xd1", 150))

	w := e.worker(donorRules)
	ctx := context.Background()
	require.NoError(t, w.Tick(ctx))
	e.clock.advance(time.Hour)
	require.NoError(t, w.Tick(ctx))

	assert.Equal(t, 1, e.chain.simulated)
	assert.Zero(t, e.chain.submitted)
	assert.Zero(t, w.State.QueueLen())

	fails := e.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, journal.DistributionFailure, fails[0].Type)
	assert.Equal(t, "donor", fails[0].Rule)
	require.NotNil(t, fails[0].Attempts)
	assert.Equal(t, 0, *fails[0].Attempts)
}

func TestOnChainRevertIsTransactionError(t *testing.T) {
	e := newEnv(t)
	e.chain.status = 0
	e.append(donation("0xd1", 150))

	w := e.worker(donorRules)
	require.NoError(t, w.Tick(context.Background()))

	assert.Empty(t, e.chain.minted)
	fails := e.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, journal.TransactionError, fails[0].Type)
	assert.Zero(t, w.State.QueueLen())
}

func TestRetryUntilExhausted(t *testing.T) {
	e := newEnv(t)
	e.cfg.MaxAttempts = 3
	e.chain.submitErr = errors.New("connection reset by peer")
	e.append(donation("0xd1", 150))

	w := e.worker(donorRules)
	ctx := context.Background()
	require.NoError(t, w.Tick(ctx))
	require.Equal(t, 1, w.State.QueueLen())

	for k, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		e.clock.advance(wait - time.Millisecond)
		require.NoError(t, w.Tick(ctx))
		assert.Equal(t, 1+k, e.chain.submitted, "not due yet")

		e.clock.advance(time.Millisecond)
		require.NoError(t, w.Tick(ctx))
		assert.Equal(t, 2+k, e.chain.submitted)
	}

	assert.Zero(t, w.State.QueueLen())
	fails := e.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, journal.DistributionFailure, fails[0].Type)
	assert.Equal(t, 3, *fails[0].Attempts)
	assert.Contains(t, fails[0].Error, "connection reset")

	e.clock.advance(time.Hour)
	require.NoError(t, w.Tick(ctx))
	assert.Len(t, e.failures(), 1)
	assert.Equal(t, 4, e.chain.submitted)
}

func TestRetrySucceeds(t *testing.T) {
	e := newEnv(t)
	e.chain.waitErr = context.DeadlineExceeded
	e.append(donation("0xd1", 150))

	w := e.worker(donorRules)
	ctx := context.Background()
	require.NoError(t, w.Tick(ctx))
	require.Equal(t, 1, w.State.QueueLen())

	e.chain.waitErr = nil
	e.clock.advance(time.Second)
	require.NoError(t, w.Tick(ctx))

	assert.Zero(t, w.State.QueueLen())
	assert.Len(t, e.chain.minted, 1)
	assert.Empty(t, e.failures())
}

func TestBreakerPostponesRetries(t *testing.T) {
	e := newEnv(t)
	e.cfg.BreakerThreshold = 1
	e.cfg.BreakerReset = time.Minute
	e.chain.submitErr = errors.New("503 service unavailable")
	e.append(donation("0xd1", 150))

	w := e.worker(donorRules)
	ctx := context.Background()
	require.NoError(t, w.Tick(ctx))

	e.clock.advance(time.Second)
	require.NoError(t, w.Tick(ctx))
	assert.Equal(t, 1, e.chain.submitted, "breaker is open")
	assert.Equal(t, 1, w.State.QueueLen())

	e.chain.submitErr = nil
	e.clock.advance(time.Minute)
	require.NoError(t, w.Tick(ctx))
	assert.Equal(t, 2, e.chain.submitted)
	assert.Len(t, e.chain.minted, 1)
}

func TestIdempotentReprocessing(t *testing.T) {
	e := newEnv(t)
	e.append(donation("0xd1", 150))
	ctx := context.Background()

	w := e.worker(donorRules)
	require.NoError(t, w.Tick(ctx))
	require.NoError(t, w.Tick(ctx))
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, 1, e.chain.simulated, "a line is read once per process")

	// Same journal, restored state: the line is skipped.
	require.NoError(t, e.worker(donorRules).Tick(ctx))
	assert.Equal(t, 1, e.chain.simulated)

	// State lost: the line is re-evaluated but the contract refuses the
	// repeated trigger id.
	require.NoError(t, os.RemoveAll(e.stateDir))
	require.NoError(t, e.worker(donorRules).Tick(ctx))
	assert.Equal(t, 2, e.chain.simulated)
	assert.Equal(t, 1, e.chain.submitted)
	assert.Len(t, e.chain.minted, 1)
}

func TestCrashRecovery(t *testing.T) {
	e := newEnv(t)
	e.flush = 1
	ctx := context.Background()

	e.append(donation("0xd1", 150))
	require.NoError(t, e.worker(donorRules).Tick(ctx))

	// The second line is processed but the process dies before the
	// state is flushed.
	e.flush = 10
	e.append(donation("0xd2", 150))
	require.NoError(t, e.worker(donorRules).Tick(ctx))
	require.Len(t, e.chain.minted, 2)

	e.append(donation("0xd3", 150))
	w := e.worker(donorRules)
	require.NoError(t, w.Tick(ctx))

	assert.Len(t, e.chain.minted, 3, "no duplicate mints")
	assert.Equal(t, 3, e.chain.submitted)
	// d1 is skipped; d2 is simulated again and refused.
	assert.Equal(t, 4, e.chain.simulated)
	fails := e.failures()
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].Error, "trigger already used")
}

func TestJournalErrors(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(e.logDir, 0o755))
	bad := filepath.Join(e.logDir, journal.RecordFile(e.clock.now(), "DonationRouter"))
	require.NoError(t, os.WriteFile(bad, []byte("{not json\n"), 0o644))
	e.append(donation("0xd1", 150))

	doc := `[
	  {"name":"broken","trigger":"Donated","where":"int(args.payer) > 0","action":{"type":"rewardMint"}},
	  {"name":"donor","trigger":"Donated","action":{"type":"rewardMint"}}
	]`
	w := e.worker(doc)
	require.NoError(t, w.Tick(context.Background()))

	fails := e.failures()
	require.Len(t, fails, 2)
	assert.Equal(t, journal.GeneralError, fails[0].Type)
	assert.Equal(t, journal.RuleEvaluationError, fails[1].Type)
	assert.Equal(t, "broken", fails[1].Rule)
	assert.Len(t, e.chain.minted, 1, "the other rule still fires")
	assert.Equal(t, 1.0, testutil.ToFloat64(w.metrics.lines.WithLabelValues("invalid")))
}

func TestBadLineReportedOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(e.logDir, 0o755))
	bad := filepath.Join(e.logDir, journal.RecordFile(e.clock.now(), "DonationRouter"))
	require.NoError(t, os.WriteFile(bad, []byte("{not json\n"), 0o644))

	w := e.worker(donorRules)
	require.NoError(t, w.Tick(ctx))
	require.NoError(t, w.Flush(ctx))
	require.Len(t, e.failures(), 1)

	// A restarted worker reads the file from the start again.
	w = e.worker(donorRules)
	require.NoError(t, w.Tick(ctx))
	assert.Len(t, e.failures(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(w.metrics.lines.WithLabelValues("skipped")))
}

func TestTestModeFlushes(t *testing.T) {
	e := newEnv(t)
	e.append(donation("0xd1", 150))

	w := e.worker(donorRules)
	ctx := context.Background()
	require.NoError(t, w.Tick(ctx))
	require.NoError(t, w.Flush(ctx))

	restored := state.New()
	require.NoError(t, state.NewFileStore(e.stateDir).Load(ctx, restored))
	assert.True(t, restored.IsProcessed(donation("0xd1", 150)))
}

func TestRunStopsAndSaves(t *testing.T) {
	e := newEnv(t)
	e.cfg.PollInterval = 10 * time.Millisecond
	e.append(donation("0xd1", 150))

	w := e.worker(donorRules)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	restored := state.New()
	require.NoError(t, state.NewFileStore(e.stateDir).Load(context.Background(), restored))
	assert.True(t, restored.IsProcessed(donation("0xd1", 150)))
}
