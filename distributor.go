package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/chain/ethereum"
	"github.com/hedeqiang/relay/config"
	"github.com/hedeqiang/relay/distributor"
	"github.com/hedeqiang/relay/journal"
	"github.com/hedeqiang/relay/rules"
	"github.com/hedeqiang/relay/state"
)

// Distributor is a configured distributor process.
type Distributor struct {
	worker *distributor.Worker
	client *ethereum.Client
	store  state.Store
	logger zerolog.Logger
}

// NewDistributor loads the rule file, opens the state store and restores
// the processed set. Invalid rules are logged and skipped.
func NewDistributor(ctx context.Context, cfg *config.Distributor, opts ...Option) (*Distributor, error) {
	o := buildOptions(opts)
	logger := o.logger

	set, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	for _, skipped := range set.Skipped {
		logger.Warn().Err(skipped.Err).
			Int("index", skipped.Index).
			Str("rule", skipped.Name).
			Msg("rule skipped")
	}
	engine, err := rules.NewEngine(set.Rules)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("rules", len(set.Rules)).Str("path", cfg.RulesPath).Msg("rules loaded")

	client := ethereum.New(o.dial(cfg.Common))
	d := &Distributor{client: client, logger: logger}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	chainID, err := client.ChainID(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("relay: chain id: %w", err)
	}

	var mopts []ethereum.MinterOption
	if cfg.GasLimit > 0 {
		mopts = append(mopts, ethereum.WithGasLimit(cfg.GasLimit))
	}
	minter, err := ethereum.NewRewardMinter(client, cfg.RewardContract, cfg.SignerKey, chainID, mopts...)
	if err != nil {
		return nil, err
	}

	// A nil *Ownership stored in the interface would not compare equal to nil.
	var owners rules.OwnerLookup
	if cfg.OwnershipContract != nil {
		own, err := ethereum.NewOwnership(client, *cfg.OwnershipContract)
		if err != nil {
			return nil, err
		}
		owners = own
	}

	failures, err := journal.NewFailureJournal(cfg.LogDir, journal.WithClock(o.now))
	if err != nil {
		return nil, err
	}

	d.store, err = state.Open(cfg.StateBackend, cfg.StateDir)
	if err != nil {
		return nil, err
	}
	st := state.New(
		state.WithClock(o.now),
		state.WithFlushEvery(cfg.StateFlushEvery),
		state.WithRetryDelay(cfg.RetryInitialDelay),
	)

	wcfg := distributor.Config{
		TriggerMode:      cfg.TriggerMode,
		MaxAttempts:      cfg.RetryMaxAttempts,
		PollInterval:     cfg.PollInterval,
		CallTimeout:      cfg.RPCTimeout,
		ReceiptTimeout:   cfg.ReceiptTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerReset:     cfg.BreakerReset,
	}
	deps := distributor.Deps{
		Tailer:   journal.NewTailer(cfg.LogDir),
		Engine:   engine,
		Resolver: rules.NewResolver(owners),
		Minter:   minter,
		State:    st,
		Store:    d.store,
		Failures: failures,
	}
	d.worker, err = distributor.New(wcfg, deps,
		distributor.WithLogger(logger),
		distributor.WithRegisterer(o.registerer),
		distributor.WithClock(o.now),
	)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Uint64("chain_id", chainID).
		Str("signer", minter.From().Hex()).
		Str("reward_contract", cfg.RewardContract.Hex()).
		Msg("distributor ready")

	if err := d.worker.Load(ctx); err != nil {
		return nil, err
	}
	ok = true
	return d, nil
}

// Run tails the journal until ctx ends.
func (d *Distributor) Run(ctx context.Context) error {
	return d.worker.Run(ctx)
}

// RunOnce performs a single pass and saves state.
func (d *Distributor) RunOnce(ctx context.Context) error {
	tickErr := d.worker.Tick(ctx)
	return errors.Join(tickErr, d.worker.Flush(context.WithoutCancel(ctx)))
}

// Close releases the state store and the RPC transport.
func (d *Distributor) Close() error {
	var errs []error
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	errs = append(errs, d.client.Close())
	return errors.Join(errs...)
}
