package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/chain"
	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/journal"
	"github.com/hedeqiang/relay/retry"
	"github.com/hedeqiang/relay/rules"
	"github.com/hedeqiang/relay/state"
)

// Config tunes the worker loop.
type Config struct {
	TriggerMode      event.TriggerMode
	MaxAttempts      int
	PollInterval     time.Duration
	CallTimeout      time.Duration
	ReceiptTimeout   time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TriggerMode:      event.TriggerHash,
		MaxAttempts:      3,
		PollInterval:     5 * time.Second,
		CallTimeout:      30 * time.Second,
		ReceiptTimeout:   2 * time.Minute,
		BreakerThreshold: 5,
		BreakerReset:     time.Minute,
	}
}

// Deps are the collaborators a Worker drives.
type Deps struct {
	Tailer   *journal.Tailer
	Engine   *rules.Engine
	Resolver *rules.Resolver
	Minter   Minter
	State    *state.State
	Store    state.Store
	Failures *journal.FailureJournal
}

// Option configures a Worker.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	registerer prometheus.Registerer
	now        func() time.Time
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the worker metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock sets the clock of the circuit breaker.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Worker is the distributor loop: tail, evaluate, resolve, mint.
type Worker struct {
	Deps
	cfg      Config
	executor *Executor
	breaker  *retry.CircuitBreaker
	metrics  *Metrics
	logger   zerolog.Logger
	flushDue bool
}

// New creates a Worker.
func New(cfg Config, deps Deps, opts ...Option) (*Worker, error) {
	switch {
	case deps.Tailer == nil, deps.Engine == nil, deps.Resolver == nil,
		deps.Minter == nil, deps.State == nil, deps.Store == nil, deps.Failures == nil:
		return nil, errors.New("distributor: missing dependency")
	}

	o := options{
		logger:     zerolog.Nop(),
		registerer: prometheus.NewRegistry(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	metrics, err := NewMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("distributor: metrics: %w", err)
	}

	return &Worker{
		Deps:     deps,
		cfg:      cfg,
		executor: NewExecutor(deps.Minter, cfg.CallTimeout, cfg.ReceiptTimeout),
		breaker:  retry.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerReset).WithClock(o.now),
		metrics:  metrics,
		logger:   o.logger.With().Str("component", "distributor").Logger(),
	}, nil
}

// Load restores the processed set from the store.
func (w *Worker) Load(ctx context.Context) error {
	if err := w.Store.Load(ctx, w.State); err != nil {
		return err
	}
	w.metrics.processed.Set(float64(w.State.ProcessedCount()))
	w.logger.Info().Int("processed", w.State.ProcessedCount()).Msg("state loaded")
	return nil
}

// Run ticks until ctx ends, then saves state.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("rules", len(w.Engine.Rules())).
		Msg("distributor started")

	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil {
			w.logger.Error().Err(err).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("distributor stopping")
			return w.Flush(context.WithoutCancel(ctx))
		case <-ticker.C:
		}
	}
}

// Tick reads new journal lines, drains due retries and flushes state if
// enough records were marked.
func (w *Worker) Tick(ctx context.Context) error {
	err := w.Tailer.Poll(func(line journal.Line) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.handleLine(ctx, line)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("distributor: read journal: %w", err)
	}

	if ctx.Err() == nil {
		w.drainRetries(ctx)
	}

	if w.flushDue {
		return w.Flush(context.WithoutCancel(ctx))
	}
	return nil
}

// Flush saves the processed set.
func (w *Worker) Flush(ctx context.Context) error {
	if err := w.Store.Save(ctx, w.State); err != nil {
		return fmt.Errorf("distributor: save state: %w", err)
	}
	w.flushDue = false
	w.logger.Debug().Int("processed", w.State.ProcessedCount()).Msg("state saved")
	return nil
}

func (w *Worker) handleLine(ctx context.Context, line journal.Line) {
	var rec event.Record
	if err := json.Unmarshal(line.Data, &rec); err != nil {
		// No record key; the line position stands in so a restart does
		// not report it again.
		pos := line.Position()
		if w.State.IsProcessedKey(pos) {
			w.metrics.lines.WithLabelValues("skipped").Inc()
			return
		}
		w.metrics.lines.WithLabelValues("invalid").Inc()
		w.recordFailure(journal.Failure{
			Type:  journal.GeneralError,
			Event: string(line.Data),
			Error: fmt.Sprintf("parse %s at offset %d: %v", line.File, line.Offset, err),
		})
		if w.State.MarkProcessedKey(pos) {
			w.flushDue = true
		}
		return
	}
	if w.State.IsProcessed(rec) {
		w.metrics.lines.WithLabelValues("skipped").Inc()
		return
	}
	w.metrics.lines.WithLabelValues("handled").Inc()

	matched, err := w.Engine.Evaluate(rec)
	if err != nil {
		w.recordEvalErrors(rec, err)
	}
	for _, rule := range matched {
		w.distribute(ctx, rec, rule)
	}

	if w.State.MarkProcessed(rec) {
		w.flushDue = true
	}
	w.metrics.processed.Set(float64(w.State.ProcessedCount()))
}

func (w *Worker) recordEvalErrors(rec event.Record, err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		f := journal.Failure{Type: journal.RuleEvaluationError, Event: rec, Error: e.Error()}
		var evalErr *rules.EvalError
		if errors.As(e, &evalErr) {
			f.Rule = evalErr.Rule
			f.Error = evalErr.Err.Error()
		}
		w.recordFailure(f)
	}
}

// distribute makes the first attempt for a matched rule.
func (w *Worker) distribute(ctx context.Context, rec event.Record, rule rules.Rule) {
	logger := w.ruleLogger(rec, rule)
	res := w.attempt(ctx, rec, rule)

	switch {
	case res.Phase == Confirmed:
		w.breaker.RecordSuccess()
		w.metrics.mints.WithLabelValues("confirmed").Inc()
		logger.Info().Str("mint_tx", res.TxHash.Hex()).Msg("reward minted")

	case res.Permanent():
		w.metrics.mints.WithLabelValues("failed").Inc()
		logger.Warn().Err(res.Err).Stringer("failed_at", res.FailedAt).Msg("distribution failed permanently")
		w.recordFailure(journal.Failure{
			Type:     failureType(res),
			Event:    rec,
			Rule:     rule.Name,
			Error:    res.Err.Error(),
			Attempts: journal.Attempts(0),
		})

	default:
		w.breaker.RecordFailure()
		w.retryOrFail(logger, rec, rule, res.Err, 0)
	}
}

// drainRetries re-attempts due items while the breaker lets calls through.
func (w *Worker) drainRetries(ctx context.Context) {
	defer func() { w.metrics.retryQueue.Set(float64(w.State.QueueLen())) }()

	for _, item := range w.State.RetryableItems() {
		if ctx.Err() != nil {
			return
		}
		if !w.breaker.Allow() {
			w.logger.Warn().
				Int("queued", w.State.QueueLen()).
				Msg("circuit open, postponing retries")
			return
		}

		w.State.RemoveFromRetryQueue(item)
		logger := w.ruleLogger(item.Record, item.Rule)
		next := item.Attempts + 1
		res := w.attempt(ctx, item.Record, item.Rule)

		switch {
		case res.Phase == Confirmed:
			w.breaker.RecordSuccess()
			w.metrics.mints.WithLabelValues("confirmed").Inc()
			logger.Info().Str("mint_tx", res.TxHash.Hex()).Int("attempt", next).Msg("reward minted on retry")

		case res.Permanent():
			w.breaker.RecordSuccess()
			w.metrics.mints.WithLabelValues("failed").Inc()
			logger.Warn().Err(res.Err).Int("attempt", next).Msg("retry failed permanently")
			w.recordFailure(journal.Failure{
				Type:     failureType(res),
				Event:    item.Record,
				Rule:     item.Rule.Name,
				Error:    res.Err.Error(),
				Attempts: journal.Attempts(next),
			})

		default:
			w.breaker.RecordFailure()
			w.retryOrFail(logger, item.Record, item.Rule, res.Err, next)
		}
	}
}

// retryOrFail queues a transient failure, or journals it once the retry
// budget is spent.
func (w *Worker) retryOrFail(logger zerolog.Logger, rec event.Record, rule rules.Rule, err error, attempts int) {
	if attempts >= w.cfg.MaxAttempts {
		w.metrics.mints.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Int("attempts", attempts).Msg("retries exhausted")
		w.recordFailure(journal.Failure{
			Type:     journal.DistributionFailure,
			Event:    rec,
			Rule:     rule.Name,
			Error:    fmt.Sprintf("retries exhausted: %v", err),
			Attempts: journal.Attempts(attempts),
		})
		return
	}

	w.metrics.mints.WithLabelValues("retry").Inc()
	item := w.State.AddToRetryQueue(rec, rule, err, attempts)
	logger.Warn().
		Err(err).
		Int("attempts", attempts).
		Time("next_retry_at", item.NextRetryAt).
		Msg("distribution failed, queued for retry")
}

// attempt resolves the mint request for rule and executes it.
func (w *Worker) attempt(ctx context.Context, rec event.Record, rule rules.Rule) Result {
	switch a := rule.Action.(type) {
	case rules.RewardMint:
		callCtx, cancel := detach(ctx, w.cfg.CallTimeout)
		to, err := w.Resolver.Recipient(callCtx, rec)
		cancel()
		if err != nil {
			return Result{}.fail(Pending, fmt.Errorf("resolve recipient: %w", err))
		}
		req := chain.MintRequest{
			To:        to,
			SKU:       rules.ResolveSKU(rule, rec),
			TriggerID: event.TriggerID(w.cfg.TriggerMode, rec.TxHash, rec.LogIndex),
			Metadata:  a.Metadata,
		}
		return w.executor.Execute(ctx, req)

	default:
		return Result{}.fail(Pending, fmt.Errorf("%w: %T", errUnsupportedAction, a))
	}
}

func (w *Worker) recordFailure(f journal.Failure) {
	entry, err := w.Failures.Record(f)
	if err != nil {
		w.logger.Error().Err(err).Str("type", string(f.Type)).Str("error", f.Error).Msg("failure journal write failed")
		return
	}
	w.metrics.failures.WithLabelValues(string(entry.Type)).Inc()
}

func (w *Worker) ruleLogger(rec event.Record, rule rules.Rule) zerolog.Logger {
	return w.logger.With().
		Str("key", rec.Key()).
		Str("contract", rec.Contract).
		Str("event", string(rec.Event)).
		Str("rule", rule.Name).
		Logger()
}

// failureType maps a permanent result to its journal type: failures
// around a sent transaction are transaction errors.
func failureType(res Result) journal.FailureType {
	if res.FailedAt == Submitted {
		return journal.TransactionError
	}
	return journal.DistributionFailure
}
