// Package config reads process settings from the environment, after an
// optional .env file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/event"
	"github.com/hedeqiang/relay/state"
)

// ValidationError lists every invalid or missing setting.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "config: %d invalid setting(s):", len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() []error { return e.Problems }

// Common holds the settings shared by both processes.
type Common struct {
	RPCURL       string
	RPCRateLimit float64
	RPCTimeout   time.Duration
	LogDir       string
	StateDir     string
	PollInterval time.Duration
	LogLevel     string
	LogFormat    string
	MetricsAddr  string
}

// Indexer configures relay-indexer.
type Indexer struct {
	Common

	DonationRouter  *event.Address
	FlagRegistry    *event.Address
	Confirmations   uint64
	StartBlock      *uint64
	BatchSize       uint64
	ErrorBackoff    time.Duration
	OnceWindow      uint64
	OnceMaxAttempts int
}

// Distributor configures relay-distributor.
type Distributor struct {
	Common

	RewardContract    event.Address
	SignerKey         string
	OwnershipContract *event.Address
	RulesPath         string
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	StateFlushEvery   int
	StateBackend      state.Backend
	ReceiptTimeout    time.Duration
	TriggerMode       event.TriggerMode
	GasLimit          uint64
	BreakerThreshold  int
	BreakerReset      time.Duration
}

// LoadIndexer reads .env if present, then the environment.
func LoadIndexer() (*Indexer, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return IndexerFrom(os.LookupEnv)
}

// LoadDistributor reads .env if present, then the environment.
func LoadDistributor() (*Distributor, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return DistributorFrom(os.LookupEnv)
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: .env: %w", err)
	}
	return nil
}

// IndexerFrom builds the indexer settings from lookup.
func IndexerFrom(lookup Lookup) (*Indexer, error) {
	e := &env{lookup: lookup}
	cfg := &Indexer{
		Common:          readCommon(e),
		DonationRouter:  e.address("DONATION_ROUTER_ADDRESS"),
		FlagRegistry:    e.address("FLAG_REGISTRY_ADDRESS"),
		Confirmations:   e.uint("CONFIRMATIONS", 5),
		StartBlock:      e.optionalUint("START_BLOCK"),
		BatchSize:       e.uint("BATCH_SIZE", 2000),
		ErrorBackoff:    e.duration("ERROR_BACKOFF", 10*time.Second),
		OnceWindow:      e.uint("ONCE_WINDOW", 1000),
		OnceMaxAttempts: e.int("ONCE_MAX_ATTEMPTS", 5),
	}

	_, hasRouter := e.raw("DONATION_ROUTER_ADDRESS")
	_, hasRegistry := e.raw("FLAG_REGISTRY_ADDRESS")
	if !hasRouter && !hasRegistry {
		e.problem("DONATION_ROUTER_ADDRESS/FLAG_REGISTRY_ADDRESS", "at least one contract address is required")
	}
	if cfg.BatchSize == 0 {
		e.problem("BATCH_SIZE", "must be positive")
	}
	if cfg.OnceWindow == 0 {
		e.problem("ONCE_WINDOW", "must be positive")
	}

	if len(e.errs) > 0 {
		return nil, &ValidationError{Problems: e.errs}
	}
	return cfg, nil
}

// DistributorFrom builds the distributor settings from lookup.
func DistributorFrom(lookup Lookup) (*Distributor, error) {
	e := &env{lookup: lookup}
	cfg := &Distributor{
		Common:            readCommon(e),
		RewardContract:    e.requiredAddress("REWARD_CONTRACT_ADDRESS"),
		SignerKey:         e.required("SIGNER_PRIVATE_KEY"),
		OwnershipContract: e.address("OWNERSHIP_CONTRACT_ADDRESS"),
		RulesPath:         e.str("RULES_PATH", "./rules.json"),
		RetryMaxAttempts:  e.int("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: e.duration("RETRY_INITIAL_DELAY", 2*time.Second),
		StateFlushEvery:   e.int("STATE_FLUSH_EVERY", 10),
		ReceiptTimeout:    e.duration("RECEIPT_TIMEOUT", 2*time.Minute),
		GasLimit:          e.uint("GAS_LIMIT", 0),
		BreakerThreshold:  e.int("BREAKER_THRESHOLD", 5),
		BreakerReset:      e.duration("BREAKER_RESET", time.Minute),
	}

	backend, err := state.ParseBackend(e.str("STATE_BACKEND", string(state.BackendFile)))
	if err != nil {
		e.problem("STATE_BACKEND", "%v", err)
	}
	cfg.StateBackend = backend

	mode, err := event.ParseTriggerMode(e.str("TRIGGER_ID_MODE", string(event.TriggerHash)))
	if err != nil {
		e.problem("TRIGGER_ID_MODE", "%v", err)
	}
	cfg.TriggerMode = mode

	if cfg.SignerKey != "" && !validKey(cfg.SignerKey) {
		e.problem("SIGNER_PRIVATE_KEY", "want 32 bytes of hex")
	}
	if cfg.StateFlushEvery == 0 {
		e.problem("STATE_FLUSH_EVERY", "must be positive")
	}
	if cfg.RetryInitialDelay == 0 {
		e.problem("RETRY_INITIAL_DELAY", "must be positive")
	}

	if len(e.errs) > 0 {
		return nil, &ValidationError{Problems: e.errs}
	}
	return cfg, nil
}

func readCommon(e *env) Common {
	c := Common{
		RPCURL:       e.required("RPC_URL"),
		RPCRateLimit: e.float("RPC_RATE_LIMIT", 0),
		RPCTimeout:   e.duration("RPC_TIMEOUT", 30*time.Second),
		LogDir:       e.str("LOG_DIR", "./logs"),
		StateDir:     e.str("STATE_DIR", "./state"),
		PollInterval: e.duration("POLL_INTERVAL", 5*time.Second),
		LogLevel:     strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(e.str("LOG_FORMAT", "console")),
		MetricsAddr:  e.str("METRICS_ADDR", ""),
	}

	if c.RPCURL != "" {
		u, err := url.Parse(c.RPCURL)
		switch {
		case err != nil:
			e.problem("RPC_URL", "%v", err)
		case u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss":
			e.problem("RPC_URL", "unsupported scheme %q", u.Scheme)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		e.problem("LOG_LEVEL", "unknown level %q", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		e.problem("LOG_FORMAT", "want console or json, got %q", c.LogFormat)
	}
	if c.PollInterval == 0 {
		e.problem("POLL_INTERVAL", "must be positive")
	}
	return c
}

func validKey(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	return err == nil && len(b) == 32
}
