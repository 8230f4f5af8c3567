package relay

import "errors"

var (
	// ErrNoContracts is returned when the indexer has nothing to watch.
	ErrNoContracts = errors.New("relay: no contract address configured")

	// ErrInvalidWindow is returned for a --once window that is empty or
	// reaches past the confirmed head.
	ErrInvalidWindow = errors.New("relay: invalid block window")
)
