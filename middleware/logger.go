package middleware

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/relay/event"
)

// Logger logs each log that passes through the pipeline.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a logging middleware.
func NewLogger(l zerolog.Logger) *Logger {
	return &Logger{logger: l}
}

// Wrap implements Middleware.
func (l *Logger) Wrap(next Handler) Handler {
	return func(ctx context.Context, lg event.Log) (Outcome, error) {
		out, err := next(ctx, lg)

		var evt *zerolog.Event
		switch {
		case err != nil:
			evt = l.logger.Error().Err(err)
		case out == Unparsed:
			evt = l.logger.Warn()
		default:
			evt = l.logger.Debug()
		}
		evt.
			Uint64("block_number", lg.BlockNumber).
			Str("tx_hash", lg.TxHash.Hex()).
			Uint("log_index", lg.LogIndex).
			Str("topic0", lg.EventSignature().Hex()).
			Str("outcome", out.String()).
			Msg("log handled")
		return out, err
	}
}
