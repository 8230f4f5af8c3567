package decoder

import (
	"github.com/hedeqiang/relay/event"
)

// Unparsed wraps a log the decoder could not handle, keeping its raw
// topics and data for the error journal.
func Unparsed(log event.Log, reason error) event.UnparsedArgs {
	args := event.UnparsedArgs{
		Topics: append([]event.Hash(nil), log.Topics...),
		Data:   append([]byte(nil), log.Data...),
	}
	if reason != nil {
		args.Reason = reason.Error()
	}
	return args
}
