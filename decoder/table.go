package decoder

import (
	"fmt"

	"github.com/hedeqiang/relay/event"
)

// Binder converts a decoded event into its typed args.
type Binder func(*DecodedEvent) (event.Args, error)

// BindAs returns a Binder that fills a T via DecodedEvent.Bind.
func BindAs[T event.Args]() Binder {
	return func(d *DecodedEvent) (event.Args, error) {
		var args T
		if err := d.Bind(&args); err != nil {
			return nil, err
		}
		return args, nil
	}
}

type tableEntry struct {
	kind event.Kind
	bind Binder
}

// Table decodes the logs of one contract. Only events that have a binder
// are decodable; everything else is reported as unknown.
type Table struct {
	contract string
	dec      *ABIDecoder
	entries  map[event.Hash]tableEntry
}

// NewTable builds a table from a JSON ABI and one binder per event kind.
// Every kind must name an event present in the ABI.
func NewTable(contract string, abiJSON []byte, binders map[event.Kind]Binder) (*Table, error) {
	dec := NewABIDecoder()
	if err := dec.RegisterJSON(abiJSON); err != nil {
		return nil, fmt.Errorf("decoder: %s: %w", contract, err)
	}

	t := &Table{
		contract: contract,
		dec:      dec,
		entries:  make(map[event.Hash]tableEntry, len(binders)),
	}
	for kind, bind := range binders {
		def, ok := dec.Schema().ByName(string(kind))
		if !ok {
			return nil, fmt.Errorf("decoder: %s: abi has no event %s", contract, kind)
		}
		t.entries[def.SigHash] = tableEntry{kind: kind, bind: bind}
	}
	return t, nil
}

// Contract returns the logical contract name.
func (t *Table) Contract() string {
	return t.contract
}

// Kinds returns the decodable event kinds keyed by topic0.
func (t *Table) Kinds() map[event.Hash]event.Kind {
	out := make(map[event.Hash]event.Kind, len(t.entries))
	for h, e := range t.entries {
		out[h] = e.kind
	}
	return out
}

// Decode turns a log into typed args. On failure it returns KindUnparsed,
// UnparsedArgs describing the log, and the cause.
func (t *Table) Decode(log event.Log) (event.Kind, event.Args, error) {
	kind, args, err := t.decode(log)
	if err != nil {
		err = fmt.Errorf("decoder: %s: %w", t.contract, err)
		return event.KindUnparsed, Unparsed(log, err), err
	}
	return kind, args, nil
}

func (t *Table) decode(log event.Log) (event.Kind, event.Args, error) {
	if len(log.Topics) == 0 {
		return "", nil, ErrNoTopics
	}
	entry, ok := t.entries[log.Topics[0]]
	if !ok {
		return "", nil, fmt.Errorf("%w %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	decoded, err := t.dec.Decode(log)
	if err != nil {
		return "", nil, err
	}
	args, err := entry.bind(decoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return entry.kind, args, nil
}
