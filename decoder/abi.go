package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/hedeqiang/relay/event"
	abiutil "github.com/hedeqiang/relay/internal/abi"
)

var (
	// ErrNoTopics is returned for logs without a topic0.
	ErrNoTopics = errors.New("decoder: log has no topics")

	// ErrUnknownEvent is returned when topic0 matches no registered event.
	ErrUnknownEvent = errors.New("decoder: unknown event signature")

	// ErrMalformed is returned when topics or data do not fit the event definition.
	ErrMalformed = errors.New("decoder: malformed log")
)

const wordSize = 32

// ABIDecoder decodes event logs using registered ABI event definitions.
type ABIDecoder struct {
	schema *Schema
}

// NewABIDecoder creates an empty decoder.
func NewABIDecoder() *ABIDecoder {
	return &ABIDecoder{
		schema: NewSchema(),
	}
}

// Schema exposes the registered definitions.
func (d *ABIDecoder) Schema() *Schema {
	return d.schema
}

// Register parses a Solidity event signature and registers it for decoding.
// Example: "FlagChanged(uint256 indexed tokenId, uint8 bit, bool value, address indexed operator, bytes32 traceId)"
func (d *ABIDecoder) Register(eventSignature string) error {
	parsed, err := abiutil.ParseEventSignature(eventSignature)
	if err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	d.registerParsed(parsed)
	return nil
}

// RegisterJSON registers every event of a standard JSON ABI.
// Non-event entries are ignored.
func (d *ABIDecoder) RegisterJSON(jsonABI []byte) error {
	events, err := abiutil.ParseJSONABI(jsonABI)
	if err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	for _, parsed := range events {
		d.registerParsed(parsed)
	}
	return nil
}

func (d *ABIDecoder) registerParsed(parsed *abiutil.ParsedEvent) {
	inputs := make([]ParamDef, len(parsed.Params))
	for i, p := range parsed.Params {
		inputs[i] = ParamDef{
			Name:    p.Name,
			Type:    p.Type,
			Indexed: p.Indexed,
		}
	}

	d.schema.Add(&EventDef{
		Name:      parsed.Name,
		Signature: parsed.Canonical(),
		SigHash:   parsed.Topic(),
		Inputs:    inputs,
	})
}

// Decode decodes a log using the registered definitions.
func (d *ABIDecoder) Decode(log event.Log) (*DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrNoTopics
	}

	def, ok := d.schema.Lookup(log.Topics[0])
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	decoded := &DecodedEvent{
		Name:      def.Name,
		Signature: def.Signature,
		Params:    make(map[string]interface{}),
		Indexed:   make(map[string]interface{}),
		Data:      make(map[string]interface{}),
		Raw:       log,
	}

	topicIdx := 1
	var dataParams []ParamDef
	for _, input := range def.Inputs {
		if !input.Indexed {
			dataParams = append(dataParams, input)
			continue
		}
		if topicIdx >= len(log.Topics) {
			return nil, fmt.Errorf("%w: %s wants more than %d topics", ErrMalformed, def.Name, len(log.Topics))
		}

		name := paramName(input.Name, "arg", topicIdx)
		val, err := decodeTopicValue(input.Type, log.Topics[topicIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrMalformed, def.Name, name, err)
		}
		decoded.Indexed[name] = val
		decoded.Params[name] = val
		topicIdx++
	}
	if topicIdx != len(log.Topics) {
		return nil, fmt.Errorf("%w: %s has %d topics, want %d", ErrMalformed, def.Name, len(log.Topics), topicIdx)
	}

	if len(log.Data) < len(dataParams)*wordSize {
		return nil, fmt.Errorf("%w: %s data is %d bytes, want at least %d", ErrMalformed, def.Name, len(log.Data), len(dataParams)*wordSize)
	}
	for i, param := range dataParams {
		name := paramName(param.Name, "data", i)
		val, err := decodeDataValue(param.Type, log.Data, i*wordSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrMalformed, def.Name, name, err)
		}
		decoded.Data[name] = val
		decoded.Params[name] = val
	}

	return decoded, nil
}

func paramName(name, prefix string, i int) string {
	if name != "" {
		return name
	}
	return prefix + strconv.Itoa(i)
}

func isDynamic(typ string) bool {
	return typ == "string" || typ == "bytes" || strings.HasSuffix(typ, "]") || strings.HasPrefix(typ, "(")
}

// decodeTopicValue decodes an indexed parameter. Dynamic types are stored
// as their keccak hash in the topic and come back as event.Hash.
func decodeTopicValue(typ string, topic event.Hash) (interface{}, error) {
	if isDynamic(typ) {
		return topic, nil
	}
	return decodeWord(typ, topic[:])
}

// decodeDataValue decodes the head word at offset and, for string and
// bytes, follows it to the tail.
func decodeDataValue(typ string, data []byte, offset int) (interface{}, error) {
	word := data[offset : offset+wordSize]
	switch {
	case typ == "string" || typ == "bytes":
		b, err := readDynamic(data, word)
		if err != nil {
			return nil, err
		}
		if typ == "string" {
			return string(b), nil
		}
		return b, nil
	case isDynamic(typ):
		return nil, fmt.Errorf("unsupported type %s", typ)
	default:
		return decodeWord(typ, word)
	}
}

func readDynamic(data, head []byte) ([]byte, error) {
	off := new(big.Int).SetBytes(head)
	if !off.IsUint64() || off.Uint64() > uint64(len(data)-wordSize) {
		return nil, fmt.Errorf("offset %s out of range", off)
	}
	start := int(off.Uint64())
	length := new(big.Int).SetBytes(data[start : start+wordSize])
	if !length.IsUint64() || length.Uint64() > uint64(len(data)-start-wordSize) {
		return nil, fmt.Errorf("length %s out of range", length)
	}
	start += wordSize
	out := make([]byte, length.Uint64())
	copy(out, data[start:])
	return out, nil
}

// decodeWord decodes a single static 32-byte ABI word.
func decodeWord(typ string, word []byte) (interface{}, error) {
	switch {
	case typ == "address":
		var addr event.Address
		copy(addr[:], word[12:wordSize])
		return addr, nil
	case typ == "bool":
		return word[31] != 0, nil
	case strings.HasPrefix(typ, "uint"):
		bits, err := typeSize(typ, "uint", 256)
		if err != nil {
			return nil, err
		}
		v := new(big.Int).SetBytes(word)
		if v.BitLen() > bits {
			return nil, fmt.Errorf("value overflows %s", typ)
		}
		return v, nil
	case strings.HasPrefix(typ, "int"):
		bits, err := typeSize(typ, "int", 256)
		if err != nil {
			return nil, err
		}
		v := new(big.Int).SetBytes(word)
		if word[0]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
		if v.CmpAbs(limit) > 0 || (v.Sign() > 0 && v.Cmp(limit) == 0) {
			return nil, fmt.Errorf("value overflows %s", typ)
		}
		return v, nil
	case strings.HasPrefix(typ, "bytes"):
		if _, err := typeSize(typ, "bytes", 32); err != nil {
			return nil, err
		}
		var h event.Hash
		copy(h[:], word)
		return h, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", typ)
	}
}

func typeSize(typ, prefix string, def int) (int, error) {
	s := strings.TrimPrefix(typ, prefix)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > def {
		return 0, fmt.Errorf("unsupported type %s", typ)
	}
	return n, nil
}
