// Package decoder turns raw logs into typed event records.
package decoder

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/hedeqiang/relay/event"
)

// Decoder decodes raw event logs into structured data.
type Decoder interface {
	// Decode parses a raw log into a DecodedEvent.
	Decode(log event.Log) (*DecodedEvent, error)
}

// DecodedEvent contains the decoded representation of an event log.
type DecodedEvent struct {
	// Name is the event name (e.g. "Donated").
	Name string

	// Signature is the canonical event signature.
	Signature string

	// Params holds every decoded parameter keyed by name.
	Params map[string]interface{}

	// Indexed holds only the parameters decoded from topics.
	Indexed map[string]interface{}

	// Data holds only the parameters decoded from the data section.
	Data map[string]interface{}

	// Raw is the original log.
	Raw event.Log
}

// Bind copies the decoded parameters into the struct pointed to by out.
// Fields are matched by the "abi" struct tag, or by case-insensitive field
// name. Every exported field without `abi:"-"` must have a matching parameter.
//
// Supported field types: event.Address, event.Hash, *big.Int, bool, string,
// unsigned and signed integers, []byte.
func (e *DecodedEvent) Bind(out interface{}) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("decoder: Bind requires a non-nil pointer to struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("decoder: Bind requires a pointer to struct, got %s", rv.Kind())
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Tag.Get("abi")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}

		val, ok := e.Params[name]
		if !ok {
			val, ok = findParamInsensitive(e.Params, name)
		}
		if !ok {
			return fmt.Errorf("decoder: %s has no parameter %q", e.Name, name)
		}

		if err := assignValue(rv.Field(i), val); err != nil {
			return fmt.Errorf("decoder: field %s: %w", field.Name, err)
		}
	}

	return nil
}

func findParamInsensitive(params map[string]interface{}, name string) (interface{}, bool) {
	for k, v := range params {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func assignValue(fv reflect.Value, val interface{}) error {
	if val == nil {
		return nil
	}

	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return nil
	}

	// *T field with a T value.
	if fv.Kind() == reflect.Ptr && fv.Type().Elem() == rv.Type() {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		fv.Set(ptr)
		return nil
	}

	if bi, ok := val.(*big.Int); ok && bi != nil {
		switch fv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if !bi.IsUint64() || fv.OverflowUint(bi.Uint64()) {
				return fmt.Errorf("%s overflows %s", bi, fv.Type())
			}
			fv.SetUint(bi.Uint64())
			return nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if !bi.IsInt64() || fv.OverflowInt(bi.Int64()) {
				return fmt.Errorf("%s overflows %s", bi, fv.Type())
			}
			fv.SetInt(bi.Int64())
			return nil
		}
	}

	if fv.Kind() == reflect.String {
		if s, ok := val.(fmt.Stringer); ok {
			fv.SetString(s.String())
			return nil
		}
	}

	if fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Uint8 {
		switch v := val.(type) {
		case []byte:
			fv.SetBytes(v)
			return nil
		case event.Hash:
			fv.SetBytes(append([]byte(nil), v[:]...))
			return nil
		}
	}

	return fmt.Errorf("cannot assign %T to %s", val, fv.Type())
}
