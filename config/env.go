package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hedeqiang/relay/event"
)

// Lookup reads one variable; os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// env reads typed values and collects every problem instead of stopping
// at the first one.
type env struct {
	lookup Lookup
	errs   []error
}

func (e *env) problem(key, format string, args ...any) {
	e.errs = append(e.errs, fmt.Errorf("%s: "+format, append([]any{key}, args...)...))
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) required(key string) string {
	v, ok := e.raw(key)
	if !ok {
		e.problem(key, "is required")
	}
	return v
}

func (e *env) uint(key string, def uint64) uint64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.problem(key, "want a non-negative integer, got %q", v)
		return def
	}
	return n
}

func (e *env) optionalUint(key string) *uint64 {
	if _, ok := e.raw(key); !ok {
		return nil
	}
	n := e.uint(key, 0)
	return &n
}

func (e *env) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.problem(key, "want a non-negative integer, got %q", v)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		e.problem(key, "want a non-negative number, got %q", v)
		return def
	}
	return f
}

// duration accepts Go syntax ("5s", "1m30s") or a bare integer of
// milliseconds.
func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			e.problem(key, "must not be negative")
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.problem(key, "want a duration like 5s or milliseconds, got %q", v)
		return def
	}
	return d
}

func (e *env) address(key string) *event.Address {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	addr, err := event.HexToAddress(v)
	if err != nil {
		e.problem(key, "%v", err)
		return nil
	}
	return &addr
}

func (e *env) requiredAddress(key string) event.Address {
	if _, ok := e.raw(key); !ok {
		e.problem(key, "is required")
		return event.Address{}
	}
	if addr := e.address(key); addr != nil {
		return *addr
	}
	return event.Address{}
}
