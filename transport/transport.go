// Package transport provides the JSON-RPC transport layer used to talk to chain nodes.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// Transport sends JSON-RPC requests and returns raw responses.
type Transport interface {
	// Call sends a JSON-RPC request and returns the result bytes.
	Call(ctx context.Context, method string, params ...interface{}) ([]byte, error)

	// Close terminates the transport connection.
	Close() error
}

// RPCError is an error object returned by the node. Its presence means the
// request reached the node and was rejected, as opposed to a network failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error: code=%d message=%s", e.Code, e.Message)
}

// Option configures a transport.
type Option func(*options)

type options struct {
	client  *http.Client
	limiter *rate.Limiter
}

// WithRateLimit throttles outgoing calls to perSecond with the given burst.
// A non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient replaces the HTTP client used by the HTTP transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

func buildOptions(opts []Option) options {
	o := options{client: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("transport: rate limit: %w", err)
	}
	return nil
}

// New picks a WebSocket transport for ws:// and wss:// URLs and HTTP otherwise.
func New(url string, opts ...Option) Transport {
	if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
		return NewWebSocket(url, opts...)
	}
	return NewHTTP(url, opts...)
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}
