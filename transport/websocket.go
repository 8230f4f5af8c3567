package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// WebSocket implements Transport over a WebSocket connection.
// The connection is dialed lazily and redialed after it drops.
type WebSocket struct {
	url    string
	opts   options
	nextID atomic.Uint64

	mu      sync.Mutex // guards conn, closed and writes
	conn    *websocket.Conn
	closed  chan struct{}
	stopped bool

	pendingMu sync.Mutex
	pending   map[uint64]chan []byte
}

// NewWebSocket creates a WebSocket transport.
func NewWebSocket(url string, opts ...Option) *WebSocket {
	return &WebSocket{
		url:     url,
		opts:    buildOptions(opts),
		pending: make(map[uint64]chan []byte),
	}
}

// connect returns the live connection, dialing a new one if needed.
func (ws *WebSocket) connect(ctx context.Context) (*websocket.Conn, chan struct{}, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.stopped {
		return nil, nil, fmt.Errorf("transport/ws: transport closed")
	}
	if ws.conn != nil {
		select {
		case <-ws.closed:
			ws.conn = nil
		default:
			return ws.conn, ws.closed, nil
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ws.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("transport/ws: dial: %w", err)
	}
	ws.conn = conn
	ws.closed = make(chan struct{})
	go ws.readLoop(conn, ws.closed)
	return conn, ws.closed, nil
}

// Call sends a JSON-RPC request over WebSocket and waits for the response.
func (ws *WebSocket) Call(ctx context.Context, method string, params ...interface{}) ([]byte, error) {
	if err := ws.opts.wait(ctx); err != nil {
		return nil, err
	}
	conn, closed, err := ws.connect(ctx)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = []interface{}{}
	}

	id := ws.nextID.Add(1)
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	ch := make(chan []byte, 1)
	ws.pendingMu.Lock()
	ws.pending[id] = ch
	ws.pendingMu.Unlock()

	defer func() {
		ws.pendingMu.Lock()
		delete(ws.pending, id)
		ws.pendingMu.Unlock()
	}()

	ws.mu.Lock()
	err = conn.WriteJSON(req)
	ws.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("transport/ws: write: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-ch:
		var rpcResp jsonRPCResponse
		if err := json.Unmarshal(data, &rpcResp); err != nil {
			return nil, fmt.Errorf("transport/ws: unmarshal: %w", err)
		}
		if rpcResp.Error != nil {
			return nil, rpcResp.Error
		}
		return rpcResp.Result, nil
	case <-closed:
		return nil, fmt.Errorf("transport/ws: connection closed")
	}
}

// Close terminates the WebSocket connection.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.stopped = true
	if ws.conn != nil {
		return ws.conn.Close()
	}
	return nil
}

// readLoop routes responses to waiting callers until the connection fails.
func (ws *WebSocket) readLoop(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			ID uint64 `json:"id"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil || envelope.ID == 0 {
			continue
		}

		ws.pendingMu.Lock()
		if ch, ok := ws.pending[envelope.ID]; ok {
			select {
			case ch <- message:
			default:
			}
		}
		ws.pendingMu.Unlock()
	}
}
