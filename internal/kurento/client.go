// Package kurento speaks the Kurento Media Server protocol: JSON-RPC 2.0
// over a single WebSocket connection, with server-initiated onEvent
// notifications for subscribed media events.
package kurento

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcInbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResult struct {
	Value     string `json:"value"`
	SessionID string `json:"sessionId"`
}

// RPCError is an error returned by the media server for one request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("kurento: %s (code %d)", e.Message, e.Code)
}

type eventValue struct {
	Object string          `json:"object"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

type eventParams struct {
	Value eventValue `json:"value"`
}

type codeFoundData struct {
	CodeType string `json:"codeType"`
	Type     string `json:"type"`
	Value    string `json:"value"`
}

// CodeFoundEvent is a decoded CodeFound notification from a ZBar filter.
type CodeFoundEvent struct {
	CodeType string
	Type     string
	Value    string
}

// Client is a connection to one media server. All methods are safe for
// concurrent use; requests in flight are correlated by id.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan rpcInbound
	handlers  map[string]func(CodeFoundEvent)
	sessionID string
	closeErr  error

	closeOnce sync.Once
}

// Dial connects to the media server's WebSocket endpoint. timeout bounds
// every RPC issued through the returned client.
func Dial(ctx context.Context, uri string, timeout time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", uri, err)
	}

	c := &Client{
		conn:     conn,
		timeout:  timeout,
		pending:  make(map[uint64]chan rpcInbound),
		handlers: make(map[string]func(CodeFoundEvent)),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var msg rpcInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("kurento: discarding unparseable frame", "error", err)
			continue
		}

		switch {
		case msg.Method == "ping":
			// Server keepalive. Ping is a server-initiated request, so
			// the pong echoes its id.
			c.writePong(msg.ID)
		case msg.ID != nil:
			c.deliver(*msg.ID, msg)
		case msg.Method == "onEvent":
			c.dispatchEvent(msg.Params)
		default:
			slog.Debug("kurento: ignoring notification", "method", msg.Method)
		}
	}
}

// fail wakes every caller waiting on a response and marks the client
// unusable.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.Close()
}

func (c *Client) deliver(id uint64, msg rpcInbound) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Client) dispatchEvent(params json.RawMessage) {
	var ev eventParams
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Warn("kurento: malformed onEvent params", "error", err)
		return
	}
	if ev.Value.Type != "CodeFound" {
		return
	}

	var data codeFoundData
	if err := json.Unmarshal(ev.Value.Data, &data); err != nil {
		slog.Warn("kurento: malformed CodeFound data", "object", ev.Value.Object, "error", err)
		return
	}

	c.mu.Lock()
	handler := c.handlers[ev.Value.Object]
	c.mu.Unlock()
	if handler == nil {
		return
	}

	// Handlers do their own network I/O (client push, CEP). Run them off
	// the read loop so a slow consumer cannot stall response delivery.
	go handler(CodeFoundEvent{CodeType: data.CodeType, Type: data.Type, Value: data.Value})
}

func (c *Client) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) writePong(id *uint64) {
	frame := map[string]any{
		"jsonrpc": "2.0",
		"result":  map[string]string{"value": "pong"},
	}
	if id != nil {
		frame["id"] = *id
	}
	if err := c.writeFrame(frame); err != nil {
		slog.Warn("kurento: pong", "error", err)
	}
}

// call issues one request and waits for its response, bounded by the
// configured timeout.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (rpcResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch := make(chan rpcInbound, 1)

	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return rpcResult{}, fmt.Errorf("kurento: connection lost: %w", err)
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	if c.sessionID != "" {
		if params == nil {
			params = map[string]any{}
		}
		params["sessionId"] = c.sessionID
	}
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeFrame(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return rpcResult{}, fmt.Errorf("kurento: write %s: %w", method, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return rpcResult{}, fmt.Errorf("kurento: connection lost during %s", method)
		}
		if msg.Error != nil {
			return rpcResult{}, msg.Error
		}
		var res rpcResult
		if len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, &res); err != nil {
				return rpcResult{}, fmt.Errorf("kurento: decode %s result: %w", method, err)
			}
		}
		if res.SessionID != "" {
			c.mu.Lock()
			c.sessionID = res.SessionID
			c.mu.Unlock()
		}
		return res, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return rpcResult{}, fmt.Errorf("kurento: %s: %w", method, ctx.Err())
	}
}

func (c *Client) create(ctx context.Context, objType string, constructorParams map[string]any) (string, error) {
	if constructorParams == nil {
		constructorParams = map[string]any{}
	}
	res, err := c.call(ctx, "create", map[string]any{
		"type":              objType,
		"constructorParams": constructorParams,
	})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (c *Client) invoke(ctx context.Context, object, operation string, operationParams map[string]any) (string, error) {
	if operationParams == nil {
		operationParams = map[string]any{}
	}
	res, err := c.call(ctx, "invoke", map[string]any{
		"object":          object,
		"operation":       operation,
		"operationParams": operationParams,
	})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (c *Client) subscribe(ctx context.Context, object, eventType string) error {
	_, err := c.call(ctx, "subscribe", map[string]any{
		"object": object,
		"type":   eventType,
	})
	return err
}

func (c *Client) release(ctx context.Context, object string) error {
	_, err := c.call(ctx, "release", map[string]any{
		"object": object,
	})
	return err
}

func (c *Client) setHandler(object string, handler func(CodeFoundEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler == nil {
		delete(c.handlers, object)
	} else {
		c.handlers[object] = handler
	}
}

// dropHandlersUnder removes event handlers for every object belonging to
// the released pipeline. Element object ids are namespaced under their
// pipeline id.
func (c *Client) dropHandlersUnder(pipelineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for object := range c.handlers {
		if object == pipelineID || strings.HasPrefix(object, pipelineID+"/") {
			delete(c.handlers, object)
		}
	}
}
