// Package rpc implements the JSON-RPC 2.0 channel to the YAML language server,
// framed with LSP Content-Length headers.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrClosed is returned for requests pending when the connection ends.
var ErrClosed = errors.New("rpc connection closed")

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Handler answers a request. The returned value is encoded as the result.
// Returning an *Error sends it as is; any other error becomes -32603.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler consumes a notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Requester sends requests to the peer.
type Requester interface {
	SendRequest(ctx context.Context, method string, params, result any) error
}

// Notifier sends notifications to the peer.
type Notifier interface {
	SendNotification(method string, params any) error
}

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (m *message) isRequest() bool      { return m.Method != "" && len(m.ID) > 0 }
func (m *message) isNotification() bool { return m.Method != "" && len(m.ID) == 0 }

// Conn is a bidirectional JSON-RPC connection. Safe for concurrent use.
type Conn struct {
	reader *bufio.Reader
	writer io.Writer
	logger zerolog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	pending       map[string]chan *message
	handlers      map[string]Handler
	notifications map[string]NotificationHandler
	closed        bool
	done          chan struct{}
}

// NewConn creates a connection reading from r and writing to w.
// Handlers may be registered before or after Run starts.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		reader:        bufio.NewReader(r),
		writer:        w,
		logger:        log.With().Str("component", "rpc").Logger(),
		pending:       make(map[string]chan *message),
		handlers:      make(map[string]Handler),
		notifications: make(map[string]NotificationHandler),
		done:          make(chan struct{}),
	}
}

// OnRequest registers h for requests named method, replacing any earlier handler.
func (c *Conn) OnRequest(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// OnNotification registers h for notifications named method.
func (c *Conn) OnNotification(method string, h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications[method] = h
}

// Done is closed when Run returns.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Run reads and dispatches messages until the reader is exhausted.
// Requests are handled concurrently with ctx. A clean EOF returns nil.
func (c *Conn) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		payload, err := readMessage(c.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed message")
			continue
		}

		switch {
		case msg.isRequest():
			go c.handleRequest(ctx, &msg)
		case msg.isNotification():
			c.handleNotification(ctx, &msg)
		case len(msg.ID) > 0:
			c.deliver(&msg)
		default:
			c.logger.Warn().Msg("Dropping message without method or id")
		}
	}
}

// SendRequest sends a request and decodes the peer's result into result
// (which may be nil). It blocks until the response arrives, ctx ends or the
// connection closes.
func (c *Conn) SendRequest(ctx context.Context, method string, params, result any) error {
	id := uuid.NewString()
	rawID, _ := json.Marshal(id)

	ch := make(chan *message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	rawParams, err := marshalParams(params)
	if err != nil {
		return err
	}
	if err := c.write(&message{JSONRPC: "2.0", ID: rawID, Method: method, Params: rawParams}); err != nil {
		return err
	}

	c.logger.Debug().Str("method", method).Str("id", id).Msg("Sent request")

	select {
	case resp := <-ch:
		if resp == nil {
			return ErrClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendNotification sends a notification. It does not wait for the peer.
func (c *Conn) SendNotification(method string, params any) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.write(&message{JSONRPC: "2.0", Method: method, Params: rawParams})
}

func (c *Conn) handleRequest(ctx context.Context, msg *message) {
	c.mu.Lock()
	h, ok := c.handlers[msg.Method]
	c.mu.Unlock()

	resp := &message{JSONRPC: "2.0", ID: msg.ID}
	if !ok {
		resp.Error = &Error{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method}
	} else {
		result, err := callHandler(ctx, h, msg.Params)
		if err != nil {
			var rpcErr *Error
			if errors.As(err, &rpcErr) {
				resp.Error = rpcErr
			} else {
				resp.Error = &Error{Code: CodeInternalError, Message: err.Error()}
			}
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = &Error{Code: CodeInternalError, Message: fmt.Sprintf("encode result: %v", err)}
			} else {
				resp.Result = raw
			}
		}
	}

	if err := c.write(resp); err != nil {
		c.logger.Warn().Err(err).Str("method", msg.Method).Msg("Failed to send response")
	}
}

func (c *Conn) handleNotification(ctx context.Context, msg *message) {
	c.mu.Lock()
	h, ok := c.notifications[msg.Method]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("method", msg.Method).Msg("Unhandled notification")
		return
	}
	h(ctx, msg.Params)
}

func (c *Conn) deliver(msg *message) {
	var id string
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		c.logger.Warn().RawJSON("id", msg.ID).Msg("Response with unknown id type")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		c.logger.Warn().Str("id", id).Msg("Response for unknown request")
		return
	}
	select {
	case ch <- msg:
	default:
		c.logger.Warn().Str("id", id).Msg("Duplicate response dropped")
	}
}

func (c *Conn) write(msg *message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeMessage(c.writer, payload)
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
		delete(c.pending, id)
	}
	close(c.done)
}

// callHandler runs h, turning a panic into an internal error.
func callHandler(ctx context.Context, h Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(ctx, params)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}
