package jrpc

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// MethodCancel is the reserved notification method that cancels an
// in-flight request. Its params are an object {"id": <request id>} where
// the id must match the original request's id byte-for-byte.
const MethodCancel = "rpc.cancel"

// Conn represents a single client connection, independent of transport.
type Conn struct {
	id        uint64
	transport transport
	server    *Server
	httpReq   *http.Request
	ctx       context.Context
	userID    string
	requests  map[string]context.CancelFunc // raw request id -> cancel
	mu        sync.Mutex
	closed    bool
}

func newConn(t transport, server *Server, id uint64, r *http.Request, ctx context.Context) *Conn {
	return &Conn{
		id:        id,
		transport: t,
		server:    server,
		httpReq:   r,
		ctx:       ctx,
		requests:  make(map[string]context.CancelFunc),
	}
}

// ID returns the server-assigned connection id.
func (c *Conn) ID() uint64 {
	return c.id
}

// HTTPRequest returns the HTTP request that established the connection.
// Returns nil for test connections.
func (c *Conn) HTTPRequest() *http.Request {
	return c.httpReq
}

// UserID returns the user id associated with the connection, if any.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SetUserID associates the connection with a user id, making it reachable
// through Server.NotifyUser. Typically called from a connect hook or a
// login handler.
func (c *Conn) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	c.server.associateUser(c, userID)
}

// Notify sends a server-initiated notification to this connection.
func (c *Conn) Notify(method string, params any) error {
	return c.sendJSON(newNotification(method, params))
}

func (c *Conn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.transport.Send(data)
}

func (c *Conn) registerRequest(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[id] = cancel
}

func (c *Conn) unregisterRequest(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.requests, id)
}

func (c *Conn) cancelRequest(id string) {
	c.mu.Lock()
	cancel, ok := c.requests[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// handleIncoming parses one frame from the transport and dispatches it.
// A frame is either a single request/notification or a batch array.
func (c *Conn) handleIncoming(data []byte) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		c.handleBatch(data)
		return
	}

	var msg RequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendJSON(newErrorResponse(nil, CodeParseError, "invalid JSON"))
		return
	}

	c.server.requestsWg.Add(1)
	go func() {
		defer c.server.requestsWg.Done()
		if resp := c.dispatch(&msg); resp != nil {
			c.sendJSON(*resp)
		}
	}()
}

// handleBatch dispatches every call of a batch and replies with a single
// array containing the responses of the non-notification calls, in call
// order. A batch consisting only of notifications gets no reply at all.
func (c *Conn) handleBatch(data []byte) {
	var calls []jsontext.Value
	if err := json.Unmarshal(data, &calls); err != nil {
		c.sendJSON(newErrorResponse(nil, CodeParseError, "invalid JSON"))
		return
	}
	if len(calls) == 0 {
		c.sendJSON(newErrorResponse(nil, CodeInvalidRequest, "invalid request: empty batch"))
		return
	}

	c.server.requestsWg.Add(1)
	go func() {
		defer c.server.requestsWg.Done()
		responses := make([]ResponseMessage, 0, len(calls))
		for _, call := range calls {
			var msg RequestMessage
			if err := json.Unmarshal(call, &msg); err != nil {
				responses = append(responses, newErrorResponse(nil, CodeInvalidRequest, "invalid request"))
				continue
			}
			if resp := c.dispatch(&msg); resp != nil {
				responses = append(responses, *resp)
			}
		}
		if len(responses) > 0 {
			c.sendJSON(responses)
		}
	}()
}

// dispatch runs a single request or notification through the middleware
// chain and handler. It returns nil when no response is owed, which is the
// case for every notification regardless of outcome.
func (c *Conn) dispatch(msg *RequestMessage) *ResponseMessage {
	isNotification := msg.IsNotification()
	respond := func(r ResponseMessage) *ResponseMessage {
		if isNotification {
			return nil
		}
		return &r
	}

	if msg.Version != Version {
		return respond(newErrorResponse(msg.ID, CodeInvalidRequest, "invalid request: unsupported protocol version"))
	}

	if msg.Method == MethodCancel {
		c.handleCancel(msg.Params)
		return nil
	}

	info, ok := c.server.registry.Get(msg.Method)
	if !ok {
		return respond(newErrorResponse(msg.ID, CodeMethodNotFound, "method not found: "+msg.Method))
	}

	params, err := ParseParams(msg.Params)
	if err != nil {
		return respond(errorResponseFor(msg.ID, err))
	}

	base := c.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	defer cancel()

	if !isNotification {
		key := string(msg.ID)
		c.registerRequest(key, cancel)
		defer c.unregisterRequest(key)
	}

	req := &Request{ID: msg.ID, Method: msg.Method, Params: params.View()}
	ctx = withConnection(ctx, c)
	ctx = withRequest(ctx, req)
	ctx = withHandlerInfo(ctx, info)

	for _, i := range c.server.interceptors {
		ctx = i.BeforeRequest(ctx)
	}

	handler := c.server.buildHandler(info)
	result, err := handler(ctx, req)

	for _, i := range c.server.interceptors {
		i.AfterRequest(ctx, err)
	}

	if ctx.Err() == context.Canceled {
		return respond(newErrorResponse(msg.ID, CodeCanceled, "request canceled"))
	}

	if err != nil {
		return respond(errorResponseFor(msg.ID, err))
	}

	return respond(newResponse(msg.ID, result))
}

// handleCancel cancels the in-flight request named by a rpc.cancel
// notification. Malformed cancel params are ignored.
func (c *Conn) handleCancel(raw jsontext.Value) {
	params, err := ParseParams(raw)
	if err != nil {
		return
	}
	id, ok := params.View().GetRaw(Named("id"))
	if !ok {
		return
	}
	c.cancelRequest(string(id))
}

func errorResponseFor(id jsontext.Value, err error) ResponseMessage {
	if perr, ok := err.(*ProtocolError); ok {
		return newErrorResponse(id, perr.Code, perr.Message)
	}
	return newErrorResponse(id, CodeInternalError, err.Error())
}

func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	// Cancel all pending requests
	for _, cancel := range c.requests {
		cancel()
	}
	c.mu.Unlock()
	c.transport.Close()
}

func (c *Conn) closeGracefully() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, cancel := range c.requests {
		cancel()
	}
	c.mu.Unlock()
	c.transport.CloseGracefully()
}
