package jrpc

import "context"

type contextKey int

const (
	connectionKey contextKey = iota
	handlerInfoKey
	requestKey
)

// Connection returns the Conn from the context.
// Returns nil if not present.
func Connection(ctx context.Context) *Conn {
	if c, ok := ctx.Value(connectionKey).(*Conn); ok {
		return c
	}
	return nil
}

// withConnection returns a context with the given connection.
func withConnection(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, connectionKey, c)
}

// HandlerInfoFromContext returns the HandlerInfo from the context.
// Returns nil if not present.
func HandlerInfoFromContext(ctx context.Context) *HandlerInfo {
	if info, ok := ctx.Value(handlerInfoKey).(*HandlerInfo); ok {
		return info
	}
	return nil
}

// RequestFromContext returns the Request from the context.
// Returns nil if not present.
func RequestFromContext(ctx context.Context) *Request {
	if req, ok := ctx.Value(requestKey).(*Request); ok {
		return req
	}
	return nil
}

// withHandlerInfo returns a context with the given handler info.
func withHandlerInfo(ctx context.Context, info *HandlerInfo) context.Context {
	return context.WithValue(ctx, handlerInfoKey, info)
}

// withRequest returns a context with the given request.
func withRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey, req)
}
