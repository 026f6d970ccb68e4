// Package jrpc implements a JSON-RPC 2.0 server library.
//
// Handlers are plain methods with the signature
// func(ctx context.Context, req *T) (*U, error), registered from a struct's
// method set into a [Registry] and served over WebSocket or SSE+HTTP
// transports by a [Server]. Request parameters reach handler code through
// [ParamsView], a read-only accessor that works uniformly over positional
// (array) and named (object) params.
//
// Requests without an id are notifications and never receive a response.
// Batch arrays are dispatched per the JSON-RPC 2.0 specification. An
// in-flight request can be canceled with a "rpc.cancel" notification
// carrying the request's id.
package jrpc
