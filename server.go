package jrpc

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
)

// ConnectHook is called when a new connection is established.
// Return an error to reject the connection.
type ConnectHook func(ctx context.Context, conn *Conn) error

// DisconnectHook is called when a connection is closed.
type DisconnectHook func(ctx context.Context, conn *Conn)

// ServerOptions configures transport-level behavior.
type ServerOptions struct {
	// PingInterval is how often a WebSocket ping is sent. Default: 30s
	PingInterval time.Duration
	// PongTimeout is how long to wait for a pong before the connection
	// is considered dead. Default: 10s
	PongTimeout time.Duration
	// WriteTimeout bounds a single outgoing write. Default: 10s
	WriteTimeout time.Duration
	// MaxMessageSize limits the size of an incoming frame in bytes.
	// 0 = unlimited. Default: 0
	MaxMessageSize int64
}

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		PingInterval: 30 * time.Second,
		PongTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server manages client connections and handler dispatch.
type Server struct {
	registry        *Registry
	upgrader        websocket.Upgrader
	conns           map[*Conn]struct{}
	userConns       map[string]map[*Conn]struct{} // userID -> connections
	mu              sync.RWMutex
	register        chan *Conn
	unregister      chan *Conn
	middleware      []Middleware
	nextConnID      uint64 // atomic counter for connection IDs
	options         ServerOptions
	connectHooks    []ConnectHook
	disconnectHooks []DisconnectHook
	interceptors    []RequestInterceptor
	stopping        atomic.Bool
	requestsWg      sync.WaitGroup
}

// NewServer creates a new server with the given registry.
// An optional ServerOptions can be passed to configure transport behavior.
func NewServer(registry *Registry, opts ...ServerOptions) *Server {
	options := defaultServerOptions()
	if len(opts) > 0 {
		// Merge provided options with defaults
		opt := opts[0]
		if opt.PingInterval > 0 {
			options.PingInterval = opt.PingInterval
		}
		if opt.PongTimeout > 0 {
			options.PongTimeout = opt.PongTimeout
		}
		if opt.WriteTimeout > 0 {
			options.WriteTimeout = opt.WriteTimeout
		}
		if opt.MaxMessageSize > 0 {
			options.MaxMessageSize = opt.MaxMessageSize
		}
	}

	s := &Server{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins by default
			},
		},
		conns:      make(map[*Conn]struct{}),
		userConns:  make(map[string]map[*Conn]struct{}),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		middleware: []Middleware{},
		options:    options,
	}
	go s.run()
	return s
}

// Use adds middleware to the chain.
// Middleware is executed in the order it is added.
func (s *Server) Use(mw ...Middleware) {
	s.middleware = append(s.middleware, mw...)
}

// AddInterceptor registers a request interceptor. Interceptors run around
// the whole middleware chain, in registration order.
func (s *Server) AddInterceptor(i RequestInterceptor) {
	s.interceptors = append(s.interceptors, i)
}

// OnConnect registers a hook to be called when a new connection is established.
// Hooks are called in the order they are registered.
// If a hook returns an error, the connection is rejected and subsequent hooks are not called.
func (s *Server) OnConnect(hook ConnectHook) {
	s.connectHooks = append(s.connectHooks, hook)
}

// OnDisconnect registers a hook to be called when a connection is closed.
// Hooks are called in the order they are registered.
// The connection's UserID is still available when the hook is called.
func (s *Server) OnDisconnect(hook DisconnectHook) {
	s.disconnectHooks = append(s.disconnectHooks, hook)
}

// runConnectHooks executes all connect hooks in order.
// Returns the first error encountered, or nil if all hooks succeed.
func (s *Server) runConnectHooks(ctx context.Context, conn *Conn) error {
	for _, hook := range s.connectHooks {
		if err := hook(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// runDisconnectHooks executes all disconnect hooks in order.
func (s *Server) runDisconnectHooks(conn *Conn) {
	ctx := conn.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, hook := range s.disconnectHooks {
		hook(ctx, conn)
	}
}

// buildHandler creates the middleware chain for a handler.
// The chain is: server middleware -> handler middleware -> actual handler
// Server middleware is outermost (executed first on request, last on response).
func (s *Server) buildHandler(info *HandlerInfo) Handler {
	// The final handler that calls the actual method
	final := func(ctx context.Context, req *Request) (any, error) {
		return info.Call(ctx, req.Params)
	}

	handler := final

	// Apply handler-specific middleware (inner layer)
	handlerMW := s.registry.GetMiddleware(info.Name)
	for i := len(handlerMW) - 1; i >= 0; i-- {
		handler = handlerMW[i](handler)
	}

	// Apply server middleware (outer layer)
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}

	return handler
}

// NotifyUser sends a notification to all connections for a specific user.
func (s *Server) NotifyUser(userID string, method string, params any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conns, ok := s.userConns[userID]; ok {
		for conn := range conns {
			conn.Notify(method, params)
		}
	}
}

// associateUser registers a connection with a user ID.
func (s *Server) associateUser(conn *Conn, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userConns[userID] == nil {
		s.userConns[userID] = make(map[*Conn]struct{})
	}
	s.userConns[userID][conn] = struct{}{}
}

// disassociateUser removes a connection from user tracking.
func (s *Server) disassociateUser(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn.userID != "" {
		if conns, ok := s.userConns[conn.userID]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(s.userConns, conn.userID)
			}
		}
	}
}

// SetCheckOrigin sets the origin check function for the WebSocket upgrader.
func (s *Server) SetCheckOrigin(f func(r *http.Request) bool) {
	s.upgrader.CheckOrigin = f
}

// ServeHTTP implements http.Handler for WebSocket upgrades.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.stopping.Load() {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t := newWSTransport(ws, s.options)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	ctx := r.Context()
	conn := newConn(t, s, connID, r, ctx)

	// Run connect hooks before starting message processing. The rejection
	// is written directly since the write pump is not running yet.
	if err := s.runConnectHooks(ctx, conn); err != nil {
		if data, merr := json.Marshal(errorResponseFor(nil, err)); merr == nil {
			ws.WriteMessage(websocket.TextMessage, data)
		}
		ws.Close()
		return
	}

	s.register <- conn

	go t.writePump()
	t.readPump(conn)
}

// SSEHandler returns an http.Handler serving the SSE+HTTP transport:
// GET opens the event stream, POST submits JSON-RPC frames.
func (s *Server) SSEHandler() http.Handler {
	return newSSEHandler(s)
}

// Broadcast sends a notification to all connected clients.
func (s *Server) Broadcast(method string, params any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn := range s.conns {
		conn.Notify(method, params)
	}
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown stops accepting new connections, waits for in-flight requests
// to finish (bounded by ctx), then closes all connections gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)

	done := make(chan struct{})
	go func() {
		s.requestsWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		conn.closeGracefully()
	}
	return nil
}

func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.conns[conn] = struct{}{}
			s.mu.Unlock()
		case conn := <-s.unregister:
			s.mu.Lock()
			_, existed := s.conns[conn]
			if existed {
				delete(s.conns, conn)
			}
			s.mu.Unlock()

			if existed {
				s.runDisconnectHooks(conn) // Before disassociate so UserID() works
				s.disassociateUser(conn)
				conn.close()
			}
		}
	}
}

// Registry returns the server's handler registry.
func (s *Server) Registry() *Registry {
	return s.registry
}
