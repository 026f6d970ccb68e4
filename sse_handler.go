package jrpc

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-json-experiment/json"
)

// ConnectionIDHeader carries the stream correlation id on POSTed frames.
const ConnectionIDHeader = "X-Connection-Id"

// sseHandler handles the SSE+HTTP transport: a GET opens the server-to-
// client event stream, a POST submits a JSON-RPC frame (single or batch)
// correlated to a stream by the X-Connection-Id header.
type sseHandler struct {
	server      *Server
	connections map[string]*Conn
	mu          sync.RWMutex
}

func newSSEHandler(s *Server) *sseHandler {
	return &sseHandler{
		server:      s,
		connections: make(map[string]*Conn),
	}
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleSSE(w, r)
	case http.MethodPost:
		h.handleRPC(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *sseHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if h.server.stopping.Load() {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Generate connection ID
	connectionID := generateConnectionID()

	// Create transport and connection
	sseT := newSSETransport(w, flusher)
	connID := atomic.AddUint64(&h.server.nextConnID, 1)
	conn := newConn(sseT, h.server, connID, r, r.Context())

	// Run connect hooks
	if err := h.server.runConnectHooks(r.Context(), conn); err != nil {
		resp := errorResponseFor(nil, err)
		data, _ := json.Marshal(resp)
		sseT.sendEvent("error", data)
		return
	}

	// Send connected event with connection ID
	connData, _ := json.Marshal(struct {
		ConnectionID string `json:"connectionId"`
	}{ConnectionID: connectionID})
	sseT.sendEvent("connected", connData)

	// Register connection
	h.mu.Lock()
	h.connections[connectionID] = conn
	h.mu.Unlock()

	h.server.register <- conn

	// Keep-alive loop, blocks until client disconnects
	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected — close transport first to drain in-flight writes
			// before the HTTP server finalizes the response writer.
			sseT.Close()
			h.mu.Lock()
			delete(h.connections, connectionID)
			h.mu.Unlock()
			h.server.unregister <- conn
			return
		case <-sseT.done:
			// Transport was closed (e.g. by server shutdown)
			h.mu.Lock()
			delete(h.connections, connectionID)
			h.mu.Unlock()
			h.server.unregister <- conn
			return
		case <-keepAlive.C:
			sseT.sendComment("keep-alive")
		}
	}
}

func (h *sseHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	if h.server.stopping.Load() {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}

	connectionID := r.Header.Get(ConnectionIDHeader)
	h.mu.RLock()
	conn, ok := h.connections[connectionID]
	h.mu.RUnlock()

	if !ok {
		http.Error(w, "unknown connection ID", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// The body is a plain JSON-RPC frame; responses arrive on the stream.
	conn.handleIncoming(body)
	w.WriteHeader(http.StatusAccepted)
}

func generateConnectionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
