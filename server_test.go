package jrpc

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"
)

// Integration test types
type EchoRequest struct {
	Message string `json:"message"`
}

type EchoResponse struct {
	Message string `json:"message"`
}

type SlowRequest struct {
	Millis int `json:"millis"`
}

type SlowResponse struct {
	Completed bool `json:"completed"`
}

type BroadcastRequest struct {
	Message string `json:"message"`
}

type BroadcastResponse struct {
	Sent bool `json:"sent"`
}

type NotificationEvent struct {
	Message string `json:"message"`
}

// Integration test handlers
type IntegrationHandlers struct {
	server *Server
}

func (h *IntegrationHandlers) Echo(ctx context.Context, req *EchoRequest) (*EchoResponse, error) {
	return &EchoResponse{Message: req.Message}, nil
}

func (h *IntegrationHandlers) Slow(ctx context.Context, req *SlowRequest) (*SlowResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ErrCanceled()
	case <-time.After(time.Duration(req.Millis) * time.Millisecond):
		return &SlowResponse{Completed: true}, nil
	}
}

func (h *IntegrationHandlers) Fail(ctx context.Context, req *EchoRequest) (*EchoResponse, error) {
	return nil, ErrInvalidParams("always fails")
}

func (h *IntegrationHandlers) TriggerBroadcast(ctx context.Context, req *BroadcastRequest) (*BroadcastResponse, error) {
	h.server.Broadcast("Notification", &NotificationEvent{Message: req.Message})
	return &BroadcastResponse{Sent: true}, nil
}

func (h *IntegrationHandlers) TriggerNotify(ctx context.Context, req *BroadcastRequest) (*BroadcastResponse, error) {
	conn := Connection(ctx)
	if conn != nil {
		conn.Notify("Notification", &NotificationEvent{Message: req.Message})
	}
	return &BroadcastResponse{Sent: true}, nil
}

func setupTestServer(t *testing.T) (*httptest.Server, *Server, *IntegrationHandlers) {
	registry := NewRegistry()
	handlers := &IntegrationHandlers{}
	if err := registry.Register(handlers); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	server := NewServer(registry)
	handlers.server = server

	ts := httptest.NewServer(server)
	return ts, server, handlers
}

func connectWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	return ws
}

func writeRequest(t *testing.T, ws *websocket.Conn, id, method, params string) {
	t.Helper()
	msg := RequestMessage{Version: Version, Method: method}
	if id != "" {
		msg.ID = jsontext.Value(id)
	}
	if params != "" {
		msg.Params = jsontext.Value(params)
	}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func readResponse(t *testing.T, ws *websocket.Conn) ResponseMessage {
	t.Helper()
	var resp ResponseMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return resp
}

func TestServerEcho(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	writeRequest(t, ws, `"1"`, "Echo", `{"message":"hello"}`)

	resp := readResponse(t, ws)
	if string(resp.ID) != `"1"` {
		t.Errorf("Expected ID \"1\", got %s", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	result, _ := json.Marshal(resp.Result)
	if !strings.Contains(string(result), "hello") {
		t.Errorf("Expected hello in result, got %s", string(result))
	}
}

func TestServerNumericID(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	writeRequest(t, ws, `42`, "Echo", `{"message":"hi"}`)

	resp := readResponse(t, ws)
	if string(resp.ID) != "42" {
		t.Errorf("Expected numeric id echoed verbatim, got %s", resp.ID)
	}
}

func TestServerMethodNotFound(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	writeRequest(t, ws, `"1"`, "NoSuchMethod", "")

	resp := readResponse(t, ws)
	if resp.Error == nil {
		t.Fatal("Expected error response")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Expected code %d, got %d", CodeMethodNotFound, resp.Error.Code)
	}
}

func TestServerInvalidParams(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	// Scalar params are rejected before the handler runs
	writeRequest(t, ws, `"1"`, "Echo", `42`)

	resp := readResponse(t, ws)
	if resp.Error == nil {
		t.Fatal("Expected error response")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("Expected code %d, got %d", CodeInvalidParams, resp.Error.Code)
	}
}

func TestServerParseError(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	resp := readResponse(t, ws)
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("Expected parse error, got %+v", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Errorf("Expected null id, got %s", resp.ID)
	}
}

func TestServerInvalidVersion(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"1.0","id":1,"method":"Echo"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	resp := readResponse(t, ws)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("Expected invalid request error, got %+v", resp.Error)
	}
}

func TestServerNotificationGetsNoResponse(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	// A notification, even a failing one, never produces a response
	writeRequest(t, ws, "", "Fail", `{"message":"x"}`)
	writeRequest(t, ws, `"2"`, "Echo", `{"message":"after"}`)

	resp := readResponse(t, ws)
	if string(resp.ID) != `"2"` {
		t.Errorf("Expected the reply for the request, got id %s", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("Unexpected error: %+v", resp.Error)
	}
}

func TestServerBatch(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	batch := `[
		{"jsonrpc":"2.0","id":1,"method":"Echo","params":{"message":"a"}},
		{"jsonrpc":"2.0","method":"Echo","params":{"message":"notification"}},
		{"jsonrpc":"2.0","id":2,"method":"NoSuchMethod"}
	]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(batch)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var responses []ResponseMessage
	if err := json.Unmarshal(data, &responses); err != nil {
		t.Fatalf("Expected a batch response array, got %s", data)
	}
	if len(responses) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(responses))
	}
	if string(responses[0].ID) != "1" || responses[0].Error != nil {
		t.Errorf("Unexpected first response: %+v", responses[0])
	}
	if string(responses[1].ID) != "2" || responses[1].Error == nil || responses[1].Error.Code != CodeMethodNotFound {
		t.Errorf("Unexpected second response: %+v", responses[1])
	}
}

func TestServerEmptyBatch(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`[]`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	resp := readResponse(t, ws)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("Expected invalid request error, got %+v", resp.Error)
	}
}

func TestServerCancel(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	writeRequest(t, ws, `"slow"`, "Slow", `{"millis":5000}`)
	time.Sleep(50 * time.Millisecond)
	writeRequest(t, ws, "", MethodCancel, `{"id":"slow"}`)

	resp := readResponse(t, ws)
	if string(resp.ID) != `"slow"` {
		t.Errorf("Expected id \"slow\", got %s", resp.ID)
	}
	if resp.Error == nil || resp.Error.Code != CodeCanceled {
		t.Fatalf("Expected canceled error, got %+v", resp.Error)
	}
}

func TestServerBroadcast(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	writeRequest(t, ws, `"1"`, "TriggerBroadcast", `{"message":"fanout"}`)

	sawNotification := false
	sawResponse := false
	for i := 0; i < 2; i++ {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if strings.Contains(string(data), `"method":"Notification"`) {
			sawNotification = true
		}
		if strings.Contains(string(data), `"id":"1"`) {
			sawResponse = true
		}
	}
	if !sawNotification {
		t.Error("Expected a Notification push")
	}
	if !sawResponse {
		t.Error("Expected the request response")
	}
}

func TestServerNotifyTargetsConnection(t *testing.T) {
	ts, _, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	writeRequest(t, ws, `"1"`, "TriggerNotify", `{"message":"direct"}`)

	sawNotification := false
	for i := 0; i < 2; i++ {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if strings.Contains(string(data), `"direct"`) && strings.Contains(string(data), `"method"`) {
			sawNotification = true
		}
	}
	if !sawNotification {
		t.Error("Expected a targeted notification")
	}
}

func TestServerConnectionCount(t *testing.T) {
	ts, server, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.ConnectionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 1 connection, got %d", server.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerShutdown(t *testing.T) {
	ts, server, _ := setupTestServer(t)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// New connections are refused while stopping
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail after shutdown")
	}
	if resp != nil && resp.StatusCode != 503 {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestConnectHookRejects(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&IntegrationHandlers{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	server := NewServer(registry)
	server.OnConnect(func(ctx context.Context, conn *Conn) error {
		return NewError(CodeInvalidRequest, "not welcome")
	})

	ts := httptest.NewServer(server)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	resp := readResponse(t, ws)
	if resp.Error == nil || resp.Error.Message != "not welcome" {
		t.Fatalf("Expected rejection error, got %+v", resp.Error)
	}

	// The server should close the connection after rejecting
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed")
	}
}

func TestDisconnectHookRuns(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&IntegrationHandlers{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	server := NewServer(registry)

	disconnected := make(chan uint64, 1)
	server.OnDisconnect(func(ctx context.Context, conn *Conn) {
		disconnected <- conn.ID()
	})

	ts := httptest.NewServer(server)
	defer ts.Close()

	ws := connectWS(t, ts)
	ws.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect hook did not run")
	}
}

func TestNotifyUser(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&IntegrationHandlers{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	server := NewServer(registry)
	server.OnConnect(func(ctx context.Context, conn *Conn) error {
		conn.SetUserID("user-1")
		return nil
	})

	ts := httptest.NewServer(server)
	defer ts.Close()

	ws := connectWS(t, ts)
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.ConnectionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	server.NotifyUser("user-1", "Notification", &NotificationEvent{Message: "for you"})

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.Contains(string(data), "for you") {
		t.Errorf("Expected targeted notification, got %s", data)
	}
}
