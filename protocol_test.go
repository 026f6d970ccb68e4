package jrpc

import (
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

func TestParseRequestMessage(t *testing.T) {
	data := []byte(`{
		"jsonrpc": "2.0",
		"method": "session/new",
		"params": {"workingDirectory": "/tmp/test"},
		"id": 1
	}`)

	var msg RequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if msg.Version != "2.0" {
		t.Errorf("expected jsonrpc 2.0, got %s", msg.Version)
	}
	if msg.Method != "session/new" {
		t.Errorf("expected method session/new, got %s", msg.Method)
	}
	if string(msg.ID) != "1" {
		t.Errorf("expected id 1, got %s", msg.ID)
	}
	if msg.IsNotification() {
		t.Error("expected a request, not a notification")
	}
}

func TestNotificationDetection(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{`{"jsonrpc":"2.0","method":"ping"}`, true},
		{`{"jsonrpc":"2.0","id":null,"method":"ping"}`, true},
		{`{"jsonrpc":"2.0","id":0,"method":"ping"}`, false},
		{`{"jsonrpc":"2.0","id":"","method":"ping"}`, false},
	}
	for _, tt := range tests {
		var msg RequestMessage
		if err := json.Unmarshal([]byte(tt.data), &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.data, err)
		}
		if got := msg.IsNotification(); got != tt.want {
			t.Errorf("%s: IsNotification = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestResponseAlwaysCarriesResult(t *testing.T) {
	resp := newResponse(jsontext.Value(`7`), nil)
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"result":null`) {
		t.Errorf("expected explicit null result, got %s", data)
	}
	if strings.Contains(string(data), `"error"`) {
		t.Errorf("success response must not carry an error member: %s", data)
	}
}

func TestErrorResponseDefaultsToNullID(t *testing.T) {
	resp := newErrorResponse(nil, CodeParseError, "invalid JSON")
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"id":null`) {
		t.Errorf("expected null id, got %s", data)
	}
	if strings.Contains(string(data), `"result"`) {
		t.Errorf("error response must not carry a result member: %s", data)
	}
}

func TestNotificationMessageShape(t *testing.T) {
	msg := newNotification("UserUpdated", map[string]string{"id": "1"})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"jsonrpc":"2.0"`) || !strings.Contains(s, `"method":"UserUpdated"`) {
		t.Errorf("unexpected notification shape: %s", s)
	}
	if strings.Contains(s, `"id"`) && !strings.Contains(s, `{"id":"1"}`) {
		t.Errorf("notification must not carry a top-level id: %s", s)
	}
}
