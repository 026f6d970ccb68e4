package jrpc

import (
	"bytes"

	"github.com/go-json-experiment/json/jsontext"
)

// Version is the protocol version carried by every message.
const Version = "2.0"

// RequestMessage represents a request or notification from client to
// server. A message without an id is a notification and never receives a
// response. The id and params members are kept raw: the id is echoed back
// verbatim, the params are handed to ParseParams.
type RequestMessage struct {
	Version string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitempty"`
}

var jsonNull = []byte("null")

// IsNotification reports whether the message carries no id. A literal null
// id counts as absent, matching how error responses to unparseable requests
// are addressed.
func (m *RequestMessage) IsNotification() bool {
	return len(m.ID) == 0 || bytes.Equal(m.ID, jsonNull)
}

// ResponseMessage represents a reply from server to client. Exactly one of
// Result and Error is set.
type ResponseMessage struct {
	Version string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id"`
	Result  any            `json:"result,omitzero"`
	Error   *ErrorObject   `json:"error,omitzero"`
}

// ErrorObject is the error member of a failed response.
type ErrorObject struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    jsontext.Value `json:"data,omitempty"`
}

// NotificationMessage represents a server-initiated notification pushed to
// the client (broadcast events, targeted notifies).
type NotificationMessage struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func newResponse(id jsontext.Value, result any) ResponseMessage {
	if len(id) == 0 {
		id = jsontext.Value(jsonNull)
	}
	if result == nil {
		// The result member is mandatory on success.
		result = jsontext.Value(jsonNull)
	}
	return ResponseMessage{Version: Version, ID: id, Result: result}
}

func newErrorResponse(id jsontext.Value, code int, message string) ResponseMessage {
	if len(id) == 0 {
		id = jsontext.Value(jsonNull)
	}
	return ResponseMessage{
		Version: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

func newNotification(method string, params any) NotificationMessage {
	return NotificationMessage{Version: Version, Method: method, Params: params}
}
