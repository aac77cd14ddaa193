package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC error codes used across every layer of the gateway.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeSecurityDenied = -32000
)

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

// wireMessage is the decoded form of exactly one protocol message. Exactly
// one of the three fields is non-nil.
type wireMessage struct {
	Request      *jsonrpcRequest
	Notification *jsonrpcNotification
	Response     *jsonrpcResponse
}

var errNotAMessage = errors.New("body is not a JSON-RPC message")

// decodeMessage parses a single JSON object and classifies it by field
// presence: method present means request (notification when id is absent),
// otherwise result/error presence means response. Batches are rejected; the
// gateway speaks one message per exchange.
func decodeMessage(data []byte) (*wireMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errNotAMessage
	}
	if trimmed[0] == '[' {
		return nil, errors.New("batch messages are not supported")
	}

	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *jsonrpcError   `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	hasID := len(probe.ID) > 0 && !bytes.Equal(bytes.TrimSpace(probe.ID), []byte("null"))

	if probe.Method != "" {
		if !hasID {
			return &wireMessage{Notification: &jsonrpcNotification{
				JSONRPC: probe.JSONRPC,
				Method:  probe.Method,
				Params:  probe.Params,
			}}, nil
		}
		var id any
		if err := json.Unmarshal(probe.ID, &id); err != nil {
			return nil, fmt.Errorf("parse message id: %w", err)
		}
		return &wireMessage{Request: &jsonrpcRequest{
			JSONRPC: probe.JSONRPC,
			ID:      id,
			Method:  probe.Method,
			Params:  probe.Params,
		}}, nil
	}

	if len(probe.Result) > 0 || probe.Error != nil {
		if len(probe.Result) > 0 && probe.Error != nil {
			return nil, errors.New("response carries both result and error")
		}
		var id any
		if hasID {
			if err := json.Unmarshal(probe.ID, &id); err != nil {
				return nil, fmt.Errorf("parse message id: %w", err)
			}
		}
		resp := &jsonrpcResponse{JSONRPC: probe.JSONRPC, ID: id, Error: probe.Error}
		if len(probe.Result) > 0 {
			var result any
			if err := json.Unmarshal(probe.Result, &result); err != nil {
				return nil, fmt.Errorf("parse message result: %w", err)
			}
			resp.Result = result
		}
		return &wireMessage{Response: resp}, nil
	}

	return nil, errNotAMessage
}

func encodeMessage(m *wireMessage) ([]byte, error) {
	switch {
	case m == nil:
		return nil, errNotAMessage
	case m.Request != nil:
		return json.Marshal(m.Request)
	case m.Notification != nil:
		return json.Marshal(m.Notification)
	case m.Response != nil:
		return json.Marshal(m.Response)
	default:
		return nil, errNotAMessage
	}
}

func rpcError(id any, code int, msg string) jsonrpcResponse {
	return jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg},
	}
}

func rpcOK(id any, result any) jsonrpcResponse {
	return jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}
