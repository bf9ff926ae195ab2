package protocol

import (
	"encoding/json"
	"fmt"
)

// ParseRequest decodes a single JSON-RPC request frame. Malformed frames and
// envelope violations come back as *Error so callers can answer them on the
// wire without inventing codes.
func ParseRequest(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &Error{Code: CodeParseError, Message: fmt.Sprintf("parse error: %v", err)}
	}
	if req.JSONRPC != Version {
		return nil, &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC)}
	}
	if req.Method == "" {
		return nil, &Error{Code: CodeInvalidRequest, Message: "missing method"}
	}
	return &req, nil
}

// DecodeParams unmarshals request params into dst, mapping failures to the
// invalid-params code.
func DecodeParams(req *Request, dst any) *Error {
	if len(req.Params) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(req.Params, dst); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// NewResult builds a success response for the given request ID.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

// NewError builds an error response. A nil id yields the null ID JSON-RPC
// requires for undecodable requests.
func NewError(id json.RawMessage, code int, message string) *Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: Version, Error: &Error{Code: code, Message: message}, ID: id}
}

// NewNotification builds a server-initiated notification.
func NewNotification(method string, params any) *Response {
	return &Response{JSONRPC: Version, Method: method, Params: params}
}

// Encode serializes a response to one wire frame.
func Encode(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}
