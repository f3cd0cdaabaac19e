package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParsedMessage is the sum type returned by Parse: exactly one field is
// non-nil.
type ParsedMessage struct {
	Request      *Request
	Notification *Notification
	Response     *Response
	Batch        Batch
}

// ParseError wraps a JSON decode failure with the JSON-RPC ParseError
// code, so transports can respond with a null-id error response per the
// spec ("malformed JSON ... response with null id").
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("jsonrpc: parse error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// InvalidRequestError reports a structurally invalid JSON-RPC message
// (wrong jsonrpc version, missing required fields, empty batch, etc).
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("jsonrpc: invalid request: %s", e.Reason)
}

// Parse decodes a single JSON-RPC message or a batch from raw bytes.
//
// A standalone object decodes into exactly one of Request, Notification,
// or Response. A JSON array decodes into Batch, with each element
// classified the same way (responses are not valid batch elements from a
// client and are rejected as InvalidRequestError). An empty array yields
// an *InvalidRequestError (reason "empty batch") so callers can respond
// with code -32600.
func Parse(data []byte) (*ParsedMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: fmt.Errorf("empty input")}
	}

	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, &ParseError{Err: err}
		}
		if len(raws) == 0 {
			return nil, &InvalidRequestError{Reason: "empty batch"}
		}
		batch := make(Batch, 0, len(raws))
		for _, raw := range raws {
			entry, err := parseSingle(raw)
			if err != nil {
				return nil, err
			}
			if entry.Request == nil && entry.Notification == nil {
				return nil, &InvalidRequestError{Reason: "batch entry must be a request or notification"}
			}
			batch = append(batch, BatchEntry{Request: entry.Request, Notification: entry.Notification})
		}
		return &ParsedMessage{Batch: batch}, nil
	}

	entry, err := parseSingle(trimmed)
	if err != nil {
		return nil, err
	}
	if entry.Request != nil {
		return &ParsedMessage{Request: entry.Request}, nil
	}
	if entry.Notification != nil {
		return &ParsedMessage{Notification: entry.Notification}, nil
	}
	return &ParsedMessage{Response: entry.response}, nil
}

// parsedSingle is an internal superset of BatchEntry that also
// allows a Response, used while classifying a standalone message before
// we know which of the three shapes it is.
type parsedSingle struct {
	Request      *Request
	Notification *Notification
	response     *Response
}

func parseSingle(raw json.RawMessage) (parsedSingle, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return parsedSingle{}, &ParseError{Err: err}
	}
	if env.JSONRPC != protocolVersion {
		return parsedSingle{}, &InvalidRequestError{Reason: fmt.Sprintf("jsonrpc must be %q, got %q", protocolVersion, env.JSONRPC)}
	}

	if env.isResponse() {
		var id ID
		if len(env.ID) > 0 {
			if err := json.Unmarshal(env.ID, &id); err != nil {
				return parsedSingle{}, &InvalidRequestError{Reason: "invalid response id: " + err.Error()}
			}
		}
		resp := &Response{ID: id}
		switch {
		case env.Error != nil:
			var eo ErrorObject
			if err := json.Unmarshal(env.Error, &eo); err != nil {
				return parsedSingle{}, &InvalidRequestError{Reason: "invalid error object: " + err.Error()}
			}
			resp.Error = &eo
		case env.Result != nil:
			resp.Result = env.Result
		default:
			return parsedSingle{}, &InvalidRequestError{Reason: "response must have exactly one of result/error"}
		}
		return parsedSingle{response: resp}, nil
	}

	if env.Method == "" {
		return parsedSingle{}, &InvalidRequestError{Reason: "missing method"}
	}
	if !methodNameRE.MatchString(env.Method) {
		return parsedSingle{}, &InvalidRequestError{Reason: fmt.Sprintf("invalid method name %q", env.Method)}
	}

	if env.hasID() {
		var id ID
		if err := json.Unmarshal(env.ID, &id); err != nil {
			return parsedSingle{}, &InvalidRequestError{Reason: "invalid request id: " + err.Error()}
		}
		return parsedSingle{Request: &Request{ID: id, Method: env.Method, Params: env.Params}}, nil
	}
	return parsedSingle{Notification: &Notification{Method: env.Method, Params: env.Params}}, nil
}

// Serialize renders a Request, Notification, Response, or Batch as
// compact JSON with no trailing newline; newline-framed transports
// append the delimiter themselves. Compact encoding never embeds a literal
// 0x0A/0x0D inside the payload itself; encoding/json already escapes
// control characters within string values.
func Serialize(v any) ([]byte, error) {
	var payload any
	switch m := v.(type) {
	case *Request:
		payload = requestWire{JSONRPC: protocolVersion, ID: m.ID, Method: m.Method, Params: m.Params}
	case *Notification:
		payload = notificationWire{JSONRPC: protocolVersion, Method: m.Method, Params: m.Params}
	case *Response:
		w := responseWire{JSONRPC: protocolVersion, ID: m.ID}
		if m.IsError() {
			w.Error = m.Error
		} else {
			w.Result = m.Result
			if w.Result == nil {
				w.Result = json.RawMessage("null")
			}
		}
		payload = w
	case Batch:
		arr := make([]any, 0, len(m))
		for _, entry := range m {
			if entry.Request != nil {
				arr = append(arr, requestWire{JSONRPC: protocolVersion, ID: entry.Request.ID, Method: entry.Request.Method, Params: entry.Request.Params})
			} else {
				arr = append(arr, notificationWire{JSONRPC: protocolVersion, Method: entry.Notification.Method, Params: entry.Notification.Params})
			}
		}
		payload = arr
	case []*Response:
		arr := make([]json.RawMessage, 0, len(m))
		for _, r := range m {
			b, err := Serialize(r)
			if err != nil {
				return nil, err
			}
			arr = append(arr, b)
		}
		payload = arr
	default:
		return nil, fmt.Errorf("jsonrpc: cannot serialize %T", v)
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: serialize: %w", err)
	}
	return buf, nil
}

type requestWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type notificationWire struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type responseWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// SerializeBatchResponses builds the JSON array of responses for a
// batch, preserving request order and omitting entries for
// notifications (which contribute no response). An all-notification
// batch yields a nil slice, the signal to callers that no HTTP body (or
// wire message at all) should be sent.
func SerializeBatchResponses(responses []*Response) ([]byte, error) {
	if len(responses) == 0 {
		return nil, nil
	}
	return Serialize(responses)
}
