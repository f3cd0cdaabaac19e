package mcpvalidate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
)

// ErrMaxDepthExceeded is returned (wrapped) when a JSON value's nesting
// exceeds the configured Limits.MaxDepth. The caller maps this to
// jsonrpc.CodeMaxDepthExceeded.
var ErrMaxDepthExceeded = errors.New("mcpvalidate: max depth exceeded")

// Validator applies structural and semantic checks to JSON-RPC messages
// and MCP payloads.
type Validator struct {
	limits Limits
}

// NewValidator builds a Validator with the given limits; zero fields
// fall back to DefaultLimits.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits.withDefaults()}
}

// ValidateMessage performs structural validation on raw bytes ahead of
// full jsonrpc.Parse: message size and, once decoded, depth/array/string
// bounds on params/result/error.data. It does not itself call
// jsonrpc.Parse — callers run this before or alongside the codec,
// feeding the same bytes.
func (v *Validator) ValidateMessage(data []byte) (Result, error) {
	var res Result
	if len(data) > v.limits.MaxMessageSize {
		res.addError("$", "MESSAGE_TOO_LARGE", "message is %d bytes, exceeds limit of %d", len(data), v.limits.MaxMessageSize)
		return res, nil
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		res.addError("$", "PARSE_ERROR", "invalid JSON: %v", err)
		return res, nil
	}

	if arr, ok := raw.([]any); ok {
		if len(arr) == 0 {
			res.addError("$", "INVALID_REQUEST", "batch must not be empty")
			return res, nil
		}
		if len(arr) > v.limits.MaxBatchSize {
			res.addError("$", "BATCH_TOO_LARGE", "batch has %d entries, exceeds limit of %d", len(arr), v.limits.MaxBatchSize)
			return res, nil
		}
	}

	if err := v.checkDepth(raw, "$", 1); err != nil {
		res.addError("$", "MAX_DEPTH_EXCEEDED", "%v", err)
		return res, fmt.Errorf("%w", ErrMaxDepthExceeded)
	}
	v.checkSizes(raw, "$", &res)

	return res, nil
}

func (v *Validator) checkDepth(value any, path string, depth int) error {
	if depth > v.limits.MaxDepth {
		return fmt.Errorf("%s exceeds max depth %d", path, v.limits.MaxDepth)
	}
	switch t := value.(type) {
	case map[string]any:
		for k, val := range t {
			if err := v.checkDepth(val, path+"."+k, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for i, val := range t {
			if err := v.checkDepth(val, fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) checkSizes(value any, path string, res *Result) {
	switch t := value.(type) {
	case string:
		if len(t) > v.limits.MaxStringLen {
			res.addError(path, "STRING_TOO_LONG", "string is %d bytes, exceeds limit of %d", len(t), v.limits.MaxStringLen)
		}
	case map[string]any:
		for k, val := range t {
			v.checkSizes(val, path+"."+k, res)
		}
	case []any:
		if len(t) > v.limits.MaxArrayLen {
			res.addError(path, "ARRAY_TOO_LONG", "array has %d elements, exceeds limit of %d", len(t), v.limits.MaxArrayLen)
		}
		for i, val := range t {
			v.checkSizes(val, fmt.Sprintf("%s[%d]", path, i), res)
		}
	}
}

// ValidateMethodName checks a method name against
// ^[a-zA-Z][a-zA-Z0-9_/]*$.
func ValidateMethodName(method string) error {
	if !methodNameRE.MatchString(method) {
		return fmt.Errorf("mcpvalidate: invalid method name %q", method)
	}
	return nil
}

// ValidateResponseShape checks that a jsonrpc.Response carries exactly
// one of result/error, a structural invariant the codec already enforces
// on parse but which is re-checked here for responses built by handlers
// before serialization.
func ValidateResponseShape(resp *jsonrpc.Response) error {
	hasResult := resp.Result != nil
	hasError := resp.Error != nil
	if hasResult == hasError {
		return fmt.Errorf("mcpvalidate: response must have exactly one of result/error, got result=%v error=%v", hasResult, hasError)
	}
	return nil
}
