// Package mcpvalidate implements structural and semantic validation of
// JSON-RPC messages and MCP protocol payloads: size limits, method name
// shape, and the MCP entity types (tools, prompts, resources, content,
// elicitation results, model preferences).
package mcpvalidate

import "regexp"

// Limits bounds the shape of an incoming message. Zero-value fields are
// replaced with DefaultLimits' values by NewValidator.
type Limits struct {
	MaxMessageSize int // bytes, default 10 MiB
	MaxBatchSize   int // entries, default 100
	MaxStringLen   int // bytes, default 1 MiB
	MaxArrayLen    int // default 10k
	MaxDepth       int // default 32
}

// DefaultLimits returns the limits used when a Validator is constructed
// with a zero-value Limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageSize: 10 * 1024 * 1024,
		MaxBatchSize:   100,
		MaxStringLen:   1 * 1024 * 1024,
		MaxArrayLen:    10_000,
		MaxDepth:       32,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = d.MaxMessageSize
	}
	if l.MaxBatchSize <= 0 {
		l.MaxBatchSize = d.MaxBatchSize
	}
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = d.MaxStringLen
	}
	if l.MaxArrayLen <= 0 {
		l.MaxArrayLen = d.MaxArrayLen
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	return l
}

var methodNameRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_/]*$`)

var resourceURIRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
