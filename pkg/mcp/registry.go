package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
	"github.com/mcpcore/mcpcore/pkg/mcpvalidate"
)

// ToolHandler implements one tool's tools/call behavior.
type ToolHandler func(ctx context.Context, session *Session, arguments json.RawMessage) (any, error)

// PromptHandler renders one prompt's prompts/get messages for the
// given arguments.
type PromptHandler func(ctx context.Context, session *Session, arguments map[string]string) (any, error)

// registeredTool pairs a tool declaration with its handler.
type registeredTool struct {
	def     mcpvalidate.Tool
	handler ToolHandler
}

// registeredPrompt pairs a prompt declaration with its renderer.
type registeredPrompt struct {
	def     mcpvalidate.Prompt
	handler PromptHandler
}

// Registry holds the tools, prompts, resources, and resource
// templates this server exposes, and wires the standard dispatch
// methods onto an Engine.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]registeredTool
	prompts   map[string]registeredPrompt
	resources map[string]mcpvalidate.Resource
	templates map[string]mcpvalidate.ResourceTemplate

	minLogLevel string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]registeredTool),
		prompts:   make(map[string]registeredPrompt),
		resources: make(map[string]mcpvalidate.Resource),
		templates: make(map[string]mcpvalidate.ResourceTemplate),
	}
}

// RegisterTool validates and adds a tool declaration with its handler.
func (r *Registry) RegisterTool(def mcpvalidate.Tool, handler ToolHandler) error {
	if res := mcpvalidate.ValidateTool(def, "tool"); !res.Valid() {
		return fmt.Errorf("mcp: invalid tool %q: %v", def.Name, res.Errors())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registeredTool{def: def, handler: handler}
	return nil
}

// RegisterPrompt validates and adds a prompt declaration with its
// renderer; handler may be nil for a prompt that only ever appears in
// prompts/list.
func (r *Registry) RegisterPrompt(def mcpvalidate.Prompt, handler PromptHandler) error {
	if res := mcpvalidate.ValidatePrompt(def, "prompt"); !res.Valid() {
		return fmt.Errorf("mcp: invalid prompt %q: %v", def.Name, res.Errors())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[def.Name] = registeredPrompt{def: def, handler: handler}
	return nil
}

// RegisterResourceTemplate validates and adds a resource template
// declaration.
func (r *Registry) RegisterResourceTemplate(def mcpvalidate.ResourceTemplate) error {
	if res := mcpvalidate.ValidateResourceTemplate(def, "resourceTemplate"); !res.Valid() {
		return fmt.Errorf("mcp: invalid resource template %q: %v", def.Name, res.Errors())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[def.Name] = def
	return nil
}

// RegisterResource validates and adds a resource declaration.
func (r *Registry) RegisterResource(def mcpvalidate.Resource) error {
	if res := mcpvalidate.ValidateResource(def, "resource"); !res.Valid() {
		return fmt.Errorf("mcp: invalid resource %q: %v", def.URI, res.Errors())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[def.URI] = def
	return nil
}

// BindEngine registers the registry's dispatch-table methods on e.
func (r *Registry) BindEngine(e *Engine) {
	e.Register("ping", r.handlePing)
	e.Register("tools/list", r.handleToolsList)
	e.Register("tools/call", r.handleToolsCall)
	e.Register("prompts/list", r.handlePromptsList)
	e.Register("prompts/get", r.handlePromptsGet)
	e.Register("resources/list", r.handleResourcesList)
	e.Register("resources/read", r.handleResourcesRead)
	e.Register("resources/templates/list", r.handleResourceTemplatesList)
	e.Register("logging/setLevel", r.handleLoggingSetLevel)
}

// handlePing answers the lifecycle-exempt liveness check with an
// empty result object, per the dispatch table's ping entry.
func (r *Registry) handlePing(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	return map[string]any{}, nil
}

func (r *Registry) handleToolsList(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]mcpvalidate.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t.def)
	}
	return map[string]any{"tools": tools}, nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (r *Registry) handleToolsCall(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid tools/call params: "+err.Error(), nil)
	}
	r.mu.RLock()
	tool, ok := r.tools[p.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("unknown tool: %s", p.Name), nil)
	}
	return tool.handler(ctx, session, p.Arguments)
}

func (r *Registry) handlePromptsList(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prompts := make([]mcpvalidate.Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		prompts = append(prompts, p.def)
	}
	return map[string]any{"prompts": prompts}, nil
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (r *Registry) handlePromptsGet(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	var p promptsGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid prompts/get params: "+err.Error(), nil)
	}
	r.mu.RLock()
	prompt, ok := r.prompts[p.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("unknown prompt: %s", p.Name), nil)
	}
	if prompt.handler == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("prompt %s has no renderer", p.Name), nil)
	}
	return prompt.handler(ctx, session, p.Arguments)
}

func (r *Registry) handleResourceTemplatesList(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	templates := make([]mcpvalidate.ResourceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		templates = append(templates, t)
	}
	return map[string]any{"resourceTemplates": templates}, nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "notice": true, "warning": true,
	"error": true, "critical": true, "alert": true, "emergency": true,
}

type loggingSetLevelParams struct {
	Level string `json:"level"`
}

// handleLoggingSetLevel records the session's minimum log level for
// notifications/message filtering; the registry itself does not emit
// log notifications, leaving that to whatever component wraps it.
func (r *Registry) handleLoggingSetLevel(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	var p loggingSetLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid logging/setLevel params: "+err.Error(), nil)
	}
	if !validLogLevels[p.Level] {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("unknown log level: %s", p.Level), nil)
	}
	r.mu.Lock()
	r.minLogLevel = p.Level
	r.mu.Unlock()
	if session != nil {
		session.SetMetadata("logLevel", p.Level)
	}
	return map[string]any{}, nil
}

func (r *Registry) handleResourcesList(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resources := make([]mcpvalidate.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		resources = append(resources, res)
	}
	return map[string]any{"resources": resources}, nil
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

func (r *Registry) handleResourcesRead(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
	var p resourcesReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid resources/read params: "+err.Error(), nil)
	}
	r.mu.RLock()
	res, ok := r.resources[p.URI]
	r.mu.RUnlock()
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("unknown resource: %s", p.URI), nil)
	}
	return map[string]any{"contents": []mcpvalidate.Resource{res}}, nil
}
