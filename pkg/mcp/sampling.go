package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpcore/mcpcore/pkg/mcpvalidate"
)

// SamplingMessage is one entry in a sampling/createMessage request's
// message history.
type SamplingMessage struct {
	Role    string              `json:"role"`
	Content mcpvalidate.Content `json:"content"`
}

// CreateMessageParams is the sampling/createMessage request payload this
// server sends to a capable client.
type CreateMessageParams struct {
	Messages         []SamplingMessage            `json:"messages"`
	ModelPreferences *mcpvalidate.ModelPreferences `json:"modelPreferences,omitempty"`
	SystemPrompt     string                        `json:"systemPrompt,omitempty"`
	MaxTokens        int                           `json:"maxTokens,omitempty"`
}

// CreateMessageResult is the client's sampling/createMessage response.
type CreateMessageResult struct {
	Role    string              `json:"role"`
	Content mcpvalidate.Content `json:"content"`
	Model   string              `json:"model"`
}

// RequestSampling validates params before sending a sampling/createMessage
// request over sender, and validates the client's response content
// before returning it, so a malformed peer never hands the caller an
// unusable result.
func (e *Engine) RequestSampling(ctx context.Context, sender Sender, params CreateMessageParams) (*CreateMessageResult, error) {
	for i, msg := range params.Messages {
		if res := mcpvalidate.ValidateContent(msg.Content, fmt.Sprintf("messages[%d].content", i)); !res.Valid() {
			return nil, fmt.Errorf("mcp: invalid sampling message content: %v", res.Errors())
		}
	}
	if params.ModelPreferences != nil {
		if res := mcpvalidate.ValidateModelPreferences(*params.ModelPreferences, "modelPreferences"); !res.Valid() {
			return nil, fmt.Errorf("mcp: invalid model preferences: %v", res.Errors())
		}
	}

	resp, err := e.SendRequest(ctx, sender, "sampling/createMessage", params)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.Error
	}

	var result CreateMessageResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("mcp: decode sampling result: %w", err)
	}
	if res := mcpvalidate.ValidateContent(result.Content, "result.content"); !res.Valid() {
		return nil, fmt.Errorf("mcp: peer returned invalid sampling content: %v", res.Errors())
	}
	return &result, nil
}

// ElicitRequestParams is the elicitation/create request payload.
type ElicitRequestParams struct {
	Message         string         `json:"message"`
	RequestedSchema map[string]any `json:"requestedSchema"`
}

// RequestElicitation sends an elicitation/create request over sender and
// validates the client's response against params.RequestedSchema before
// returning it.
func (e *Engine) RequestElicitation(ctx context.Context, sender Sender, params ElicitRequestParams) (*mcpvalidate.ElicitationResult, error) {
	resp, err := e.SendRequest(ctx, sender, "elicitation/create", params)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.Error
	}

	var result mcpvalidate.ElicitationResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("mcp: decode elicitation result: %w", err)
	}
	if res := mcpvalidate.ValidateElicitationResult(result, params.RequestedSchema, "result"); !res.Valid() {
		return nil, fmt.Errorf("mcp: peer returned invalid elicitation result: %v", res.Errors())
	}
	return &result, nil
}
