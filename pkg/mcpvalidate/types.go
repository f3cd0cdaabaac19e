package mcpvalidate

import "fmt"

// Tool mirrors the wire shape of an MCP tool declaration.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
	Meta        map[string]any `json:"_meta,omitempty"`
}

// ValidateTool checks name non-emptiness and that inputSchema.type == "object".
func ValidateTool(t Tool, path string) Result {
	var res Result
	if t.Name == "" {
		res.addError(path+".name", "TOOL_NAME_REQUIRED", "tool name must be non-empty")
	}
	if t.InputSchema == nil {
		res.addError(path+".inputSchema", "TOOL_SCHEMA_REQUIRED", "inputSchema is required")
	} else if schemaType, _ := t.InputSchema["type"].(string); schemaType != "object" {
		res.addError(path+".inputSchema.type", "TOOL_SCHEMA_NOT_OBJECT", "inputSchema.type must be \"object\", got %q", schemaType)
	}
	return res
}

// PromptArgument is one entry in Prompt.Arguments.
type PromptArgument struct {
	Name     string         `json:"name"`
	Required bool           `json:"required"`
	Schema   map[string]any `json:"schema,omitempty"`
}

// Prompt mirrors the wire shape of an MCP prompt declaration.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ValidatePrompt checks name non-emptiness and that each argument has a name.
func ValidatePrompt(p Prompt, path string) Result {
	var res Result
	if p.Name == "" {
		res.addError(path+".name", "PROMPT_NAME_REQUIRED", "prompt name must be non-empty")
	}
	for i, arg := range p.Arguments {
		if arg.Name == "" {
			res.addError(fmt.Sprintf("%s.arguments[%d].name", path, i), "PROMPT_ARG_NAME_REQUIRED", "argument name must be non-empty")
		}
	}
	return res
}

// Resource mirrors the wire shape of an MCP resource declaration.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// ValidateResource checks uri scheme shape and name non-emptiness.
func ValidateResource(r Resource, path string) Result {
	var res Result
	if r.Name == "" {
		res.addError(path+".name", "RESOURCE_NAME_REQUIRED", "resource name must be non-empty")
	}
	if !resourceURIRE.MatchString(r.URI) {
		res.addError(path+".uri", "RESOURCE_URI_INVALID", "uri %q must match %s", r.URI, resourceURIRE.String())
	}
	return res
}

// ResourceTemplate mirrors the wire shape of an MCP resource template;
// uriTemplate holds `{param}` placeholders matched against concrete
// URIs by path-segment comparison at runtime (outside this package's
// scope — this only validates declaration shape).
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
}

// ValidateResourceTemplate checks name and uriTemplate non-emptiness.
func ValidateResourceTemplate(rt ResourceTemplate, path string) Result {
	var res Result
	if rt.Name == "" {
		res.addError(path+".name", "RESOURCE_TEMPLATE_NAME_REQUIRED", "resource template name must be non-empty")
	}
	if rt.URITemplate == "" {
		res.addError(path+".uriTemplate", "RESOURCE_TEMPLATE_URI_REQUIRED", "uriTemplate must be non-empty")
	}
	return res
}

// Content is the tagged union of text/image/audio/resource_link content
// blocks used throughout tool results, prompt messages, and sampling.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`     // base64, image/audio
	MimeType string `json:"mimeType,omitempty"` // image/audio
	Name     string `json:"name,omitempty"`     // resource_link
	URI      string `json:"uri,omitempty"`      // resource_link
}

// ValidateContent enforces the per-variant required fields.
func ValidateContent(c Content, path string) Result {
	var res Result
	switch c.Type {
	case "text":
		if c.Text == "" {
			res.addError(path+".text", "CONTENT_TEXT_REQUIRED", "text content requires a non-empty text field")
		}
	case "image", "audio":
		if c.Data == "" {
			res.addError(path+".data", "CONTENT_DATA_REQUIRED", "%s content requires base64 data", c.Type)
		}
		if c.MimeType == "" {
			res.addError(path+".mimeType", "CONTENT_MIMETYPE_REQUIRED", "%s content requires mimeType", c.Type)
		} else if leadingToken(c.MimeType) != c.Type {
			res.addError(path+".mimeType", "CONTENT_MIMETYPE_MISMATCH", "mimeType %q does not match content type %q", c.MimeType, c.Type)
		}
	case "resource_link":
		if c.Name == "" {
			res.addError(path+".name", "CONTENT_RESOURCE_NAME_REQUIRED", "resource_link content requires name")
		}
		if c.URI == "" {
			res.addError(path+".uri", "CONTENT_RESOURCE_URI_REQUIRED", "resource_link content requires uri")
		}
	default:
		res.addError(path+".type", "CONTENT_TYPE_UNKNOWN", "unknown content type %q", c.Type)
	}
	return res
}

func leadingToken(mimeType string) string {
	for i, r := range mimeType {
		if r == '/' {
			return mimeType[:i]
		}
	}
	return mimeType
}

// ModelPreferences mirrors sampling/createMessage's modelPreferences
// object; each priority is a float in [0.0, 1.0].
type ModelPreferences struct {
	CostPriority         *float64 `json:"costPriority,omitempty"`
	SpeedPriority        *float64 `json:"speedPriority,omitempty"`
	IntelligencePriority *float64 `json:"intelligencePriority,omitempty"`
}

// ValidateModelPreferences checks each set priority lies in [0.0, 1.0].
func ValidateModelPreferences(mp ModelPreferences, path string) Result {
	var res Result
	check := func(field string, v *float64) {
		if v == nil {
			return
		}
		if *v < 0.0 || *v > 1.0 {
			res.addError(path+"."+field, "MODEL_PREFERENCE_OUT_OF_RANGE", "%s must be in [0.0, 1.0], got %v", field, *v)
		}
	}
	check("costPriority", mp.CostPriority)
	check("speedPriority", mp.SpeedPriority)
	check("intelligencePriority", mp.IntelligencePriority)
	return res
}

// ElicitationResult mirrors the result of an elicitation/create
// round-trip.
type ElicitationResult struct {
	Action  string         `json:"action"` // "accept" | "decline" | "cancel"
	Content map[string]any `json:"content,omitempty"`
}

// ValidateElicitationResult enforces content required iff action ==
// accept, and restricts content schemas (when present alongside a
// schema map) to flat objects with primitive properties.
func ValidateElicitationResult(er ElicitationResult, schema map[string]any, path string) Result {
	var res Result
	switch er.Action {
	case "accept":
		if er.Content == nil {
			res.addError(path+".content", "ELICITATION_CONTENT_REQUIRED", "content is required when action is \"accept\"")
		}
	case "decline", "cancel":
		if er.Content != nil {
			res.addWarning(path+".content", "ELICITATION_CONTENT_UNEXPECTED", "content is ignored when action is %q", er.Action)
		}
	default:
		res.addError(path+".action", "ELICITATION_ACTION_UNKNOWN", "unknown elicitation action %q", er.Action)
	}

	if schema != nil {
		res.merge(validateFlatSchema(schema, path+".schema"))
	}
	return res
}

var knownStringFormats = map[string]bool{
	"email":     true,
	"uri":       true,
	"date":      true,
	"date-time": true,
}

// validateFlatSchema restricts an elicitation schema to a flat object
// with primitive (non-object, non-array) properties, validates
// enum/enumNames length parity, and lightly checks known string
// formats.
func validateFlatSchema(schema map[string]any, path string) Result {
	var res Result
	if t, _ := schema["type"].(string); t != "object" {
		res.addError(path+".type", "ELICITATION_SCHEMA_NOT_OBJECT", "elicitation schema must have type \"object\", got %q", t)
		return res
	}
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		propPath := fmt.Sprintf("%s.properties.%s", path, name)
		prop, ok := raw.(map[string]any)
		if !ok {
			res.addError(propPath, "ELICITATION_SCHEMA_PROPERTY_INVALID", "property must be an object")
			continue
		}
		propType, _ := prop["type"].(string)
		switch propType {
		case "object", "array":
			res.addError(propPath+".type", "ELICITATION_SCHEMA_NOT_FLAT", "elicitation schemas must be flat; property %q has nested type %q", name, propType)
		}
		if format, ok := prop["format"].(string); ok && !knownStringFormats[format] {
			res.addWarning(propPath+".format", "ELICITATION_SCHEMA_UNKNOWN_FORMAT", "unrecognized string format %q", format)
		}
		enum, hasEnum := prop["enum"].([]any)
		enumNames, hasEnumNames := prop["enumNames"].([]any)
		if hasEnum && hasEnumNames && len(enum) != len(enumNames) {
			res.addError(propPath, "ELICITATION_SCHEMA_ENUM_MISMATCH", "enum has %d entries but enumNames has %d", len(enum), len(enumNames))
		}
	}
	return res
}
