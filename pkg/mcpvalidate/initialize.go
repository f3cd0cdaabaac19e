package mcpvalidate

// supportedProtocolVersions lists the protocol versions this
// implementation understands. An initialize request naming a version
// outside this set is not rejected — only warned about — to preserve
// forward compatibility with newer clients.
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

// InitializeParams mirrors the initialize request's params object.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ClientInfo mirrors the initialize request's clientInfo object.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ValidateInitialize checks required fields and flags unrecognized
// protocol versions as a warning rather than an error.
func ValidateInitialize(p InitializeParams) Result {
	var res Result
	if p.ProtocolVersion == "" {
		res.addError("params.protocolVersion", "INITIALIZE_VERSION_REQUIRED", "protocolVersion is required")
	} else if !supportedProtocolVersions[p.ProtocolVersion] {
		res.addWarning("params.protocolVersion", "INITIALIZE_VERSION_UNKNOWN", "unrecognized protocol version %q", p.ProtocolVersion)
	}
	if p.ClientInfo.Name == "" {
		res.addError("params.clientInfo.name", "INITIALIZE_CLIENT_NAME_REQUIRED", "clientInfo.name is required")
	}
	return res
}
