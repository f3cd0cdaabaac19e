package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RegistrationRequest is the RFC 7591 client-registration request
// body.
type RegistrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// RegistrationResponse is the RFC 7591 client-registration response.
// Register returns it to the caller; this package does not persist it.
type RegistrationResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret,omitempty"`
	RegistrationAccessToken string `json:"registration_access_token,omitempty"`
	ClientIDIssuedAt        int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64  `json:"client_secret_expires_at,omitempty"`
}

// DefaultRegistrationRequest builds a RegistrationRequest for a public
// authorization-code + PKCE client (token_endpoint_auth_method "none").
func DefaultRegistrationRequest(clientName string, redirectURIs, scopes []string) RegistrationRequest {
	return RegistrationRequest{
		ClientName:              clientName,
		RedirectURIs:            redirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   joinScopes(scopes),
		SoftwareID:              "mcpcore",
	}
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

// DCRClient registers clients against an RFC 7591 registration
// endpoint.
type DCRClient struct {
	httpClient *http.Client
	endpoint   string
}

// NewDCRClient builds a DCRClient bound to endpoint, using a new
// http.Client with a 30-second timeout if client is nil.
func NewDCRClient(endpoint string, client *http.Client) *DCRClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DCRClient{httpClient: client, endpoint: endpoint}
}

// Register posts req to the registration endpoint and decodes the
// resulting RegistrationResponse.
func (c *DCRClient) Register(ctx context.Context, req RegistrationRequest) (RegistrationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return RegistrationResponse{}, fmt.Errorf("auth: marshal registration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return RegistrationResponse{}, fmt.Errorf("auth: build registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return RegistrationResponse{}, fmt.Errorf("auth: registration request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return RegistrationResponse{}, fmt.Errorf("auth: registration endpoint returned %d", resp.StatusCode)
	}

	var out RegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RegistrationResponse{}, fmt.Errorf("auth: decode registration response: %w", err)
	}
	return out, nil
}
