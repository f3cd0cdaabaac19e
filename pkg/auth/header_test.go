package auth

import "testing"

func TestExtractCredentialPrecedence(t *testing.T) {
	cases := []struct {
		name       string
		authz      string
		apiKey     string
		wantScheme Scheme
		wantToken  string
	}{
		{"bearer", "Bearer abc123", "", SchemeBearer, "abc123"},
		{"dpop", "DPoP xyz789", "", SchemeDPoP, "xyz789"},
		{"apikey header scheme", "ApiKey k-1", "", SchemeAPIKey, "k-1"},
		{"apikey dedicated header", "", "k-2", SchemeAPIKey, "k-2"},
		{"authorization wins over api key header", "Bearer abc", "k-2", SchemeBearer, "abc"},
		{"none", "", "", SchemeNone, ""},
		{"unrecognized scheme falls through to api key header", "Basic dXNlcjpwYXNz", "k-3", SchemeAPIKey, "k-3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractCredential(tc.authz, tc.apiKey)
			if got.Scheme != tc.wantScheme || got.Token != tc.wantToken {
				t.Errorf("got %+v, want scheme=%v token=%q", got, tc.wantScheme, tc.wantToken)
			}
		})
	}
}
