package auth

import (
	"fmt"
	"net/url"
	"strings"
)

// defaultPortsByScheme lists the ports a canonical resource URI must
// omit, since they're implied by the scheme.
var defaultPortsByScheme = map[string]string{
	"http":  "80",
	"https": "443",
}

// CanonicalResourceURI renders raw in the canonical form RFC 8707
// requires for the `resource` parameter: lowercase scheme and host, no
// fragment, no explicit default port, path preserved (empty path
// becomes "/" only if the input already had one; RFC 8707 leaves an
// empty path as-is).
func CanonicalResourceURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("auth: parse resource uri: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("auth: resource uri %q must be absolute", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && port == defaultPortsByScheme[scheme] {
		port = ""
	}

	canon := scheme + "://" + host
	if port != "" {
		canon += ":" + port
	}
	canon += u.EscapedPath()
	if u.RawQuery != "" {
		canon += "?" + u.RawQuery
	}
	// Fragment is intentionally dropped.
	return canon, nil
}
