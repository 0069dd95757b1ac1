package address

import "strings"

// Authority returns the canonical ":authority" pseudo-header value for a.
// IPv4/IPv6 addresses produce "host:port" (brackets around IPv6 literals);
// Unix and Vsock addresses use their path/context-id form unaltered.
func (a SocketAddress) Authority() string {
	return a.DialString()
}

// SNIHostname derives the TLS Server Name Indication hostname from an
// authority string by stripping a trailing ":port", per the spec's
// "Authority derivation" rule. A bracketed IPv6 literal is returned without
// its brackets; values with no colon and no leading bracket (e.g. Unix
// paths) are returned unchanged.
func SNIHostname(authority string) string {
	if authority == "" {
		return authority
	}

	if strings.HasPrefix(authority, "[") {
		if end := strings.IndexByte(authority, ']'); end >= 0 {
			return authority[1:end]
		}
		return authority
	}

	if idx := strings.LastIndexByte(authority, ':'); idx >= 0 {
		return authority[:idx]
	}

	return authority
}
