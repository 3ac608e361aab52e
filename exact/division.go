package exact

import "strings"

// MatchKind selects how an exemption rule compares endpoints.
type MatchKind int

const (
	// MatchExact requires the normalised endpoint to equal the pattern.
	MatchExact MatchKind = iota
	// MatchPrefix accepts the pattern followed by a key selector "(",
	// a sub-path "/" or nothing at all.
	MatchPrefix
)

// EndpointRule is one row of the division exemption table.
type EndpointRule struct {
	Pattern string
	Match   MatchKind
}

// divisionExempt lists the endpoints that live outside any division.
// Exact Online serves these directly under /api/v1.
var divisionExempt = []EndpointRule{
	{Pattern: "current/Me", Match: MatchExact},
	{Pattern: "system/Users", Match: MatchPrefix},
}

// DivisionExemptEndpoints returns a copy of the exemption table.
func DivisionExemptEndpoints() []EndpointRule {
	return append([]EndpointRule(nil), divisionExempt...)
}

func (r EndpointRule) matches(endpoint string) bool {
	switch r.Match {
	case MatchExact:
		return endpoint == r.Pattern
	case MatchPrefix:
		if !strings.HasPrefix(endpoint, r.Pattern) {
			return false
		}
		rest := endpoint[len(r.Pattern):]
		return rest == "" || rest[0] == '(' || rest[0] == '/'
	}
	return false
}

// RequiresDivision reports whether endpoint must be prefixed with a division.
func RequiresDivision(endpoint string) bool {
	endpoint = normalizeEndpoint(endpoint)
	for _, rule := range divisionExempt {
		if rule.matches(endpoint) {
			return false
		}
	}
	return true
}

// normalizeEndpoint strips leading slashes and any query string.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimLeft(strings.TrimSpace(endpoint), "/")
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	return endpoint
}
