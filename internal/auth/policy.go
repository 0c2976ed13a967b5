package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request. Read endpoints stay public so
// dashboards and devices keep working without credentials.
type Policy struct {
	Prefix         string
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a policy for routes mounted under prefix.
func NewDefaultPolicy(prefix string, exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{Prefix: strings.TrimRight(prefix, "/"), ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns DismissRole for POST <prefix>/dismiss; every other route is public.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := strings.TrimPrefix(r.URL.Path, p.Prefix)
	switch {
	case path == "/dismiss" && r.Method == http.MethodPost:
		return DismissRole, true
	}
	return "", false
}
