package audit

import (
	"net/http"
	"net/url"
	"strings"
)

// requestTarget is what an API path says about the object it touches.
type requestTarget struct {
	api          string
	resourceType string
	resourceID   string
	action       string
}

// parseTarget reads /api/{api}/{version}/{collection}[/{id}[:{verb}]][/{sub}[/{subId}]].
func parseTarget(method, path string) requestTarget {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 4 || parts[0] != "api" {
		return requestTarget{action: methodAction(method)}
	}

	t := requestTarget{api: parts[1], resourceType: parts[3]}
	verb := ""
	if i := strings.Index(t.resourceType, ":"); i > 0 {
		t.resourceType = t.resourceType[:i]
	}

	if len(parts) > 4 {
		id := parts[4]
		if i := strings.LastIndex(id, ":"); i > 0 {
			id, verb = id[:i], id[i+1:]
		}
		t.resourceID = unescape(id)
	}

	switch {
	case verb != "":
		t.action = verb
	case t.api == "lookup" && (t.resourceType == "rebuild" || t.resourceType == "rebuild-all"):
		t.action = t.resourceType
	case t.api == "jobs" && method == http.MethodPost:
		t.action = "enqueue"
	case len(parts) > 5 && parts[5] == "targets":
		if method == http.MethodDelete {
			t.action = "remove-target"
		} else {
			t.action = "add-targets"
		}
	default:
		t.action = methodAction(method)
	}
	return t
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut:
		return "upsert"
	case http.MethodPatch:
		return "patch"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// isMutation reports whether the request should be audited. Reads and
// health checks are not.
func isMutation(method, path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz", "/metrics":
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusForbidden:
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}
