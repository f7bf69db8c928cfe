package authz

import (
	"net/http"
	"strings"
)

// ResourceMapping is the RBAC resource and verb of an HTTP request.
type ResourceMapping struct {
	Resource string
	Verb     string
}

// UnknownMapping is returned for requests outside the known APIs. Callers
// deny them.
var UnknownMapping = ResourceMapping{}

// MapRequest maps an HTTP method and URL path to a ResourceMapping.
func MapRequest(method, path string) ResourceMapping {
	path = strings.TrimRight(path, "/")

	switch {
	case strings.HasPrefix(path, "/api/admin/"):
		return mapAdminRoute(method, path)
	case strings.HasPrefix(path, "/api/lookup/"):
		return mapLookupRoute(method, path)
	case strings.HasPrefix(path, "/api/jobs/"):
		return mapJobsRoute(method, path)
	case strings.HasPrefix(path, "/api/audit/"):
		if method == http.MethodGet {
			if strings.HasSuffix(path, "/events") {
				return ResourceMapping{Resource: ResourceAudit, Verb: VerbList}
			}
			return ResourceMapping{Resource: ResourceAudit, Verb: VerbGet}
		}
	}
	return UnknownMapping
}

// mapAdminRoute handles /api/admin/{version}/{collection}/...
func mapAdminRoute(method, path string) ResourceMapping {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 4 {
		return UnknownMapping
	}

	var resource string
	switch parts[3] {
	case "templates":
		resource = ResourceTemplates
	case "assignments":
		resource = ResourceAssignments
	case "products", "collections":
		resource = ResourceCatalog
	default:
		return UnknownMapping
	}

	last := parts[len(parts)-1]
	switch method {
	case http.MethodGet:
		if len(parts) == 4 {
			return ResourceMapping{Resource: resource, Verb: VerbList}
		}
		return ResourceMapping{Resource: resource, Verb: VerbGet}
	case http.MethodPost:
		// Activation toggles and target additions change an existing object.
		if len(parts) > 4 || strings.Contains(last, ":") {
			return ResourceMapping{Resource: resource, Verb: VerbUpdate}
		}
		return ResourceMapping{Resource: resource, Verb: VerbCreate}
	case http.MethodPut:
		return ResourceMapping{Resource: resource, Verb: VerbUpdate}
	case http.MethodDelete:
		if resource == ResourceAssignments && len(parts) > 6 {
			return ResourceMapping{Resource: resource, Verb: VerbUpdate}
		}
		return ResourceMapping{Resource: resource, Verb: VerbDelete}
	}
	return UnknownMapping
}

// mapLookupRoute handles /api/lookup/{version}/...
func mapLookupRoute(method, path string) ResourceMapping {
	switch {
	case method == http.MethodGet && strings.HasSuffix(path, "/resolve"):
		return ResourceMapping{Resource: ResourceLookup, Verb: VerbGet}
	case method == http.MethodGet && strings.HasSuffix(path, "/entries"):
		return ResourceMapping{Resource: ResourceLookup, Verb: VerbList}
	case method == http.MethodPost && strings.HasSuffix(path, ":deleted"):
		return ResourceMapping{Resource: ResourceLookup, Verb: VerbDelete}
	case method == http.MethodPost:
		return ResourceMapping{Resource: ResourceRebuilds, Verb: VerbCreate}
	}
	return UnknownMapping
}

// mapJobsRoute handles /api/jobs/{version}/rebuild...
func mapJobsRoute(method, path string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if strings.HasSuffix(path, "/rebuild") {
			return ResourceMapping{Resource: ResourceJobs, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceJobs, Verb: VerbGet}
	case http.MethodPost:
		if strings.HasSuffix(path, ":cancel") {
			return ResourceMapping{Resource: ResourceJobs, Verb: VerbUpdate}
		}
		return ResourceMapping{Resource: ResourceJobs, Verb: VerbCreate}
	}
	return UnknownMapping
}
