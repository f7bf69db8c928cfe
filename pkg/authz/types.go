// Package authz authorizes API calls. It supports Kubernetes
// SubjectAccessReview checks and a no-op mode for development.
package authz

import "context"

// APIGroup is the RBAC API group of spectable resources.
const APIGroup = "spectable.io"

// Resource names for RBAC mapping.
const (
	ResourceTemplates   = "templates"
	ResourceAssignments = "assignments"
	ResourceCatalog     = "catalog"
	ResourceLookup      = "lookups"
	ResourceRebuilds    = "rebuilds"
	ResourceJobs        = "jobs"
	ResourceAudit       = "audit"
)

// Verb names for RBAC mapping.
const (
	VerbGet    = "get"
	VerbList   = "list"
	VerbCreate = "create"
	VerbUpdate = "update"
	VerbDelete = "delete"
)

// AuthzRequest represents an authorization check. Checks are cluster
// scoped; shops are not RBAC boundaries.
type AuthzRequest struct {
	User     string
	Groups   []string
	Resource string
	Verb     string
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}
