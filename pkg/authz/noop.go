package authz

import "context"

// NoopAuthorizer allows every request. Used when SPECTABLE_AUTHZ_MODE=none.
type NoopAuthorizer struct{}

// Authorize always returns true.
func (NoopAuthorizer) Authorize(_ context.Context, _ AuthzRequest) (bool, error) {
	return true, nil
}
