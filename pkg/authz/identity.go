package authz

import (
	"context"
	"net/http"
	"strings"
)

// Headers set by the authenticating proxy in front of the server.
const (
	UserHeader  = "X-Remote-User"
	GroupHeader = "X-Remote-Group"
)

// Anonymous is the user of a request without a UserHeader.
const Anonymous = "anonymous"

type identityCtxKey struct{}

// Identity is the caller of a request.
type Identity struct {
	User   string
	Groups []string
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the caller stored by IdentityMiddleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// IdentityMiddleware reads the caller from the proxy headers. Groups are
// comma-separated.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(UserHeader))
			if user == "" {
				user = Anonymous
			}

			var groups []string
			for _, g := range strings.Split(r.Header.Get(GroupHeader), ",") {
				if g = strings.TrimSpace(g); g != "" {
					groups = append(groups, g)
				}
			}

			ctx := WithIdentity(r.Context(), Identity{User: user, Groups: groups})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
