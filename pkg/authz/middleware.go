package authz

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Middleware maps each request to a resource and verb and asks the
// authorizer. Unmapped requests are denied. Mount it after
// IdentityMiddleware and only on API routes.
func Middleware(authorizer Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapping := MapRequest(r.Method, r.URL.Path)
			if mapping == UnknownMapping {
				writeDenied(w, http.StatusForbidden, "forbidden", "unknown endpoint, access denied")
				return
			}

			id, _ := IdentityFromContext(r.Context())
			allowed, err := authorizer.Authorize(r.Context(), AuthzRequest{
				User:     id.User,
				Groups:   id.Groups,
				Resource: mapping.Resource,
				Verb:     mapping.Verb,
			})
			if err != nil {
				logger.Error("authorization check failed",
					"user", id.User,
					"resource", mapping.Resource,
					"verb", mapping.Verb,
					"error", err)
				writeDenied(w, http.StatusInternalServerError, "internal_error", "authorization check failed")
				return
			}
			if !allowed {
				writeDenied(w, http.StatusForbidden, "forbidden",
					fmt.Sprintf("user %q may not %s %s", id.User, mapping.Verb, mapping.Resource))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
