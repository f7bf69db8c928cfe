package tenancy

import (
	"encoding/json"
	"net/http"
)

// Middleware resolves the shop with the given resolver and stores it in the
// request context. On failure it responds with a 400 JSON error.
func Middleware(resolver ShopResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, err := resolver.Resolve(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "bad_request",
					"message": err.Error(),
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithShop(r.Context(), sc)))
		})
	}
}

// NewMiddleware creates middleware with the resolver for cfg.Mode.
func NewMiddleware(cfg *Config) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var resolver ShopResolver
	switch cfg.Mode {
	case ModeSingle:
		resolver = SingleShopResolver{ShopID: NormalizeShop(cfg.DefaultShop)}
	default:
		resolver = RequestShopResolver{}
	}
	return Middleware(resolver)
}
