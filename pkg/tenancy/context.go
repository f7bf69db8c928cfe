package tenancy

import "context"

type ctxKey struct{}

// ShopContext carries the resolved shop through the request context.
type ShopContext struct {
	ShopID string
	// Source is where the shop came from: "default", "query" or "header".
	Source string
}

// WithShop returns a new context with the given ShopContext attached.
func WithShop(ctx context.Context, sc ShopContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, sc)
}

// ShopFromContext retrieves the ShopContext from the context.
func ShopFromContext(ctx context.Context) (ShopContext, bool) {
	sc, ok := ctx.Value(ctxKey{}).(ShopContext)
	return sc, ok
}

// ShopIDFromContext returns the shop id, or "" if none is set.
func ShopIDFromContext(ctx context.Context) string {
	sc, ok := ShopFromContext(ctx)
	if !ok {
		return ""
	}
	return sc.ShopID
}
