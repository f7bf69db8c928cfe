package lookup

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

// Router creates a chi.Router for the lookup API. Every route except
// rebuild-all acts on the shop resolved by the tenancy middleware.
func Router(svc *Service, tenancyCfg *tenancy.Config, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Post("/rebuild-all", RebuildAllHandler(svc))

	r.Group(func(r chi.Router) {
		r.Use(tenancy.NewMiddleware(tenancyCfg))

		r.Get("/resolve", ResolveHandler(svc, logger))
		r.Get("/entries", EntriesHandler(svc))
		r.Post("/rebuild", RebuildHandler(svc))
		r.Post("/products/{productId}:deleted", ProductDeletedHandler(svc))
		r.Post("/collections/{collectionId}:deleted", CollectionDeletedHandler(svc))
	})

	return r
}
