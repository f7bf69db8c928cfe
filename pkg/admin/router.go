package admin

import (
	"github.com/go-chi/chi/v5"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

// Router creates a chi.Router for the admin API. Every route acts on the
// shop resolved by the tenancy middleware.
func Router(h *Handlers, tenancyCfg *tenancy.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(tenancy.NewMiddleware(tenancyCfg))

	r.Get("/templates", h.ListTemplates)
	r.Post("/templates", h.CreateTemplate)
	r.Get("/templates/{templateId}", h.GetTemplate)
	r.Delete("/templates/{templateId}", h.DeleteTemplate)
	r.Post("/templates/{templateId}:activate", h.ActivateTemplate)
	r.Post("/templates/{templateId}:deactivate", h.DeactivateTemplate)

	r.Post("/assignments", h.CreateAssignment)
	r.Get("/assignments/{assignmentId}", h.GetAssignment)
	r.Delete("/assignments/{assignmentId}", h.DeleteAssignment)
	r.Post("/assignments/{assignmentId}/targets", h.AddTargets)
	r.Delete("/assignments/{assignmentId}/targets/{resourceId}", h.RemoveTarget)

	r.Put("/products/{productId}", h.PutProduct)
	r.Delete("/products/{productId}", h.DeleteProduct)
	r.Put("/collections/{collectionId}", h.PutCollection)
	r.Delete("/collections/{collectionId}", h.DeleteCollection)

	return r
}
