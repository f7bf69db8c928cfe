// Package admin exposes the write side of the template domain over HTTP.
// Every mutation that can change resolution is followed by a rebuild of
// the shop's lookup index before the response is written.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/gid"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/store"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

// Rebuilder keeps the lookup index in step with mutations. It is
// satisfied by *lookup.Service.
type Rebuilder interface {
	RebuildTemplateLookup(ctx context.Context, shopID string) (lookup.RebuildResult, error)
	ProductDeleted(ctx context.Context, shopID, productID string) (int64, error)
	CollectionDeleted(ctx context.Context, shopID, collectionID string) (int64, error)
}

// Handlers serves the admin API.
type Handlers struct {
	store     *store.Store
	rebuilder Rebuilder
	logger    *slog.Logger
}

// NewHandlers creates admin handlers.
func NewHandlers(s *store.Store, rebuilder Rebuilder, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: s, rebuilder: rebuilder, logger: logger}
}

type templateRequest struct {
	Name   string `json:"name"`
	Active *bool  `json:"active,omitempty"`
}

type templateResponse struct {
	ID        string `json:"id"`
	ShopID    string `json:"shopId"`
	Name      string `json:"name"`
	Version   int    `json:"version"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toTemplateResponse(t *store.Template) templateResponse {
	return templateResponse{
		ID:        t.ID,
		ShopID:    t.ShopID,
		Name:      t.Name,
		Version:   t.Version,
		Active:    t.Active,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
	}
}

// resourceIDs accepts ids as strings, qualified references or bare JSON
// numbers, and stores them in bare form.
type resourceIDs []string

func (ids *resourceIDs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(resourceIDs, 0, len(raw))
	for _, v := range raw {
		out = append(out, gid.NormalizeAny(v))
	}
	*ids = out
	return nil
}

type assignmentRequest struct {
	TemplateID  string      `json:"templateId"`
	Type        string      `json:"type"`
	ResourceIDs resourceIDs `json:"resourceIds,omitempty"`
}

type targetResponse struct {
	ResourceID   string `json:"resourceId"`
	ResourceGID  string `json:"resourceGid,omitempty"`
	ResourceType string `json:"resourceType"`
	Position     int    `json:"position"`
}

func resourceGID(typ, id string) string {
	switch lookup.AssignmentType(typ) {
	case lookup.AssignmentProduct:
		return gid.Format(gid.KindProduct, id)
	case lookup.AssignmentCollection:
		return gid.Format(gid.KindCollection, id)
	}
	return ""
}

type assignmentResponse struct {
	ID         string           `json:"id"`
	ShopID     string           `json:"shopId"`
	TemplateID string           `json:"templateId"`
	Type       string           `json:"type"`
	CreatedAt  string           `json:"createdAt"`
	Targets    []targetResponse `json:"targets"`
}

func toAssignmentResponse(a *store.TemplateAssignment) assignmentResponse {
	resp := assignmentResponse{
		ID:         a.ID,
		ShopID:     a.ShopID,
		TemplateID: a.TemplateID,
		Type:       a.Type,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
		Targets:    make([]targetResponse, 0, len(a.Targets)),
	}
	for _, t := range a.Targets {
		resp.Targets = append(resp.Targets, targetResponse{
			ResourceID:   t.ResourceID,
			ResourceGID:  resourceGID(t.ResourceType, t.ResourceID),
			ResourceType: t.ResourceType,
			Position:     t.Position,
		})
	}
	return resp
}

type targetsRequest struct {
	ResourceIDs resourceIDs `json:"resourceIds"`
}

type catalogRequest struct {
	Title string `json:"title"`
}

// rebuildStatus is attached to every mutating response.
type rebuildStatus struct {
	Result *lookup.RebuildResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// ListTemplates handles GET /templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	shopID := tenancy.ShopIDFromContext(r.Context())
	templates, err := h.store.ListTemplates(r.Context(), shopID)
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to list templates: %v", err))
		return
	}
	out := make([]templateResponse, len(templates))
	for i := range templates {
		out[i] = toTemplateResponse(&templates[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": out,
		"totalSize": len(out),
	})
}

// CreateTemplate handles POST /templates. New templates are active unless
// the body says otherwise; a template without assignments does not change
// resolution, so no rebuild runs.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	t := &store.Template{
		ShopID: tenancy.ShopIDFromContext(r.Context()),
		Name:   req.Name,
		Active: active,
	}
	if err := h.store.CreateTemplate(r.Context(), t); err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to create template: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(t))
}

// GetTemplate handles GET /templates/{templateId}
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	shopID := tenancy.ShopIDFromContext(r.Context())
	t, err := h.store.GetTemplate(r.Context(), shopID, chi.URLParam(r, "templateId"))
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to get template: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

// ActivateTemplate handles POST /templates/{templateId}:activate
func (h *Handlers) ActivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateTemplate handles POST /templates/{templateId}:deactivate. The
// template's assignments are removed with it.
func (h *Handlers) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	shopID := tenancy.ShopIDFromContext(r.Context())
	templateID := chi.URLParam(r, "templateId")
	if err := h.store.SetTemplateActive(r.Context(), shopID, templateID, active); err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to update template: %v", err))
		return
	}
	t, err := h.store.GetTemplate(r.Context(), shopID, templateID)
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to get template: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"template": toTemplateResponse(t),
		"rebuild":  h.rebuild(r.Context(), shopID),
	})
}

// DeleteTemplate handles DELETE /templates/{templateId}
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	shopID := tenancy.ShopIDFromContext(r.Context())
	templateID := chi.URLParam(r, "templateId")
	if err := h.store.DeleteTemplate(r.Context(), shopID, templateID); err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to delete template: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": templateID,
		"rebuild": h.rebuild(r.Context(), shopID),
	})
}

// CreateAssignment handles POST /assignments
func (h *Handlers) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	shopID := tenancy.ShopIDFromContext(r.Context())
	a, err := h.store.CreateAssignment(r.Context(), store.NewAssignment{
		ShopID:      shopID,
		TemplateID:  req.TemplateID,
		Type:        lookup.AssignmentType(req.Type),
		ResourceIDs: []string(req.ResourceIDs),
	})
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to create assignment: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"assignment": toAssignmentResponse(a),
		"rebuild":    h.rebuild(r.Context(), shopID),
	})
}

// GetAssignment handles GET /assignments/{assignmentId}
func (h *Handlers) GetAssignment(w http.ResponseWriter, r *http.Request) {
	shopID := tenancy.ShopIDFromContext(r.Context())
	a, err := h.store.GetAssignment(r.Context(), shopID, chi.URLParam(r, "assignmentId"))
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to get assignment: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// DeleteAssignment handles DELETE /assignments/{assignmentId}
func (h *Handlers) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	shopID := tenancy.ShopIDFromContext(r.Context())
	assignmentID := chi.URLParam(r, "assignmentId")
	if err := h.store.DeleteAssignment(r.Context(), shopID, assignmentID); err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to delete assignment: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": assignmentID,
		"rebuild": h.rebuild(r.Context(), shopID),
	})
}

// AddTargets handles POST /assignments/{assignmentId}/targets
func (h *Handlers) AddTargets(w http.ResponseWriter, r *http.Request) {
	var req targetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	shopID := tenancy.ShopIDFromContext(r.Context())
	added, err := h.store.AddTargets(r.Context(), shopID, chi.URLParam(r, "assignmentId"), []string(req.ResourceIDs))
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to add targets: %v", err))
		return
	}
	resp := map[string]any{"added": added}
	if added > 0 {
		resp["rebuild"] = h.rebuild(r.Context(), shopID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// RemoveTarget handles DELETE /assignments/{assignmentId}/targets/{resourceId}
func (h *Handlers) RemoveTarget(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := pathID(w, r, "resourceId")
	if !ok {
		return
	}

	shopID := tenancy.ShopIDFromContext(r.Context())
	removed, err := h.store.RemoveTarget(r.Context(), shopID, chi.URLParam(r, "assignmentId"), resourceID)
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to remove target: %v", err))
		return
	}
	resp := map[string]any{"removed": removed}
	if removed > 0 {
		resp["rebuild"] = h.rebuild(r.Context(), shopID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutProduct handles PUT /products/{productId}. A product that joins the
// catalog may be the target of an existing assignment, so the shop is
// rebuilt.
func (h *Handlers) PutProduct(w http.ResponseWriter, r *http.Request) {
	h.putCatalog(w, r, "productId", h.store.UpsertProduct)
}

// PutCollection handles PUT /collections/{collectionId}
func (h *Handlers) PutCollection(w http.ResponseWriter, r *http.Request) {
	h.putCatalog(w, r, "collectionId", h.store.UpsertCollection)
}

func (h *Handlers) putCatalog(w http.ResponseWriter, r *http.Request, param string, upsert func(ctx context.Context, shopID, id, title string) error) {
	id, ok := pathID(w, r, param)
	if !ok {
		return
	}
	var req catalogRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	shopID := tenancy.ShopIDFromContext(r.Context())
	if err := upsert(r.Context(), shopID, id, req.Title); err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to upsert %s: %v", param, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		param:     id,
		"rebuild": h.rebuild(r.Context(), shopID),
	})
}

// DeleteProduct handles DELETE /products/{productId}. The product's index
// row is dropped immediately; no full rebuild is needed.
func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	h.deleteCatalog(w, r, "productId", h.store.DeleteProduct, h.rebuilder.ProductDeleted)
}

// DeleteCollection handles DELETE /collections/{collectionId}
func (h *Handlers) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	h.deleteCatalog(w, r, "collectionId", h.store.DeleteCollection, h.rebuilder.CollectionDeleted)
}

type removeFunc func(ctx context.Context, shopID, id string) (int64, error)

func (h *Handlers) deleteCatalog(w http.ResponseWriter, r *http.Request, param string, del, unindex removeFunc) {
	id, ok := pathID(w, r, param)
	if !ok {
		return
	}

	shopID := tenancy.ShopIDFromContext(r.Context())
	deleted, err := del(r.Context(), shopID, id)
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("failed to delete %s: %v", param, err))
		return
	}
	unindexed, err := unindex(r.Context(), shopID, id)
	if err != nil {
		// The row goes at the next rebuild anyway.
		h.logger.Warn("failed to drop lookup row for deleted resource",
			"shopID", shopID, param, id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":   deleted,
		"unindexed": unindexed,
	})
}

// rebuild runs after a committed mutation. A failure is reported in the
// response, not as an error status: the mutation stands and the sweeper or
// the next trigger will converge the index.
func (h *Handlers) rebuild(ctx context.Context, shopID string) rebuildStatus {
	result, err := h.rebuilder.RebuildTemplateLookup(ctx, shopID)
	if err != nil {
		h.logger.Error("rebuild after mutation failed", "shopID", shopID, "error", err)
		return rebuildStatus{Error: err.Error()}
	}
	return rebuildStatus{Result: &result}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, param))
	if err != nil || id == "" {
		writeError(w, http.StatusBadRequest, "missing or malformed "+param)
		return "", false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrTemplateNotFound), errors.Is(err, store.ErrAssignmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDefaultExists), errors.Is(err, store.ErrAssignmentConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrTemplateInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidAssignment), errors.Is(err, lookup.ErrEmptyShopID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
