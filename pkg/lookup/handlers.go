package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tracing"
)

// ResolveHandler handles GET /api/lookup/v1/resolve
// Query params: productId, collectionId. Resolution failures are reported
// as not found; a storefront render never sees an error.
func ResolveHandler(svc *Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID := tenancy.ShopIDFromContext(r.Context())
		productID := r.URL.Query().Get("productId")
		collectionID := r.URL.Query().Get("collectionId")

		res, err := svc.Resolve(r.Context(), shopID, productID, collectionID)
		if err != nil {
			logger.Warn("resolve failed, answering not found",
				"shopID", shopID,
				"productID", productID,
				"collectionID", collectionID,
				"traceID", tracing.TraceID(r.Context()),
				"error", err)
			res = Resolution{Level: LevelNone}
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// RebuildHandler handles POST /api/lookup/v1/rebuild
func RebuildHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID := tenancy.ShopIDFromContext(r.Context())

		result, err := svc.RebuildTemplateLookup(r.Context(), shopID)
		if err != nil {
			writeError(w, statusFor(err), fmt.Sprintf("failed to rebuild lookup index: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// RebuildAllHandler handles POST /api/lookup/v1/rebuild-all
func RebuildAllHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.RebuildAllShops(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to rebuild shops: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

// ProductDeletedHandler handles POST /api/lookup/v1/products/{productId}:deleted
func ProductDeletedHandler(svc *Service) http.HandlerFunc {
	return removalHandler("productId", svc.ProductDeleted)
}

// CollectionDeletedHandler handles POST /api/lookup/v1/collections/{collectionId}:deleted
func CollectionDeletedHandler(svc *Service) http.HandlerFunc {
	return removalHandler("collectionId", svc.CollectionDeleted)
}

func removalHandler(param string, remove func(ctx context.Context, shopID, id string) (int64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := url.PathUnescape(chi.URLParam(r, param))
		if err != nil || id == "" {
			writeError(w, http.StatusBadRequest, "missing or malformed "+param)
			return
		}

		shopID := tenancy.ShopIDFromContext(r.Context())
		removed, err := remove(r.Context(), shopID, id)
		if err != nil {
			writeError(w, statusFor(err), fmt.Sprintf("failed to remove lookup entry: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"shopId":  shopID,
			"removed": removed,
		})
	}
}

// EntriesHandler handles GET /api/lookup/v1/entries. The response carries
// the coordinator's phase for the shop so an operator can tell a stale
// listing from one about to be replaced.
func EntriesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID := tenancy.ShopIDFromContext(r.Context())

		entries, err := svc.Entries(r.Context(), shopID)
		if err != nil {
			writeError(w, statusFor(err), fmt.Sprintf("failed to list lookup entries: %v", err))
			return
		}
		if entries == nil {
			entries = []Entry{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"shopId":       shopID,
			"entries":      entries,
			"totalSize":    len(entries),
			"rebuildPhase": svc.RebuildPhase(shopID),
		})
	}
}

func statusFor(err error) int {
	if errors.Is(err, ErrEmptyShopID) {
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
