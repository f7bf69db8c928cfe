package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/authz"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/tenancy"
)

// CorrelationHeader links several requests to one operator action.
const CorrelationHeader = "X-Correlation-ID"

// responseCapture remembers the status code written by the handler.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware records an Event for every mutating request after the
// handler returns. A failed write is logged; the response is unaffected.
//
// The shop is read from the request rather than the context because the
// tenancy middleware runs further down the chain.
func Middleware(store *Store, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || cfg == nil || !cfg.Enabled || !isMutation(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			outcome := outcomeFromStatus(capture.statusCode)
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			actor := authz.Anonymous
			if id, ok := authz.IdentityFromContext(ctx); ok {
				actor = id.User
			}
			requestID := middleware.GetReqID(ctx)
			correlationID := r.Header.Get(CorrelationHeader)
			if correlationID == "" {
				correlationID = requestID
			}

			var shopID string
			if sc, err := (tenancy.RequestShopResolver{}).Resolve(r); err == nil {
				shopID = sc.ShopID
			}

			target := parseTarget(r.Method, r.URL.Path)
			event := &Event{
				ID:            uuid.New().String(),
				ShopID:        shopID,
				Actor:         actor,
				RequestID:     requestID,
				CorrelationID: correlationID,
				API:           target.api,
				ResourceType:  target.resourceType,
				ResourceID:    target.resourceID,
				Action:        target.action,
				Method:        r.Method,
				Path:          r.URL.Path,
				Outcome:       outcome,
				StatusCode:    capture.statusCode,
				DurationMs:    time.Since(start).Milliseconds(),
				CreatedAt:     start,
			}

			// The request context may already be canceled by a disconnect.
			if err := store.Append(context.WithoutCancel(ctx), event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}
