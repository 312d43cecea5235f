package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
)

// OrgContextKey is the key for storing the caller's organization id.
type OrgContextKey struct{}

// RequireOrgMiddleware reads the tenant from X-Organization-ID and rejects
// requests without a valid one.
func RequireOrgMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Organization-ID")
		if raw == "" {
			httputil.Unauthorized(w, "organization context required")
			return
		}
		orgID, err := uuid.Parse(raw)
		if err != nil || orgID == uuid.Nil {
			httputil.Unauthorized(w, "invalid organization id")
			return
		}
		ctx := context.WithValue(r.Context(), OrgContextKey{}, orgID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrgIDFromContext returns the organization id set by RequireOrgMiddleware.
func OrgIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(OrgContextKey{}).(string)
	return id
}
