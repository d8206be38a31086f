// internal/access/middleware.go
package access

import (
	"net/http"

	"fitjourney/internal/apperr"
	"fitjourney/internal/httpx"
	"fitjourney/internal/identity"
	"fitjourney/internal/logging"
	"fitjourney/internal/metrics"
)

// Middleware applies the token and role stages for p to every request.
func Middleware(p Policy, v TokenValidator, log *logging.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	stages := []Stage{MatchStage(p), TokenStage(v), RoleStage()}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, err := Evaluate(r, stages...)
			if err != nil {
				reason := apperr.Code(err)
				if m != nil {
					m.RecordPolicyDenial(reason)
				}
				log.LogSecurityEvent(r.Context(), "access_denied", map[string]any{
					"path":   r.URL.Path,
					"reason": reason,
				})
				httpx.WriteError(w, err)
				return
			}

			ctx := r.Context()
			if st.Principal != nil {
				ctx = identity.WithPrincipal(ctx, st.Principal)
				ctx = logging.WithUser(ctx, st.Principal.UserID.String(), string(st.Principal.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
