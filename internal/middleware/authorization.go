package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// RequireRole admits requests whose token role is one of allowedRoles. It
// must run after AuthMiddleware.
func RequireRole(allowedRoles []string, logger *zap.Logger) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := GetUserRole(r.Context())
			if _, ok := allowed[role]; !ok || role == "" {
				subject, _ := GetSubject(r.Context())
				logger.Warn("Role not permitted for route",
					zap.String("subject", subject),
					zap.String("role", role),
					zap.String("path", r.URL.Path),
					zap.Strings("allowed_roles", allowedRoles),
				)
				RespondWithError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
