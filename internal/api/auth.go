package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// authMiddleware requires a valid service token signed with the configured
// secret. The token subject is stored on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "authentication not configured")
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "bearer token required")
			return
		}

		claims, err := s.verifier.Parse(raw)
		if err != nil {
			s.logger.Debug("rejected API token", "error", err, "request_id", middleware.GetReqID(r.Context()))
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeySubject, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// subjectFrom returns the authenticated token subject, if any.
func subjectFrom(ctx context.Context) string {
	sub, _ := ctx.Value(ctxKeySubject).(string) //nolint:errcheck // absent means anonymous
	return sub
}
