package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"spendwatch/internal/log"
	"spendwatch/internal/services"
)

type userIDKey struct{}

// requireAuth resolves the bearer token to a user id and stores it in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			UnauthorizedError("Missing authorization token").Write(w)
			return
		}

		userID, err := s.auth.Authenticate(r.Context(), token)
		if errors.Is(err, services.ErrUnauthorized) {
			UnauthorizedError("Invalid or expired token").Write(w)
			return
		}
		if err != nil {
			log.FromContext(r.Context()).ErrorContext(r.Context(), "Authentication failed", log.FieldError, err)
			InternalServerError("Server error in authentication").Write(w)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		ctx = log.WithContext(ctx, log.FromContext(ctx).With(log.FieldUserID, userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userIDFrom returns the authenticated user, or "" outside requireAuth.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
