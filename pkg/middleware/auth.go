package middleware

import (
	"context"
	"net/http"
	"strings"

	"pulsegate/internal/core/domain"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	DisplayNameKey contextKey = "display_name"
	GuestKey       contextKey = "guest"
)

// TokenValidator is satisfied by services.TokenService.
type TokenValidator interface {
	ValidateToken(token string) (userID, displayName string, err error)
}

// AuthMiddleware extracts the credential from the Authorization header or
// the token query parameter. A missing credential is tolerated only in
// development mode, where a guest identity is synthesized; otherwise the
// connection attempt is rejected before any application handler runs.
func AuthMiddleware(tokenSvc TokenValidator, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := extractCredential(r)
			if cred == "" {
				if !devMode {
					http.Error(w, domain.ErrUnauthorized.Error(), http.StatusUnauthorized)
					return
				}
				guest := domain.NewGuestID()
				ctx := context.WithValue(r.Context(), UserIDKey, guest)
				ctx = context.WithValue(ctx, DisplayNameKey, guest)
				ctx = context.WithValue(ctx, GuestKey, true)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			userID, displayName, err := tokenSvc.ValidateToken(cred)
			if err != nil {
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
			if displayName == "" {
				displayName = userID
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, DisplayNameKey, displayName)
			ctx = context.WithValue(ctx, GuestKey, false)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractCredential(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}
