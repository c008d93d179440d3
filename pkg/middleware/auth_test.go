package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pulsegate/internal/core/services"

	"github.com/stretchr/testify/require"
)

func captureHandler(gotUser, gotName *string, gotGuest *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v, ok := r.Context().Value(UserIDKey).(string); ok {
			*gotUser = v
		}
		if v, ok := r.Context().Value(DisplayNameKey).(string); ok {
			*gotName = v
		}
		if v, ok := r.Context().Value(GuestKey).(bool); ok {
			*gotGuest = v
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingCredential(t *testing.T) {
	tokenSvc := services.NewTokenService("secret")
	var user, name string
	var guest bool
	handler := AuthMiddleware(tokenSvc, false)(captureHandler(&user, &name, &guest))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, user)
}

func TestAuthSynthesizesGuestInDevMode(t *testing.T) {
	tokenSvc := services.NewTokenService("secret")
	var user, name string
	var guest bool
	handler := AuthMiddleware(tokenSvc, true)(captureHandler(&user, &name, &guest))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, guest)
	require.True(t, strings.HasPrefix(user, "guest-"), "got %q", user)
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	tokenSvc := services.NewTokenService("secret")
	token, err := tokenSvc.GenerateToken("u42", "Jeju Expert")
	require.NoError(t, err)

	var user, name string
	var guest bool
	handler := AuthMiddleware(tokenSvc, false)(captureHandler(&user, &name, &guest))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u42", user)
	require.Equal(t, "Jeju Expert", name)
	require.False(t, guest)
}

func TestAuthAcceptsTokenQueryParam(t *testing.T) {
	tokenSvc := services.NewTokenService("secret")
	token, err := tokenSvc.GenerateToken("u7", "")
	require.NoError(t, err)

	var user, name string
	var guest bool
	handler := AuthMiddleware(tokenSvc, false)(captureHandler(&user, &name, &guest))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u7", user)
	require.Equal(t, "u7", name, "display name falls back to the subject")
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	tokenSvc := services.NewTokenService("secret")
	var user, name string
	var guest bool
	handler := AuthMiddleware(tokenSvc, false)(captureHandler(&user, &name, &guest))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
