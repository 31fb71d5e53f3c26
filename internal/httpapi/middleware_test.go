package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyalty-service/internal/pkg/token"
	"loyalty-service/internal/service"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"uid": claims.UserID})
	})
}

func TestAuthenticate(t *testing.T) {
	tokens := token.NewManager("test-secret", time.Hour)
	handler := Authenticate(tokens)(okHandler())

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "token abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := token.NewManager("other-secret", time.Hour).Issue(7, false, time.Now())
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token reaches handler with claims", func(t *testing.T) {
		tok, err := tokens.Issue(7, false, time.Now())
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"uid":7}`, rec.Body.String())
	})
}

func TestRequireAdmin(t *testing.T) {
	tokens := token.NewManager("test-secret", time.Hour)
	handler := Authenticate(tokens)(RequireAdmin(okHandler()))

	shopper, err := tokens.Issue(7, false, time.Now())
	require.NoError(t, err)
	admin, err := tokens.Issue(1, true, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+shopper)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteError_RejectionMapsTo422(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, service.Reject(service.CodeBelowMinimumSpend, "amount below campaign minimum"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Contains(t, rec.Body.String(), "BELOW_MINIMUM_SPEND")
	assert.Contains(t, rec.Body.String(), "amount below campaign minimum")
}

func TestWriteError_CredentialsMapTo401(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, service.ErrInvalidCredentials)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserRateLimiter(t *testing.T) {
	tokens := token.NewManager("test-secret", time.Hour)
	limiter := newUserRateLimiter(0, 2) // burst of 2, no refill
	handler := Authenticate(tokens)(limiter.Throttle(okHandler()))

	tok, err := tokens.Issue(7, false, time.Now())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different user has their own bucket.
	tok2, err := tokens.Issue(8, false, time.Now())
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok2)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
