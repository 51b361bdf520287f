package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ficore/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signTestToken(t *testing.T, userID string, role models.Role) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret-key")
	InitAuthMiddleware(nil)

	handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := r.Context().Value("userID").(string)
		role, _ := r.Context().Value("userRole").(string)
		w.Header().Set("X-Test-User", userID)
		w.Header().Set("X-Test-Role", role)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token sets identity on the context", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/credits/balance", nil)
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, "amina", models.RoleTrader))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "amina", w.Header().Get("X-Test-User"))
		assert.Equal(t, "trader", w.Header().Get("X-Test-Role"))
	})

	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/credits/balance", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/credits/balance", nil)
		r.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tampered token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/credits/balance", nil)
		r.Header.Set("Authorization", "Bearer not.a.token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		viper.Set("jwt.secret_key", "test-secret-key")
		token := signTestToken(t, "amina", models.RoleTrader)
		viper.Set("jwt.secret_key", "rotated-secret-key")
		defer viper.Set("jwt.secret_key", "test-secret-key")

		r := httptest.NewRequest("GET", "/credits/balance", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	withRole := func(role string) *http.Request {
		r := httptest.NewRequest("GET", "/admin/audit-logs", nil)
		ctx := context.WithValue(r.Context(), "userRole", role)
		return r.WithContext(ctx)
	}

	t.Run("allowed role passes", func(t *testing.T) {
		handler := RequireRole(models.RoleAdmin)(next)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, withRole("admin"))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("any of several roles passes", func(t *testing.T) {
		handler := RequireRole(models.RoleAgent, models.RoleAdmin)(next)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, withRole("agent"))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("other role forbidden", func(t *testing.T) {
		handler := RequireRole(models.RoleAdmin)(next)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, withRole("trader"))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown role forbidden", func(t *testing.T) {
		handler := RequireRole(models.RoleAdmin)(next)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, withRole("superuser"))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing role forbidden", func(t *testing.T) {
		handler := RequireRole(models.RoleAdmin)(next)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, httptest.NewRequest("GET", "/admin/audit-logs", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
