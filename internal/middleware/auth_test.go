package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func newRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(secret, zap.NewNop()))
	r.GET("/whoami", func(c *gin.Context) {
		name := "anonymous"
		if rv := Reviewer(c); rv != nil {
			name = *rv
		}
		c.String(http.StatusOK, name)
	})
	return r
}

func sign(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "clinician",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func get(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(testSecret)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name string
		auth string
		code int
		body string
	}{
		{"valid token", "Bearer " + sign(t, testSecret, "dr-lee", future), http.StatusOK, "dr-lee"},
		{"missing header", "", http.StatusUnauthorized, "Authorization header required"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Bearer"},
		{"wrong secret", "Bearer " + sign(t, "other", "dr-lee", future), http.StatusUnauthorized, "Invalid token"},
		{"expired", "Bearer " + sign(t, testSecret, "dr-lee", time.Now().Add(-time.Hour)), http.StatusUnauthorized, "Token expired"},
		{"no subject", "Bearer " + sign(t, testSecret, "", future), http.StatusUnauthorized, "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.auth)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	w := get(newRouter(""), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())
}
