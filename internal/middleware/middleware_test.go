package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"copydrive-service/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newKeys(t *testing.T) (*jwt.Generator, *jwt.Verifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jwt.NewGenerator(key, "copydrive", "copydrive-api", "test", time.Hour),
		jwt.NewVerifier(&key.PublicKey, "copydrive", "copydrive-api")
}

func TestAuthSetsUserContext(t *testing.T) {
	gen, ver := newKeys(t)
	m := NewAuthMiddleware(ver)
	userID := uuid.New()

	r := gin.New()
	r.GET("/me", m.Auth(), func(c *gin.Context) {
		id := MustGetUserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "email": GetEmail(c), "admin": IsAdmin(c)})
	})

	token, _, err := gen.GenerateAccessToken(userID, "ana@example.com", []string{"user"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), `"admin":false`)
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	_, ver := newKeys(t)
	m := NewAuthMiddleware(ver)

	r := gin.New()
	r.GET("/me", m.Auth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, header := range []string{"", "Bearer nope", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestAdminOnly(t *testing.T) {
	gen, ver := newKeys(t)
	m := NewAuthMiddleware(ver)

	r := gin.New()
	r.GET("/admin", append(m.AdminOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })...)

	call := func(roles []string) int {
		token, _, err := gen.GenerateAccessToken(uuid.New(), "x@example.com", roles)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusForbidden, call([]string{"user"}))
	assert.Equal(t, http.StatusOK, call([]string{"admin"}))
	assert.Equal(t, http.StatusOK, call([]string{"super_admin"}))
}

func TestRequireRoleWithoutIdentity(t *testing.T) {
	_, ver := newKeys(t)
	m := NewAuthMiddleware(ver)

	r := gin.New()
	r.GET("/admin", m.RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "authentication required")
}

func TestRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(LoggingMiddleware(zap.NewNop()), RecoveryMiddleware(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestLoggingKeepsIncomingRequestID(t *testing.T) {
	r := gin.New()
	r.Use(LoggingMiddleware(zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc", w.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.copydrive.com.br"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.copydrive.com.br")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.copydrive.com.br", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

type countingLimiter struct {
	max   int64
	count int64
	err   error
}

func (l *countingLimiter) Allow(ctx context.Context, scope, subject string, maxRequests int64, window time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.count++
	return l.count <= maxRequests, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{}
	r := gin.New()
	r.GET("/", RateLimit(limiter, "test", 2, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(&countingLimiter{err: errors.New("redis down")}, "test", 1, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
