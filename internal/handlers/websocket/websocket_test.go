package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	ws "copydrive-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHandleConnectionRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewWebSocketHandler(ws.NewHub(nil, zap.NewNop()), []string{"*"}, zap.NewNop())
	r := gin.New()
	r.GET("/ws", h.HandleConnection)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// a hub without a verifier rejects every token
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.copydrive.com/"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.copydrive.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
