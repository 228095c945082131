package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(origins ...string) *gin.Engine {
	r := gin.New()
	r.Use(CORS(origins...))
	r.POST("/api/issue-status/batch", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func withOrigin(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/api/issue-status/batch", nil)
	req.Header.Set("Origin", origin)
	return req
}

func TestCORS_AnyOriginByDefault(t *testing.T) {
	w := httptest.NewRecorder()
	corsRouter().ServeHTTP(w, withOrigin(http.MethodPost, "http://localhost:5173"))

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_Preflight(t *testing.T) {
	req := withOrigin(http.MethodOptions, "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")

	w := httptest.NewRecorder()
	corsRouter().ServeHTTP(w, req)

	assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestCORS_RestrictsConfiguredOrigins(t *testing.T) {
	r := corsRouter("https://console.example.com")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, withOrigin(http.MethodPost, "https://console.example.com"))
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, withOrigin(http.MethodPost, "https://elsewhere.example.com"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
