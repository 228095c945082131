package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/api/issue-status/issues/:key", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func hit(r http.Handler, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/issue-status/issues/QA-1", nil)
	req.RemoteAddr = ip + ":40000"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	r := limitedRouter(NewRateLimiter(0.01, 3))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "10.1.0.1").Code, "request %d", i)
	}

	w := hit(r, "10.1.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"too many requests, please try again later"}`, w.Body.String())
}

func TestRateLimiter_PerClient(t *testing.T) {
	r := limitedRouter(NewRateLimiter(0.01, 1))

	assert.Equal(t, http.StatusOK, hit(r, "10.1.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.1.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(r, "10.1.0.2").Code)
}

func TestRateLimit_Shorthand(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(0.01, 1))
	r.GET("/api/issue-status/issues/:key", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, hit(r, "10.1.0.3").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.1.0.3").Code)
}
