package httpframework

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Brownie44l1/leaf-infer/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsProduction(t *testing.T) {
	for _, env := range []string{"prod", "production", " PROD "} {
		assert.True(t, IsProduction(env), env)
	}
	for _, env := range []string{"", "local", "staging", "test"} {
		assert.False(t, IsProduction(env), env)
	}
}

func TestNewSwitchesToReleaseModeForConfiguredProdEnv(t *testing.T) {
	t.Setenv("APP_ENV", "")
	gin.SetMode(gin.TestMode)
	t.Cleanup(func() { gin.SetMode(gin.TestMode) })

	New("local")
	assert.Equal(t, gin.TestMode, gin.Mode())

	New("prod")
	assert.Equal(t, gin.ReleaseMode, gin.Mode())
}

func TestNewAllowsCrossOriginRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := New("local")
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}
