package httpframework

import (
	"net/http"
	"strings"

	"github.com/Brownie44l1/leaf-infer/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// New builds a gin engine with request ids, CORS, access logging and panic
// recovery, followed by any extra middlewares. A prod appEnv switches gin to
// release mode.
func New(appEnv string, middlewares ...gin.HandlerFunc) *gin.Engine {
	if IsProduction(appEnv) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(middleware.RequestID(), cors.New(CORSConfig()), middleware.HTTPLogger(), middleware.HTTPRecovery())
	router.Use(middlewares...)
	return router
}

func IsProduction(appEnv string) bool {
	switch strings.ToLower(strings.TrimSpace(appEnv)) {
	case "prod", "production":
		return true
	}
	return false
}

// CORSConfig allows any origin to call the JSON endpoints.
func CORSConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", middleware.HeaderRequestID}
	cfg.ExposeHeaders = []string{middleware.HeaderRequestID}
	return cfg
}
