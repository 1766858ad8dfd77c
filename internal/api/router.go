package api

import (
	"net/http"
	"strings"

	"guestgreet/config"
	"guestgreet/internal/api/handlers"
	"guestgreet/internal/api/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig bündelt die Handler des HTTP-Servers
type RouterConfig struct {
	Server         config.ServerConfig
	MetricsEnabled bool
	Recognition    *handlers.RecognitionHandler
	Customers      *handlers.CustomerHandler
	System         *handlers.SystemHandler
}

// SetupRouter konfiguriert den Gin-Router mit allen Routen
func SetupRouter(cfg RouterConfig) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = handlers.MaxProfileImageBytes
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", middleware.RequestIDHeader)
	corsCfg.ExposeHeaders = []string{middleware.RequestIDHeader, "Retry-After"}
	r.Use(cors.New(corsCfg))

	r.GET("/health", cfg.System.Health)
	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if cfg.Server.ProfileURL != "" && cfg.Server.ProfileDir != "" && strings.HasPrefix(cfg.Server.ProfileURL, "/") {
		r.StaticFS(strings.TrimSuffix(cfg.Server.ProfileURL, "/"), http.Dir(cfg.Server.ProfileDir))
	}

	api := r.Group("/api")
	cfg.Recognition.RegisterRoutes(api.Group("/recognition"))
	cfg.Customers.RegisterRoutes(api.Group("/customers"))
	cfg.System.RegisterRoutes(api.Group("/system"))

	return r
}
