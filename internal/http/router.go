// Package httpapi wires the HTTP transport (Gin) to the chat services, the
// websocket gateway, middleware and route handlers. It centralizes
// cross-cutting concerns: tracing, correlation IDs, access logs, panic
// recovery, metrics, compression, rate limiting, CORS and security headers.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-room-chat/docs"
	"github.com/tbourn/go-room-chat/internal/config"
	"github.com/tbourn/go-room-chat/internal/http/handlers"
	"github.com/tbourn/go-room-chat/internal/http/middleware"
	"github.com/tbourn/go-room-chat/internal/realtime"
	"github.com/tbourn/go-room-chat/internal/services"
)

const (
	wsPath      = "/ws"
	metricsPath = "/metrics"
	maxBodySize = 1 << 20
)

// Services bundles the application services shared by the REST handlers and
// the websocket gateway.
type Services struct {
	Ingest  *services.IngestService
	History *services.HistoryService
}

// NewServices builds the services over db.
func NewServices(db *gorm.DB, cfg config.Config) Services {
	return Services{
		Ingest:  services.NewIngestService(db, cfg.Ingest),
		History: &services.HistoryService{DB: db},
	}
}

// RegisterRoutes attaches all middleware and endpoints to r. ws may be nil,
// in which case /ws is not mounted and REST sends are not fanned out.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID, Logger, Recovery
//  3. Body size limit
//  4. Metrics (and /metrics)
//  5. Gzip, skipping /ws and /metrics
//  6. Rate limiter per client IP (websocket handshakes included)
//  7. CORS and security headers
func RegisterRoutes(r *gin.Engine, svc Services, ws *realtime.Server, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery())
	r.Use(limitBody(maxBodySize))

	r.Use(middleware.Metrics())
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPath, metricsPath})))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Answer "*" even without an Origin header so simple probes see it.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
	}
	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var fanout handlers.Broadcaster
	if ws != nil {
		r.GET(wsPath, gin.WrapH(ws))
		fanout = ws.Gateway()
	}

	h := handlers.New(svc.Ingest, svc.History, fanout)
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/rooms/:room_id/messages", h.ListRoomMessages)
		api.POST("/rooms/:room_id/messages", h.PostRoomMessage)
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Retry-After", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// limitBody caps request bodies at maxBytes; oversized reads fail downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
