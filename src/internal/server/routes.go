package server

import (
	"context"
	"net/http"
	"time"

	"dealerhub-realtime-svc/src/internal/dependency"
	"dealerhub-realtime-svc/src/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(deps *dependency.Manager) {
	router := deps.Router
	router.Use(enableCORS)

	setupHealthEndpoint(deps)
	setupPublicRoutes(router, deps)
	setupPresenceRoutes(router, deps)
	setupSocketRoute(router, deps)
}

func setupHealthEndpoint(deps *dependency.Manager) {
	router := deps.Router
	cacheService := deps.CacheService
	cfg := deps.Config

	router.GET("/health", func(c *gin.Context) {
		log.Info("Health check endpoint requested")

		databaseStatus := "ok"
		if err := pingDatabase(c.Request.Context(), deps); err != nil {
			databaseStatus = "error: " + err.Error()
		}

		redisStatus := "ok"
		if err := cacheService.Ping(c.Request.Context()); err != nil {
			redisStatus = "error: " + err.Error()
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   cfg.App.Name,
			"version":   cfg.App.Version,
			"database":  databaseStatus,
			"redis":     redisStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	router.GET("/health/detailed", func(c *gin.Context) {
		log.Info("Detailed health check endpoint requested")

		c.JSON(http.StatusOK, gin.H{
			"status":  "operational",
			"service": cfg.App.Name,
			"version": cfg.App.Version,
			"components": gin.H{
				"database": gin.H{
					cfg.Database.Driver: getStatus(pingDatabase(c.Request.Context(), deps) == nil),
					"redis":             getStatus(cacheService.Ping(c.Request.Context()) == nil),
				},
				"services": gin.H{
					"gateway":   "operational",
					"presence":  "operational",
					"rabbitmq":  getStatus(deps.RabbitMQ != nil),
					"room_bus":  getStatus(deps.Bus != nil),
					"telephony": getStatus(deps.RabbitMQ != nil && cfg.Telephony.Enabled),
				},
				"connections": deps.Gateway.ConnectionCount(),
			},
		})
	})
}

func setupPublicRoutes(router *gin.Engine, deps *dependency.Manager) {
	// API status endpoint
	router.GET("/api/v1/status", func(c *gin.Context) {
		log.Info("API status requested")
		c.JSON(http.StatusOK, gin.H{
			"api_version": "v1",
			"status":      "operational",
			"service":     deps.Config.App.Name,
		})
	})
}

func setupPresenceRoutes(router *gin.Engine, deps *dependency.Manager) {
	authMiddleware := middleware.NewAuthMiddleware(deps.Verifier, deps.UserRepo)
	trackActivity := middleware.TrackActivity(deps.PresenceStore,
		time.Duration(deps.Config.App.Timeout)*time.Second)

	handler := deps.PresenceHandler

	// Apply route name FIRST, then auth middlewares
	tenants := router.Group("/api/v1/tenants/:tenantId/presence")
	{
		tenants.GET("",
			setRouteName("getTenantPresence"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireTenantAccess(),
			trackActivity,
			handler.GetTenantPresence)

		tenants.GET("/online",
			setRouteName("getOnlineUsers"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireTenantAccess(),
			trackActivity,
			handler.GetOnlineUsers)

		tenants.GET("/users/:userId",
			setRouteName("getUserStatus"),
			authMiddleware.RequireAuth(),
			authMiddleware.RequireTenantAccess(),
			trackActivity,
			handler.GetUserStatus)
	}
}

// The socket authenticates inside the handshake, so no HTTP auth middleware.
func setupSocketRoute(router *gin.Engine, deps *dependency.Manager) {
	router.GET(deps.Config.WebSocket.Path, setRouteName("websocket"), deps.Gateway.ServeWS)
}

func setRouteName(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("route_name", name)
		c.Next()
	}
}

func pingDatabase(ctx context.Context, deps *dependency.Manager) error {
	if deps.Postgres != nil {
		sqlDB, err := deps.Postgres.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	return deps.Mongodb.Client.Ping(ctx, nil)
}

func enableCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}

	c.Next()
}

func getStatus(b bool) string {
	if b {
		return "connected"
	}
	return "disconnected"
}
