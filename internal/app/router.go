package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesync/internal/handler"
	"ridesync/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	SessionHandler *handler.SessionHandler
	RideHandler    *handler.RideHandler
	StreamHandler  *handler.StreamHandler
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
	JWTSecret      string
	Logger         logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if deps.Logger != nil {
		router.Use(middleware.RequestLogger(deps.Logger))
	}
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 routes, all scoped to the authenticated user.
	v1 := router.Group("/v1")
	v1.Use(middleware.SessionAuth(deps.JWTSecret))
	v1.Use(middleware.Idempotency(deps.RedisClient, deps.Logger))
	{
		// Session routes.
		session := v1.Group("/session")
		{
			session.GET("", deps.SessionHandler.Get)
			session.GET("/stream", deps.StreamHandler.Stream)
			session.POST("/online", deps.SessionHandler.SetOnline)
			session.POST("/driver-status", deps.SessionHandler.SetDriverStatus)
			session.POST("/location", deps.SessionHandler.PublishLocation)
			session.POST("/logout", deps.SessionHandler.Logout)
		}

		// Ride routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.RequestRide)
			rides.GET("/history", deps.RideHandler.History)
			rides.GET("/available", deps.RideHandler.Available)
			rides.GET("/current/auth", deps.RideHandler.AuthInfo)
			rides.GET("/current/wait-fee", deps.RideHandler.WaitFee)
			rides.GET("/current/penalty", deps.RideHandler.Penalty)
			rides.POST("/:kind/:id/accept", deps.RideHandler.AcceptRide)
			rides.POST("/:kind/:id/status", deps.RideHandler.UpdateStatus)
			rides.POST("/:kind/:id/cancel", deps.RideHandler.CancelRide)
			rides.POST("/:kind/:id/stops", deps.RideHandler.AddStop)
			rides.POST("/:kind/:id/dismiss", deps.RideHandler.DismissRide)
		}
	}

	return router
}
