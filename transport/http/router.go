package http

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter sets up the Gin router
func SetupRouter(handlers *Handlers, apiKey string) *gin.Engine {
	router := gin.Default()
	router.Use(APIKeyMiddleware(apiKey))

	router.POST("/navigation", handlers.Navigation)

	api := router.Group("/api")
	{
		api.GET("/sites", handlers.ListSites)
		api.POST("/sites", handlers.AddSite)
		api.POST("/sites/:site/removal", handlers.RequestRemoval)
		api.POST("/sites/:site/removal/confirm", handlers.ConfirmRemoval)

		api.GET("/guardian", handlers.Guardian)
		api.PUT("/guardian", handlers.SetGuardian)
		api.GET("/wallet", handlers.Wallet)
		api.PUT("/wallet", handlers.SetWallet)

		api.GET("/streak", handlers.Streak)
		api.POST("/streak/start", handlers.StartStreak)

		api.GET("/events", handlers.Events)
	}

	return router
}
