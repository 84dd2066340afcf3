package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/apoorv-echos11/polling-app/internal/config"
	"github.com/apoorv-echos11/polling-app/internal/poll"
	"github.com/apoorv-echos11/polling-app/internal/ws"
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, service *poll.Service, hub *ws.Hub, cfg config.Config) {

	// --- Dependencies ---
	env := &Env{Service: service}

	// --- Middleware ---

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())

	// CORS: the configured frontend origin, or everything in local dev.
	corsOrigin := cfg.FrontendURL
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// --- Rate Limiter Setup ---
	// The configured window/max pair becomes a token bucket with the same
	// steady-state throughput.
	rps := rate.Limit(float64(cfg.RateLimitMax) / cfg.RateLimitWindow.Seconds())
	limiter := NewIPRateLimiter(rps, cfg.RateLimitMax)
	go limiter.Cleanup(10 * time.Minute)

	// --- API Routes ---

	api := router.Group("/api")
	api.Use(RateLimitMiddleware(limiter))
	{
		api.GET("/health", env.Health)
		api.GET("/active-poll", env.ActivePoll)

		api.POST("/polls", env.CreatePoll)
		api.GET("/polls/:pollId", env.GetPoll)
		api.GET("/polls/:pollId/admin/:adminToken", env.GetAdminPoll)
		api.PUT("/polls/:pollId", env.UpdatePoll)
		api.POST("/polls/:pollId/activate", env.ActivatePoll)
		api.POST("/polls/:pollId/clear-results", env.ClearResults)
		api.GET("/polls/:pollId/results", env.GetResults)

		api.POST("/admin/verify", env.VerifyAdmin)
		api.GET("/admin/polls", env.ListPolls)
		api.DELETE("/admin/polls/:pollId", env.DeletePoll)
		api.DELETE("/admin/polls", env.DeleteAllPolls)
	}

	// --- WebSocket Route ---

	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(hub, service, c.Writer, c.Request)
	})
}
