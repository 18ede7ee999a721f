package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "coach-service/docs"
	"coach-service/internal/api/handlers"
	"coach-service/internal/api/middleware"
	"coach-service/internal/services"
	"coach-service/internal/websocket"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Hub           *websocket.Hub
	Upgrader      *gws.Upgrader
	Auth          *services.AuthService
	Sessions      *services.SessionService
	Invoices      *services.InvoiceService
	Conversations *services.ConversationService
	Presence      handlers.PresenceReader
	RateLimiter   middleware.RateLimiter
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// HealthCheck backs /healthz. Nil always reports healthy.
	HealthCheck func(ctx context.Context) error
}

type Options struct {
	AllowedOrigins   []string
	RequireWSToken   bool
	RateLimitRequest int
	RateLimitWindow  time.Duration
}

type Router struct {
	engine              *gin.Engine
	deps                Dependencies
	opts                Options
	wsHandler           *handlers.WSHandler
	authHandler         *handlers.AuthHandler
	sessionHandler      *handlers.SessionHandler
	invoiceHandler      *handlers.InvoiceHandler
	conversationHandler *handlers.ConversationHandler
	presenceHandler     *handlers.PresenceHandler
	rateLimitMW         *middleware.RateLimitMiddleware
	authMW              *middleware.AuthMiddleware
}

func NewRouter(deps Dependencies, opts Options) *Router {
	if opts.RateLimitRequest <= 0 {
		opts.RateLimitRequest = 120
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(opts.AllowedOrigins))
	engine.Use(middleware.LogApi())

	r := &Router{
		engine:              engine,
		deps:                deps,
		opts:                opts,
		wsHandler:           handlers.NewWSHandler(deps.Hub, deps.Upgrader, deps.Auth, opts.RequireWSToken),
		authHandler:         handlers.NewAuthHandler(deps.Auth),
		sessionHandler:      handlers.NewSessionHandler(deps.Sessions),
		invoiceHandler:      handlers.NewInvoiceHandler(deps.Invoices),
		conversationHandler: handlers.NewConversationHandler(deps.Conversations),
		presenceHandler:     handlers.NewPresenceHandler(deps.Presence),
		rateLimitMW:         middleware.NewRateLimitMiddleware(deps.RateLimiter),
		authMW:              middleware.NewAuthMiddleware(deps.Auth),
	}
	r.SetupRoutes()
	return r
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthz)
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if r.deps.Gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.engine.Group("/api/v1")

	// Browsers cannot set headers on the upgrade request; the token travels
	// in the query string and is verified by the handler.
	api.GET("/ws", r.wsHandler.HandleWebSocket)

	limit := r.rateLimitMW.RateLimit(r.opts.RateLimitRequest, r.opts.RateLimitWindow)

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth(), limit)
	{
		auth.GET("/users/me", r.authHandler.Profile)

		sessions := auth.Group("/sessions")
		{
			sessions.GET("", r.sessionHandler.ListSessions)
			sessions.POST("", r.sessionHandler.CreateSession)
			sessions.GET("/:id", r.sessionHandler.GetSession)
			sessions.PUT("/:id", r.sessionHandler.UpdateSession)
			sessions.DELETE("/:id", r.sessionHandler.DeleteSession)
		}

		invoices := auth.Group("/invoices")
		{
			invoices.GET("", r.invoiceHandler.ListInvoices)
			invoices.POST("", r.invoiceHandler.CreateInvoice)
			invoices.GET("/:id", r.invoiceHandler.GetInvoice)
			invoices.PUT("/:id", r.invoiceHandler.UpdateInvoice)
			invoices.DELETE("/:id", r.invoiceHandler.DeleteInvoice)
			invoices.POST("/:id/document", r.invoiceHandler.UploadInvoiceDocument)
		}

		conversations := auth.Group("/conversations")
		{
			conversations.GET("", r.conversationHandler.ListConversations)
			conversations.POST("", r.conversationHandler.OpenConversation)
			conversations.GET("/:id/messages", r.conversationHandler.ListMessages)
			conversations.POST("/:id/messages", r.conversationHandler.SendMessage)
			conversations.DELETE("/:id/messages/:messageId", r.conversationHandler.DeleteMessage)
		}

		auth.GET("/presence/:userId", r.presenceHandler.GetPresence)
	}

	// Public routes (no authentication required)
	authRoutes := api.Group("/auth")
	authRoutes.Use(r.rateLimitMW.RateLimitIP(50, time.Minute))
	{
		authRoutes.POST("/register", r.authHandler.Register)
		authRoutes.POST("/login", r.authHandler.Login)
	}
}

func (r *Router) healthz(c *gin.Context) {
	if r.deps.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.deps.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": r.deps.Hub.ConnectionCount(),
	})
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
