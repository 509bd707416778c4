package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/auth"
	"github.com/vovakirdan/taskchat/internal/broker"
	"github.com/vovakirdan/taskchat/internal/config"
	"github.com/vovakirdan/taskchat/internal/store"
)

// NewServer builds the HTTP server: health check, the broker WebSocket endpoint and the REST API.
// /ws is served outside gin because gin refuses to hijack a connection once the upgrade
// response has been written.
func NewServer(b *broker.Broker, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	userHandlers := NewUserHandlers(st, b.Registry(), logger)
	messageHandlers := NewMessageHandlers(st, logger)

	api := router.Group("/api")
	api.POST("/login", RateLimitMiddleware(newRateLimiter(cfg.LoginRateLimit), logger), apiHandlers.Login)
	api.GET("/online", userHandlers.Online)

	protected := api.Group("")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/me", apiHandlers.Me)
	protected.GET("/admins", userHandlers.Admins)
	protected.GET("/messages", messageHandlers.History)
	protected.POST("/messages", messageHandlers.Archive)
	protected.POST("/messages/read", messageHandlers.MarkRead)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", b)
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
