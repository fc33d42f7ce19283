package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"tgflix/internal/handlers"
	"tgflix/internal/metrics"
	"tgflix/internal/middleware"
)

type Options struct {
	Swagger bool
	// WebhookSecret пустой — вебхук не публикуем.
	WebhookSecret string
}

func SetupRoutes(
	r *gin.Engine,
	gateHandler *handlers.GateHandler,
	botHandler *handlers.BotHandler, // nil в режиме только гейта
	opts Options,
) *gin.Engine {
	r.Use(metrics.Middleware())

	// ---- service
	r.GET("/healthz", handlers.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// ---- gate
	if gateHandler != nil {
		r.GET("/gate", gateHandler.Page)
		verify := r.Group("/verify")
		{
			verify.GET("/:id", gateHandler.KnownTicket, middleware.RequirePass(gateHandler.Secret(), gateHandler.Now), gateHandler.Redirect)
			verify.POST("/:id", gateHandler.KnownTicket, gateHandler.Captcha)
		}
	}

	// ---- telegram
	if botHandler != nil && opts.WebhookSecret != "" {
		r.POST("/telegram/webhook/:secret", middleware.WebhookSecret(opts.WebhookSecret), botHandler.Webhook)
	}

	return r
}
