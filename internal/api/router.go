package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/api/handler"
	"github.com/qs3c/gen_go_server/internal/api/middleware"
	"github.com/qs3c/gen_go_server/internal/service"
)

type Router struct {
	generationHandler *handler.GenerationHandler
	accountHandler    *handler.AccountHandler
	providersHandler  *handler.ProvidersHandler
	websocketHandler  *handler.WebSocketHandler
	ledgerService     *service.LedgerService
	cfg               *config.Config
}

func NewRouter(
	generationHandler *handler.GenerationHandler,
	accountHandler *handler.AccountHandler,
	providersHandler *handler.ProvidersHandler,
	websocketHandler *handler.WebSocketHandler,
	ledgerService *service.LedgerService,
	cfg *config.Config,
) *Router {
	return &Router{
		generationHandler: generationHandler,
		accountHandler:    accountHandler,
		providersHandler:  providersHandler,
		websocketHandler:  websocketHandler,
		ledgerService:     ledgerService,
		cfg:               cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := engine.Group("/api/v1")
	{
		// WebSocket 通过 query 携带令牌
		api.GET("/ws", r.websocketHandler.Handle)

		api.GET("/providers/health", r.providersHandler.Health)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		authenticated.Use(middleware.RequireAccount(r.ledgerService))
		{
			generations := authenticated.Group("/generations")
			{
				generations.POST("", r.generationHandler.Submit)
				generations.GET("", r.generationHandler.List)
				generations.GET("/:id", r.generationHandler.Get)
				generations.POST("/:id/billing-retry", r.generationHandler.RetryBilling)
			}

			account := authenticated.Group("/account")
			{
				account.GET("/balance", r.accountHandler.Balance)
				account.GET("/ledger", r.accountHandler.Ledger)
			}
		}
	}

	return engine
}
