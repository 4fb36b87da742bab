package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/ptc-library/notifier/internal/api/handlers/notify"
	"github.com/ptc-library/notifier/internal/middlewares"
)

// New builds the API router. Everything under /api is gated by the shared
// admin password; the health endpoint is open for probes.
func New(handler *notify.Handler, adminPassword string) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	e.GET("/healthz", func(c *ginext.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := e.Group("/api")
	api.Use(middlewares.AdminAuth(adminPassword))
	{
		api.GET("/loans", handler.GetLoans)

		n := api.Group("/notify")
		{
			n.GET("/summary", handler.GetSummary)
			n.GET("/status", handler.GetGatewayStatus)
			n.POST("/user", handler.SendToUser)
			n.POST("/group", handler.SendToGroup)
			n.POST("/broadcast/new-book", handler.BroadcastNewBook)
			n.POST("/bulk", handler.RunBulk)
		}

		api.GET("/templates/:type", handler.GetTemplate)
		api.PUT("/templates/:type", handler.SaveTemplate)
	}

	return e
}
