package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"raidbot/cmd/middleware"
	"raidbot/internal/service"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.POST("/events", r.Service.CreateEvent)
	apiGroup.GET("/events", r.Service.GetAllEvents)
	apiGroup.GET("/events/:id", r.Service.GetInfo)

	apiGroup.POST("/events/:id/register", r.Service.Register)
	apiGroup.POST("/events/:id/unregister", r.Service.Unregister)

	apiGroup.POST("/events/:id/publish", r.Service.PublishEvent)
	apiGroup.POST("/events/:id/lock", r.Service.Lock)
	apiGroup.POST("/events/:id/unlock", r.Service.Unlock)
	apiGroup.POST("/events/:id/complete", r.Service.Complete)
	apiGroup.POST("/events/:id/cancel", r.Service.Cancel)

	app.GET("/health", r.Service.Health)

	return app
}
