package router

import (
	"github.com/gin-gonic/gin"

	"chartfeed.com/internal/feedgateway/handler"
)

func Datafeed(api *gin.RouterGroup, h *handler.Datafeed) {
	api.GET("/config", h.Config)
	api.GET("/search", h.Search)
	api.GET("/symbols", h.Symbol)
	api.GET("/history", h.History)
	api.DELETE("/universe/cache", h.InvalidateUniverse)
	api.GET("/live", h.Live)
}
