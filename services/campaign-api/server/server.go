package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmcampos/zapblast/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/campaigns", h.CreateCampaign)
	r.GET("/campaigns", h.ListCampaigns)
	r.GET("/campaigns/:id", h.GetCampaign)
	r.POST("/campaigns/:id/start", h.StartCampaign)
	r.POST("/campaigns/:id/pause", h.PauseCampaign)
	r.POST("/campaigns/:id/resume", h.ResumeCampaign)
	r.POST("/campaigns/:id/cancel", h.CancelCampaign)
	r.GET("/campaigns/:id/preview/:contact_id", h.PreviewCampaign)

	r.POST("/templates/check", h.CheckTemplate)

	r.GET("/activity", h.RecentActivity)
	r.GET("/activity/log", h.ActivityLog)
	r.GET("/notifications", h.Notifications)
	r.POST("/notifications/read", h.MarkNotificationsRead)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
