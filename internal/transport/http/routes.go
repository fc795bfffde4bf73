package httpt

import (
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Event Delivery API
// @version         1.0
// @description     Outbound delivery: signed webhooks and user notifications
// @host            localhost:8080
// @BasePath        /
func (h *DeliveryHandler) setupRoutes() {
	h.router.GET("/health", h.health)

	h.router.POST("/webhooks", h.registerWebhook)
	h.router.GET("/webhooks/:id", h.getWebhook)
	h.router.PATCH("/webhooks/:id", h.updateWebhook)
	h.router.DELETE("/webhooks/:id", h.deleteWebhook)
	h.router.POST("/webhooks/:id/test", h.testWebhook)

	h.router.POST("/events", h.emitEvent)
	h.router.POST("/notifications", h.sendNotification)

	h.router.POST("/tasks/process-queue", h.processQueue)
	h.router.POST("/tasks/sweep", h.sweepDeadLetters)
	h.router.POST("/tasks/flush-digests", h.flushDigests)

	h.router.GET("/ws", h.pushSocket)

	h.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
