package httpt

import (
	"eventdelivery/internal/service"
	"eventdelivery/internal/transport/amqp"
	"eventdelivery/internal/transport/sender"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/logger"
)

type DeliveryHandler struct {
	dispatcher   *service.Dispatcher
	orchestrator *service.Orchestrator
	events       *amqp.EventPublisher
	hub          *sender.PushHub
	log          logger.Logger
	router       *gin.Engine
}

func NewDeliveryHandler(
	dispatcher *service.Dispatcher,
	orchestrator *service.Orchestrator,
	events *amqp.EventPublisher,
	hub *sender.PushHub,
	log logger.Logger,
) *DeliveryHandler {
	h := &DeliveryHandler{
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		events:       events,
		hub:          hub,
		log:          log,
	}

	router := gin.New()

	router.Use(h.requestIDMiddleware())
	router.Use(h.loggingMiddleware())
	router.Use(gin.Recovery())

	h.router = router

	h.setupRoutes()

	return h
}

func (h *DeliveryHandler) Engine() *gin.Engine {
	return h.router
}
