package httpt

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"eventdelivery/internal/entity"
	"eventdelivery/internal/transport/amqp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"
)

const (
	_defaultContextTimeout = 2 * time.Second
	_taskContextTimeout    = 5 * time.Minute
)

// @Summary Register a webhook endpoint
// @Description Creates a subscription and returns the signing secret; the secret is shown exactly once.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body httpt.RegisterWebhookRequest true "Registration"
// @Success 201 {object} httpt.RegisterWebhookResponse
// @Failure 400 {object} httpt.ErrorResponse
// @Failure 500 {object} httpt.ErrorResponse
// @Router /webhooks [post]
func (h *DeliveryHandler) registerWebhook(c *gin.Context) {
	const op = "transport.http.registerWebhook"

	var req RegisterWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_body", "Invalid request body", err)
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		h.handleInvalidUUID(c, op, req.OrganizationID)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	sub, err := h.dispatcher.Register(ctx, orgID, req.URL, req.Events)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	c.JSON(http.StatusCreated, RegisterWebhookResponse{
		ID:             sub.ID.String(),
		OrganizationID: sub.OrganizationID.String(),
		URL:            sub.URL,
		Events:         sub.Events,
		Secret:         sub.Secret,
		Active:         sub.Active,
		CreatedAt:      sub.CreatedAt,
	})
}

func (h *DeliveryHandler) getWebhook(c *gin.Context) {
	const op = "transport.http.getWebhook"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.handleInvalidUUID(c, op, c.Param("id"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	sub, err := h.dispatcher.GetSubscription(ctx, id)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *DeliveryHandler) updateWebhook(c *gin.Context) {
	const op = "transport.http.updateWebhook"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.handleInvalidUUID(c, op, c.Param("id"))
		return
	}

	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_body", "Invalid request body", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	patch := entity.SubscriptionPatch{URL: req.URL, Events: req.Events, Active: req.Active}
	if err := h.dispatcher.UpdateSubscription(ctx, id, patch); err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription updated"})
}

func (h *DeliveryHandler) deleteWebhook(c *gin.Context) {
	const op = "transport.http.deleteWebhook"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.handleInvalidUUID(c, op, c.Param("id"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	if err := h.dispatcher.DeactivateSubscription(ctx, id); err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription deactivated"})
}

func (h *DeliveryHandler) testWebhook(c *gin.Context) {
	const op = "transport.http.testWebhook"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.handleInvalidUUID(c, op, c.Param("id"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	attempt, err := h.dispatcher.SendTest(ctx, id)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusAccepted, attempt)
}

func (h *DeliveryHandler) emitEvent(c *gin.Context) {
	const op = "transport.http.emitEvent"

	var req EmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_body", "Invalid request body", err)
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		h.handleInvalidUUID(c, op, req.OrganizationID)
		return
	}

	data, err := json.Marshal(req.Data)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_body", "Invalid event data", err)
		return
	}

	event := amqp.DomainEvent{OrganizationID: orgID, Event: req.Event, Data: data}
	if req.Notify != nil {
		userID, parseErr := uuid.Parse(req.Notify.UserID)
		if parseErr != nil {
			h.handleInvalidUUID(c, op, req.Notify.UserID)
			return
		}
		event.Notify = &amqp.NotifyIntent{
			UserID:    userID,
			Type:      req.Notify.Type,
			Priority:  entity.Priority(req.Notify.Priority),
			Category:  req.Notify.Category,
			Message:   req.Notify.Message,
			Data:      req.Notify.Data,
			ActionURL: req.Notify.ActionURL,
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	if err := h.events.Publish(ctx, event); err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "event accepted"})
}

// @Summary Send a notification
// @Description Routes one notification intent through dedup, preferences, quiet hours and digest gating.
// @Tags Notifications
// @Accept json
// @Produce json
// @Param request body httpt.NotifyRequest true "Notification intent"
// @Success 200 {object} entity.SendResult
// @Failure 400 {object} httpt.ErrorResponse
// @Failure 500 {object} httpt.ErrorResponse
// @Router /notifications [post]
func (h *DeliveryHandler) sendNotification(c *gin.Context) {
	const op = "transport.http.sendNotification"

	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_body", "Invalid request body", err)
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		h.handleInvalidUUID(c, op, req.OrganizationID)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.handleInvalidUUID(c, op, req.UserID)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _taskContextTimeout)
	defer cancel()

	result, err := h.orchestrator.SendNotification(ctx, entity.NotificationPayload{
		OrganizationID: orgID,
		UserID:         userID,
		Type:           req.Type,
		Priority:       entity.Priority(req.Priority),
		Category:       req.Category,
		Message:        req.Message,
		Data:           req.Data,
		ActionURL:      req.ActionURL,
	})
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Task triggers: invoked by the external scheduler, not self-scheduling.

func (h *DeliveryHandler) processQueue(c *gin.Context) {
	const op = "transport.http.processQueue"

	ctx, cancel := context.WithTimeout(c.Request.Context(), _taskContextTimeout)
	defer cancel()

	stats, err := h.dispatcher.ProcessQueue(ctx)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, TaskStatsResponse{
		Processed: stats.Processed,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Duration:  stats.Duration.String(),
	})
}

func (h *DeliveryHandler) sweepDeadLetters(c *gin.Context) {
	const op = "transport.http.sweepDeadLetters"

	ctx, cancel := context.WithTimeout(c.Request.Context(), _taskContextTimeout)
	defer cancel()

	swept, err := h.dispatcher.SweepDeadLetters(ctx)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": swept})
}

func (h *DeliveryHandler) flushDigests(c *gin.Context) {
	const op = "transport.http.flushDigests"

	ctx, cancel := context.WithTimeout(c.Request.Context(), _taskContextTimeout)
	defer cancel()

	stats, err := h.orchestrator.FlushDigests(ctx)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"flushed":  stats.Flushed,
		"dropped":  stats.Dropped,
		"duration": stats.Duration.String(),
	})
}

func (h *DeliveryHandler) pushSocket(c *gin.Context) {
	const op = "transport.http.pushSocket"

	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		h.handleInvalidUUID(c, op, c.Query("user_id"))
		return
	}

	if err := h.hub.Subscribe(c.Writer, c.Request, userID); err != nil {
		h.log.Ctx(c.Request.Context()).LogAttrs(c.Request.Context(), logger.WarnLevel, "push socket failed",
			logger.String("op", op),
			logger.Any("error", err),
		)
	}
}

func (h *DeliveryHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
